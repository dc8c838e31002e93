// Package server exposes a running Controller over HTTP for local
// integrations: a JSON API for dial state and commands, a WebSocket
// stream of controller events, and an optional mDNS announcement so
// other tools on the network can find the daemon.
//
// The server is a thin shell: every request resolves to one Controller
// call and the Controller's own concurrency rules apply unchanged. It
// holds no dial state of its own.
//
// Endpoints (all under /api/v0):
//
//	GET  /status                    daemon and hub link status
//	POST /discover                  run a full discovery pass
//	GET  /dials                     snapshot of every known dial
//	GET  /dials/{uid}               snapshot of one dial
//	POST /dials/{uid}/value         {"value": 0-100}
//	POST /dials/{uid}/backlight     {"red","green","blue","white": 0-100}
//	POST /dials/{uid}/name          {"name": "..."}
//	POST /dials/{uid}/calibration   {"zero","full_scale": 0-100}
//	POST /dials/{uid}/easing/dial   {"step","period_ms"}
//	POST /dials/{uid}/easing/backlight
//	POST /dials/{uid}/image         request body is a PNG or JPEG
//	POST /dials/{uid}/power         {"on": bool}
//	POST /dials/{uid}/reset
//	GET  /events                    WebSocket event stream
//
// There is no authentication; the daemon is meant to bind to loopback
// or a trusted LAN, matching how the hub itself trusts its USB host.
package server
