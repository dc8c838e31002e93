// Package transport owns the serial channel to the Dialdeck hub.
//
// The hub enumerates as a USB CDC serial device. This package finds it
// (candidate-port enumeration plus a handshake probe, or an explicit path),
// opens it, and exchanges one frame at a time over it. A mutex serializes
// every caller: there is never more than one request in flight on the wire,
// regardless of how many goroutines are issuing commands.
//
// # Receive path
//
// Responses are accumulated by an explicit state machine (awaiting-start,
// header, payload). Completion is decided by the length field declared in
// the header, never by a line terminator, so framing stays correct even when
// the hub's terminator discipline is not. Bytes preceding the response
// marker are discarded.
//
// # Timeouts
//
// Each Exchange call carries its own deadline. The three operation classes
// have very different latencies on the far side of the hub: I2C reads are
// fast, I2C writes need the write-plus-acknowledge round trip (about five
// times slower), and display transfers are slower still because the e-paper
// panel refresh is on the order of seconds. Use QueryTimeout, WriteTimeout
// and DisplayTimeout respectively; a slow display exchange is not a fault.
//
// A consecutive-timeout counter is kept for diagnostics and reset on every
// successful exchange.
package transport
