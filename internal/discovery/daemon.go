package discovery

import (
	"fmt"
	"time"
)

// Daemon is one dialdeck daemon found on the network
type Daemon struct {
	// Instance is the mDNS instance name, normally the daemon's hostname
	Instance string

	// Hostname is the mDNS host the service resolved to
	Hostname string

	// IP is the preferred address (IPv4 when available)
	IP string

	// Port is the daemon's API port
	Port int

	// Version is the daemon version from the TXT record, if announced
	Version string

	// Metadata holds all TXT record key/value pairs
	Metadata map[string]string

	// DiscoveredAt is when the announcement was received
	DiscoveredAt time.Time
}

// BaseURL returns the daemon's API base URL
func (d *Daemon) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", d.IP, d.Port)
}

// String returns a human-readable one-line summary
func (d *Daemon) String() string {
	if d.Version != "" {
		return fmt.Sprintf("%s (%s:%d, version %s)", d.Instance, d.IP, d.Port, d.Version)
	}
	return fmt.Sprintf("%s (%s:%d)", d.Instance, d.IP, d.Port)
}
