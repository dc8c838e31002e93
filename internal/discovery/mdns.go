package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type dialdeck daemons announce
	ServiceType = "_dialdeck._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for daemon discovery
	DefaultScanTimeout = 5 * time.Second
)

// Scanner browses mDNS for dialdeck daemons
type Scanner struct {
	// Timeout is the maximum time to wait for announcements
	Timeout time.Duration
}

// NewScanner creates a Scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// Scan discovers all dialdeck daemons on the local network
func (s *Scanner) Scan() ([]*Daemon, error) {
	return s.ScanWithContext(context.Background())
}

// ScanWithContext discovers daemons with a custom context
func (s *Scanner) ScanWithContext(ctx context.Context) ([]*Daemon, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	daemons := make([]*Daemon, 0)
	collected := make(chan struct{})

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		defer close(collected)
		for entry := range entries {
			if daemon := s.parseServiceEntry(entry); daemon != nil {
				daemons = append(daemons, daemon)
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	<-collected

	return daemons, nil
}

// FindFirst returns the first daemon to answer, or an error on timeout.
// Useful for single-hub households where any answer is the right one.
func (s *Scanner) FindFirst(ctx context.Context) (*Daemon, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Daemon, 1)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	go func() {
		for entry := range entries {
			if daemon := s.parseServiceEntry(entry); daemon != nil {
				select {
				case found <- daemon:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case daemon := <-found:
		return daemon, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("no dialdeck daemon found within %s", s.Timeout)
	}
}

// parseServiceEntry converts a zeroconf service entry to a Daemon.
// Returns nil for unusable entries (no address, no port).
func (s *Scanner) parseServiceEntry(entry *zeroconf.ServiceEntry) *Daemon {
	// Prefer IPv4
	var ip string
	for _, addr := range entry.AddrIPv4 {
		ip = addr.String()
		break
	}
	if ip == "" && len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	if entry.Port == 0 {
		return nil
	}

	// TXT records are in "key=value" format
	metadata := make(map[string]string)
	for _, txt := range entry.Text {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			metadata[parts[0]] = parts[1]
		} else {
			metadata[parts[0]] = ""
		}
	}

	return &Daemon{
		Instance:     entry.Instance,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         entry.Port,
		Version:      metadata["version"],
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// Scan is a convenience function to scan with a custom timeout
func Scan(timeout time.Duration) ([]*Daemon, error) {
	scanner := NewScanner()
	scanner.Timeout = timeout
	return scanner.Scan()
}
