package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/dial"
	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/version"
)

const (
	// ServiceType is the mDNS service type the daemon announces under
	ServiceType = "_dialdeck._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	shutdownTimeout = 10 * time.Second
)

// Config holds the daemon configuration
type Config struct {
	Host     string // empty = all interfaces
	Port     int
	Announce bool   // register the mDNS service
	Instance string // mDNS instance name; defaults to the hostname
}

// Server serves a Controller over HTTP
type Server struct {
	config    *Config
	ctrl      *dial.Controller
	httpSrv   *http.Server
	announcer *zeroconf.Server
}

// New creates a Server over an already-created Controller. The caller
// owns the Controller's lifecycle; Shutdown does not Close it.
func New(config *Config, ctrl *dial.Controller) *Server {
	s := &Server{
		config: config,
		ctrl:   ctrl,
	}
	s.httpSrv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start listens and blocks until a shutdown signal or a listener error
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	logging.Info("Starting dialdeck API server",
		zap.String("addr", addr),
		zap.String("version", version.Version),
	)

	if s.config.Announce {
		port := listener.Addr().(*net.TCPAddr).Port
		if err := s.announce(port); err != nil {
			// Announcement is best effort; the API still works without it
			logging.Warn("mDNS announcement failed", zap.Error(err))
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpSrv.Serve(listener)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(ctx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops announcing and drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	if s.announcer != nil {
		s.announcer.Shutdown()
		s.announcer = nil
	}

	err := s.httpSrv.Shutdown(ctx)
	if err != nil {
		logging.Error("Error during HTTP shutdown", zap.Error(err))
	}

	logging.Sync()
	return err
}

// announce registers the daemon as a _dialdeck._tcp service so other
// hosts on the LAN can find it without configuration
func (s *Server) announce(port int) error {
	instance := s.config.Instance
	if instance == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "dialdeck"
		}
		instance = hostname
	}

	txt := []string{
		"version=" + version.Version,
		"api=v0",
	}

	announcer, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.announcer = announcer

	logging.Info("Announcing service via mDNS",
		zap.String("instance", instance),
		zap.String("type", ServiceType),
		zap.Int("port", port),
	)
	return nil
}
