package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kverner/dialdeck/internal/config"
	"github.com/kverner/dialdeck/internal/dial"
	"github.com/kverner/dialdeck/internal/logging"
	"github.com/kverner/dialdeck/internal/server"
)

var (
	serialPort        string
	storePath         string
	host              string
	port              int
	logLevel          string
	instance          string
	noAnnounce        bool
	reconcileInterval time.Duration
	skipDiscover      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the hub and start the API server",
	Long: `Connect to the hub's serial port, run a full discovery pass and start
the JSON API and WebSocket event stream.

Without --serial-port the hub is auto-detected by its USB identifiers.
The daemon announces itself as a _dialdeck._tcp mDNS service unless
--no-announce is given.`,
	Example: `  # Auto-detect the hub and serve on the default port
  dialdeckd serve

  # Pin the serial port and enable debug logging
  dialdeckd serve --serial-port /dev/ttyUSB0 --log-level debug

  # Serve on loopback only with periodic identity checks
  dialdeckd serve --host 127.0.0.1 --reconcile 30s`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serialPort, "serial-port", "", "Hub serial port (auto-detected if not specified)")
	serveCmd.Flags().StringVar(&storePath, "store", "", "Dial metadata file (defaults to the per-user data directory)")
	serveCmd.Flags().StringVar(&host, "host", "", "Listen host (empty = all interfaces)")
	serveCmd.Flags().IntVar(&port, "port", 5340, "Listen port")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&instance, "instance", "", "mDNS instance name (defaults to the hostname)")
	serveCmd.Flags().BoolVar(&noAnnounce, "no-announce", false, "Disable the mDNS announcement")
	serveCmd.Flags().DurationVar(&reconcileInterval, "reconcile", 0, "Interval for periodic UID identity checks (0 = disabled)")
	serveCmd.Flags().BoolVar(&skipDiscover, "skip-discover", false, "Do not run discovery on startup (use POST /api/v0/discover later)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := logging.Initialize(logLevel); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	path := storePath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to resolve metadata path: %w", err)
		}
	}
	store, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load dial metadata: %w", err)
	}
	logging.Info("Loaded dial metadata", zap.String("path", path))

	var opts []dial.Option
	if serialPort != "" {
		opts = append(opts, dial.WithPort(serialPort))
	}
	ctrl := dial.New(store, opts...)

	if err := ctrl.Connect(); err != nil {
		return fmt.Errorf("failed to connect to hub: %w", err)
	}
	defer func() { _ = ctrl.Close() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if !skipDiscover {
		if err := ctrl.Discover(ctx); err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		logging.Info("Discovery complete", zap.Int("dials", len(ctrl.Devices())))
	}

	if reconcileInterval > 0 {
		go dial.NewReconciler(ctrl, reconcileInterval).Run(ctx)
	}

	srv := server.New(&server.Config{
		Host:     host,
		Port:     port,
		Announce: !noAnnounce,
		Instance: instance,
	}, ctrl)

	return srv.Start()
}
