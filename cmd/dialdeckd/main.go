// Dialdeckd is the daemon for a dialdeck hub of analog gauge dials.
//
// It opens the hub's USB serial port, discovers and provisions every dial
// on the internal bus, and serves a local JSON API plus a WebSocket event
// stream so dashboards and scripts can drive the dials by their stable
// UIDs.
//
// Usage:
//
//	dialdeckd serve [flags]
//
// See 'dialdeckd serve --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kverner/dialdeck/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dialdeckd",
	Short: "Dialdeck Hub Daemon",
	Long: `The daemon for a dialdeck hub of USB-attached analog gauge dials.

Dials are addressed by their permanent 12-byte UIDs; the daemon handles
bus discovery and provisioning so the volatile runtime indices never leak
into the API. Names, easing and calibration are persisted per UID and
pushed back to each dial after every power cycle.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dialdeckd %s (commit: %s)\n", version.Version, version.Commit)
	},
}
