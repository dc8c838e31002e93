package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kverner/dialdeck/internal/discovery"
)

var (
	scanTimeout time.Duration
	scanFirst   bool
)

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find running dialdeck daemons on the local network",
	Long: `Browse mDNS for dialdeck daemons and print each one found.

Useful when the hub is attached to another machine (a headless Pi, say)
and you need its API address.`,
	Example: `  # Scan with the default timeout
  dialdeckd find

  # Wait longer on a sleepy network
  dialdeckd find --timeout 15s

  # Stop at the first answer, for scripting against a single hub
  dialdeckd find --first`,
	RunE: runFind,
}

func init() {
	findCmd.Flags().DurationVar(&scanTimeout, "timeout", discovery.DefaultScanTimeout, "How long to wait for announcements")
	findCmd.Flags().BoolVar(&scanFirst, "first", false, "Print the first daemon to answer and stop")
	rootCmd.AddCommand(findCmd)
}

func runFind(cmd *cobra.Command, args []string) error {
	if scanFirst {
		scanner := discovery.NewScanner()
		scanner.Timeout = scanTimeout
		daemon, err := scanner.FindFirst(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(daemon.BaseURL())
		return nil
	}

	fmt.Printf("Scanning for dialdeck daemons (%s)...\n", scanTimeout)

	daemons, err := discovery.Scan(scanTimeout)
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(daemons) == 0 {
		fmt.Println("No daemons found.")
		return nil
	}

	sort.Slice(daemons, func(i, j int) bool {
		return daemons[i].Instance < daemons[j].Instance
	})

	fmt.Printf("Found %d daemon(s):\n", len(daemons))
	for _, d := range daemons {
		fmt.Printf("  %s\n    %s\n", d, d.BaseURL())
	}
	return nil
}
