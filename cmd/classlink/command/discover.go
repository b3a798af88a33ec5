package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"classlink/internal/discovery"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Listen for the teacher server broadcast",
	Long: `Bind the discovery port and wait for one valid broadcast, then print the
announced address. Fails when nothing arrives before --timeout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout := discoverTimeout
		if timeout <= 0 {
			timeout = cfg.DiscoveryTimeout
		}

		svc := discovery.New(discovery.Options{
			Port:           cfg.DiscoveryPort,
			ReceiveTimeout: cfg.DiscoveryReceiveTimeout,
			Logger:         logger,
		})
		defer svc.Stop()

		fmt.Printf("Listening on UDP port %d for up to %s...\n", cfg.DiscoveryPort, timeout)

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		server, err := svc.Await(ctx)
		if err != nil {
			if errors.Is(err, discovery.ErrTimeout) {
				color.Yellow("No teacher server found (state %s)", svc.State())
			}
			return err
		}

		color.Green("Teacher server found")
		fmt.Printf("   Host: %s\n", server.Host)
		fmt.Printf("   HTTP: %s\n", server.HTTPAddr())
		fmt.Printf("   TCP:  %s\n", server.TCPAddr())
		return nil
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 0, "how long to wait (default DISCOVERY_TIMEOUT)")
	rootCmd.AddCommand(discoverCmd)
}
