package command

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"classlink/internal/discovery"
	"classlink/internal/wire"
)

var (
	announceHost     string
	announceHTTPPort uint16
	announceTCPPort  uint16
	announceInterval time.Duration
	announceCount    int
	announceTarget   string
)

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Broadcast discovery packets as a teacher server would",
	Long: `Development aid: send the 9-byte discovery packet for the given host and
ports to the broadcast address on DISCOVERY_PORT until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var dst net.Addr = discovery.BroadcastAddr(cfg.DiscoveryPort)
		if announceTarget != "" {
			addr, err := net.ResolveUDPAddr("udp4", announceTarget)
			if err != nil {
				return fmt.Errorf("invalid --target: %w", err)
			}
			dst = addr
		}

		conn, err := net.ListenPacket("udp4", ":0")
		if err != nil {
			return fmt.Errorf("failed to open UDP socket: %w", err)
		}
		defer conn.Close()

		server := wire.DiscoveredServer{Host: announceHost, HTTPPort: announceHTTPPort, TCPPort: announceTCPPort}
		announcer, err := discovery.NewAnnouncer(conn, dst, server, announceInterval, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case <-sigChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		color.Cyan("Announcing %s (http %d, tcp %d) to %s every %s", server.Host, server.HTTPPort, server.TCPPort, dst, announceInterval)
		sent, err := announcer.Run(ctx, announceCount)
		fmt.Printf("Sent %d packets\n", sent)
		return err
	},
}

func init() {
	announceCmd.Flags().StringVar(&announceHost, "host", "", "IPv4 address to announce")
	announceCmd.Flags().Uint16Var(&announceHTTPPort, "http-port", 8080, "HTTP port to announce")
	announceCmd.Flags().Uint16Var(&announceTCPPort, "tcp-port", 9090, "TCP port to announce")
	announceCmd.Flags().DurationVar(&announceInterval, "interval", time.Second, "time between packets")
	announceCmd.Flags().IntVar(&announceCount, "count", 0, "stop after this many packets (0 = until interrupted)")
	announceCmd.Flags().StringVar(&announceTarget, "target", "", "unicast host:port instead of the broadcast address")
	announceCmd.MarkFlagRequired("host")
	rootCmd.AddCommand(announceCmd)
}
