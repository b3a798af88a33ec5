package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"classlink/internal/wire"
)

// Announcer broadcasts a fixed discovery packet on an interval. It plays the
// teacher side for development and tests.
type Announcer struct {
	conn     net.PacketConn
	dst      net.Addr
	packet   []byte
	interval time.Duration
	logger   *slog.Logger
}

// NewAnnouncer encodes server once; conn must be able to reach dst.
func NewAnnouncer(conn net.PacketConn, dst net.Addr, server wire.DiscoveredServer, interval time.Duration, logger *slog.Logger) (*Announcer, error) {
	packet, err := wire.EncodeDiscovery(server)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{conn: conn, dst: dst, packet: packet, interval: interval, logger: logger}, nil
}

// BroadcastAddr is the limited broadcast address on port.
func BroadcastAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4bcast, Port: port}
}

// Run sends one packet immediately and then every interval until ctx ends
// or count packets have gone out. count <= 0 means no limit.
func (a *Announcer) Run(ctx context.Context, count int) (int, error) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	sent := 0
	for {
		if _, err := a.conn.WriteTo(a.packet, a.dst); err != nil {
			return sent, fmt.Errorf("failed to send discovery packet: %w", err)
		}
		sent++
		a.logger.Debug("discovery_announced", "dst", a.dst.String(), "count", sent)

		if count > 0 && sent >= count {
			return sent, nil
		}

		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
}
