package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// DiscoveryPacketSize is the fixed length of a discovery broadcast.
const DiscoveryPacketSize = 9

// DiscoveredServer is the decoded content of a discovery broadcast.
type DiscoveredServer struct {
	Host     string `json:"host"`
	HTTPPort uint16 `json:"http_port"`
	TCPPort  uint16 `json:"tcp_port"`
}

// HTTPAddr returns host:httpPort.
func (s DiscoveredServer) HTTPAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.HTTPPort)))
}

// TCPAddr returns host:tcpPort.
func (s DiscoveredServer) TCPAddr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.TCPPort)))
}

// DecodeDiscovery parses a 9-byte broadcast:
//
//	[0]    opcode, always 0x00
//	[1:5]  IPv4 address, network byte order
//	[5:7]  HTTP port, little-endian
//	[7:9]  TCP port, little-endian
func DecodeDiscovery(b []byte) (DiscoveredServer, error) {
	if len(b) != DiscoveryPacketSize {
		return DiscoveredServer{}, fmt.Errorf("%w: discovery packet is %d bytes, want %d",
			ErrMalformedMessage, len(b), DiscoveryPacketSize)
	}
	if Opcode(b[0]) != OpDiscovery {
		return DiscoveredServer{}, fmt.Errorf("%w: 0x%02x on discovery channel", ErrUnknownOpcode, b[0])
	}

	host := fmt.Sprintf("%d.%d.%d.%d", b[1], b[2], b[3], b[4])
	return DiscoveredServer{
		Host:     host,
		HTTPPort: binary.LittleEndian.Uint16(b[5:7]),
		TCPPort:  binary.LittleEndian.Uint16(b[7:9]),
	}, nil
}

// EncodeDiscovery builds the broadcast for s. Host must be an IPv4 literal.
func EncodeDiscovery(s DiscoveredServer) ([]byte, error) {
	ip := net.ParseIP(s.Host).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrMalformedMessage, s.Host)
	}

	b := make([]byte, DiscoveryPacketSize)
	b[0] = byte(OpDiscovery)
	copy(b[1:5], ip)
	binary.LittleEndian.PutUint16(b[5:7], s.HTTPPort)
	binary.LittleEndian.PutUint16(b[7:9], s.TCPPort)
	return b, nil
}
