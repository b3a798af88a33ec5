package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDiscovery_Example(t *testing.T) {
	packet := []byte{0x00, 192, 168, 1, 100, 0x90, 0x1F, 0x82, 0x23}

	server, err := DecodeDiscovery(packet)
	require.NoError(t, err)
	assert.Equal(t, DiscoveredServer{Host: "192.168.1.100", HTTPPort: 8080, TCPPort: 9090}, server)
	assert.Equal(t, "192.168.1.100:8080", server.HTTPAddr())
	assert.Equal(t, "192.168.1.100:9090", server.TCPAddr())
}

func TestDecodeDiscovery_WrongLength(t *testing.T) {
	for _, n := range []int{0, 1, 8, 10, 64} {
		_, err := DecodeDiscovery(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformedMessage, "length %d", n)
	}
}

func TestDecodeDiscovery_UnknownOpcode(t *testing.T) {
	for op := 1; op <= 0xFF; op++ {
		packet := []byte{byte(op), 10, 0, 0, 1, 0, 0, 0, 0}
		_, err := DecodeDiscovery(packet)
		require.ErrorIs(t, err, ErrUnknownOpcode, "opcode 0x%02x", op)
	}
}

func TestEncodeDiscovery_LittleEndianPorts(t *testing.T) {
	packet, err := EncodeDiscovery(DiscoveredServer{Host: "10.0.0.1", HTTPPort: 256, TCPPort: 1})
	require.NoError(t, err)
	require.Len(t, packet, DiscoveryPacketSize)

	assert.Equal(t, byte(0x00), packet[0])
	assert.Equal(t, []byte{10, 0, 0, 1}, packet[1:5])
	assert.Equal(t, byte(0x00), packet[5])
	assert.Equal(t, byte(0x01), packet[6])
	assert.Equal(t, byte(0x01), packet[7])
	assert.Equal(t, byte(0x00), packet[8])
}

func TestEncodeDiscovery_RejectsNonIPv4(t *testing.T) {
	for _, host := range []string{"", "teacher.local", "::1", "300.1.1.1"} {
		_, err := EncodeDiscovery(DiscoveredServer{Host: host})
		assert.ErrorIs(t, err, ErrMalformedMessage, host)
	}
}

func TestDiscovery_RoundTrip(t *testing.T) {
	hosts := []string{"0.0.0.0", "255.255.255.255", "127.0.0.1", "192.168.1.100", "10.20.30.40"}
	ports := []uint16{0, 1, 255, 256, 8080, 9090, 65534, 65535}

	for _, host := range hosts {
		for _, httpPort := range ports {
			for _, tcpPort := range ports {
				in := DiscoveredServer{Host: host, HTTPPort: httpPort, TCPPort: tcpPort}
				packet, err := EncodeDiscovery(in)
				require.NoError(t, err)

				out, err := DecodeDiscovery(packet)
				require.NoError(t, err)
				require.Equal(t, in, out)
			}
		}
	}
}
