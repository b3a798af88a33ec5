package wire

import "fmt"

// Opcode is the one-byte discriminator at the head of every message.
type Opcode uint8

const (
	OpDiscovery Opcode = 0x00

	// server -> client
	OpLockScreen         Opcode = 0x01
	OpUnlockScreen       Opcode = 0x02
	OpRefreshConfig      Opcode = 0x03
	OpUnpair             Opcode = 0x04
	OpDistributeMaterial Opcode = 0x05
	OpHandAck            Opcode = 0x06
	OpReturnFeedback     Opcode = 0x07

	// client -> server
	OpStatusUpdate  Opcode = 0x10
	OpHandRaised    Opcode = 0x11
	OpDistributeAck Opcode = 0x12
	OpFeedbackAck   Opcode = 0x13

	OpPairingRequest Opcode = 0x20
)

// Direction records who sends an opcode. The wire format itself does not
// encode it.
type Direction int

const (
	DirectionBroadcast Direction = iota
	DirectionServerToClient
	DirectionClientToServer
)

func (d Direction) String() string {
	switch d {
	case DirectionBroadcast:
		return "broadcast"
	case DirectionServerToClient:
		return "server_to_client"
	case DirectionClientToServer:
		return "client_to_server"
	default:
		return "unknown"
	}
}

type opcodeInfo struct {
	name      string
	direction Direction
}

var opcodes = map[Opcode]opcodeInfo{
	OpDiscovery:          {"DISCOVERY", DirectionBroadcast},
	OpLockScreen:         {"LOCK_SCREEN", DirectionServerToClient},
	OpUnlockScreen:       {"UNLOCK_SCREEN", DirectionServerToClient},
	OpRefreshConfig:      {"REFRESH_CONFIG", DirectionServerToClient},
	OpUnpair:             {"UNPAIR", DirectionServerToClient},
	OpDistributeMaterial: {"DISTRIBUTE_MATERIAL", DirectionServerToClient},
	OpHandAck:            {"HAND_ACK", DirectionServerToClient},
	OpReturnFeedback:     {"RETURN_FEEDBACK", DirectionServerToClient},
	OpStatusUpdate:       {"STATUS_UPDATE", DirectionClientToServer},
	OpHandRaised:         {"HAND_RAISED", DirectionClientToServer},
	OpDistributeAck:      {"DISTRIBUTE_ACK", DirectionClientToServer},
	OpFeedbackAck:        {"FEEDBACK_ACK", DirectionClientToServer},
	OpPairingRequest:     {"PAIRING_REQUEST", DirectionClientToServer},
}

func (o Opcode) String() string {
	if info, ok := opcodes[o]; ok {
		return info.name
	}
	return fmt.Sprintf("OPCODE(0x%02x)", uint8(o))
}

// Direction returns the sender side for a known opcode. ok is false for
// undefined opcodes.
func (o Opcode) Direction() (d Direction, ok bool) {
	info, ok := opcodes[o]
	return info.direction, ok
}

// Known reports whether o is in the opcode table.
func (o Opcode) Known() bool {
	_, ok := opcodes[o]
	return ok
}
