package wire

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Message is one opcode variant of the TCP channel. The set is closed: only
// the types in this file implement it.
type Message interface {
	Opcode() Opcode
	operand() ([]byte, error)
}

type (
	LockScreen         struct{}
	UnlockScreen       struct{}
	RefreshConfig      struct{}
	Unpair             struct{}
	DistributeMaterial struct{}
	ReturnFeedback     struct{}

	// HandAck confirms the server saw a raised hand.
	HandAck struct{ DeviceID string }

	// StatusUpdate carries an opaque JSON status document.
	StatusUpdate struct{ Status json.RawMessage }

	HandRaised     struct{ DeviceID string }
	DistributeAck  struct{ DeviceID string }
	FeedbackAck    struct{ DeviceID string }
	PairingRequest struct{ DeviceID string }
)

func (LockScreen) Opcode() Opcode         { return OpLockScreen }
func (UnlockScreen) Opcode() Opcode       { return OpUnlockScreen }
func (RefreshConfig) Opcode() Opcode      { return OpRefreshConfig }
func (Unpair) Opcode() Opcode             { return OpUnpair }
func (DistributeMaterial) Opcode() Opcode { return OpDistributeMaterial }
func (ReturnFeedback) Opcode() Opcode     { return OpReturnFeedback }
func (HandAck) Opcode() Opcode            { return OpHandAck }
func (StatusUpdate) Opcode() Opcode       { return OpStatusUpdate }
func (HandRaised) Opcode() Opcode         { return OpHandRaised }
func (DistributeAck) Opcode() Opcode      { return OpDistributeAck }
func (FeedbackAck) Opcode() Opcode        { return OpFeedbackAck }
func (PairingRequest) Opcode() Opcode     { return OpPairingRequest }

func (LockScreen) operand() ([]byte, error)         { return []byte{}, nil }
func (UnlockScreen) operand() ([]byte, error)       { return []byte{}, nil }
func (RefreshConfig) operand() ([]byte, error)      { return []byte{}, nil }
func (Unpair) operand() ([]byte, error)             { return []byte{}, nil }
func (DistributeMaterial) operand() ([]byte, error) { return []byte{}, nil }
func (ReturnFeedback) operand() ([]byte, error)     { return []byte{}, nil }

func (m HandAck) operand() ([]byte, error)        { return textOperand(m.DeviceID) }
func (m HandRaised) operand() ([]byte, error)     { return textOperand(m.DeviceID) }
func (m DistributeAck) operand() ([]byte, error)  { return textOperand(m.DeviceID) }
func (m FeedbackAck) operand() ([]byte, error)    { return textOperand(m.DeviceID) }
func (m PairingRequest) operand() ([]byte, error) { return textOperand(m.DeviceID) }

func (m StatusUpdate) operand() ([]byte, error) {
	if len(m.Status) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(m.Status) {
		return nil, fmt.Errorf("%w: STATUS_UPDATE operand is not valid JSON", ErrMalformedMessage)
	}
	return []byte(m.Status), nil
}

func textOperand(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: operand is not valid UTF-8", ErrMalformedMessage)
	}
	return []byte(s), nil
}

func decodeText(operand []byte) (string, error) {
	if !utf8.Valid(operand) {
		return "", fmt.Errorf("%w: operand is not valid UTF-8", ErrMalformedMessage)
	}
	return string(operand), nil
}

type decodeFunc func(operand []byte) (Message, error)

func empty(m Message) decodeFunc {
	// trailing operand bytes on a no-operand opcode are ignored
	return func([]byte) (Message, error) { return m, nil }
}

func text(build func(string) Message) decodeFunc {
	return func(operand []byte) (Message, error) {
		s, err := decodeText(operand)
		if err != nil {
			return nil, err
		}
		return build(s), nil
	}
}

// decoders is the single dispatch table for the TCP channel. OpDiscovery is
// absent on purpose: it only travels as a broadcast.
var decoders = map[Opcode]decodeFunc{
	OpLockScreen:         empty(LockScreen{}),
	OpUnlockScreen:       empty(UnlockScreen{}),
	OpRefreshConfig:      empty(RefreshConfig{}),
	OpUnpair:             empty(Unpair{}),
	OpDistributeMaterial: empty(DistributeMaterial{}),
	OpReturnFeedback:     empty(ReturnFeedback{}),
	OpHandAck:            text(func(s string) Message { return HandAck{DeviceID: s} }),
	OpHandRaised:         text(func(s string) Message { return HandRaised{DeviceID: s} }),
	OpDistributeAck:      text(func(s string) Message { return DistributeAck{DeviceID: s} }),
	OpFeedbackAck:        text(func(s string) Message { return FeedbackAck{DeviceID: s} }),
	OpPairingRequest:     text(func(s string) Message { return PairingRequest{DeviceID: s} }),
	OpStatusUpdate: func(operand []byte) (Message, error) {
		if !json.Valid(operand) {
			return nil, fmt.Errorf("%w: STATUS_UPDATE operand is not valid JSON", ErrMalformedMessage)
		}
		status := make(json.RawMessage, len(operand))
		copy(status, operand)
		return StatusUpdate{Status: status}, nil
	},
}

// Encode returns opcode byte followed by the operand.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformedMessage)
	}
	operand, err := m.operand()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Opcode(), err)
	}
	b := make([]byte, 0, 1+len(operand))
	b = append(b, byte(m.Opcode()))
	return append(b, operand...), nil
}

// Decode parses one framed TCP message.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}
	op := Opcode(b[0])
	decode, ok := decoders[op]
	if !ok {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownOpcode, b[0])
	}
	m, err := decode(b[1:])
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", op, err)
	}
	return m, nil
}
