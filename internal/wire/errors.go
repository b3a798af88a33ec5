package wire

import "errors"

var (
	// ErrMalformedMessage means the bytes have the wrong length or shape.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrUnknownOpcode means the discriminator byte is not defined for the channel.
	ErrUnknownOpcode = errors.New("unknown opcode")
)
