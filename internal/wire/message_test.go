package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_NoOperandVariants(t *testing.T) {
	cases := map[Message]byte{
		LockScreen{}:         0x01,
		UnlockScreen{}:       0x02,
		RefreshConfig{}:      0x03,
		Unpair{}:             0x04,
		DistributeMaterial{}: 0x05,
		ReturnFeedback{}:     0x07,
	}
	for msg, op := range cases {
		b, err := Encode(msg)
		require.NoError(t, err)
		assert.Equal(t, []byte{op}, b, msg.Opcode().String())
	}
}

func TestEncode_DeviceIDVariants(t *testing.T) {
	id := "tablet-07"
	cases := []struct {
		msg Message
		op  byte
	}{
		{HandAck{DeviceID: id}, 0x06},
		{HandRaised{DeviceID: id}, 0x11},
		{DistributeAck{DeviceID: id}, 0x12},
		{FeedbackAck{DeviceID: id}, 0x13},
		{PairingRequest{DeviceID: id}, 0x20},
	}
	for _, tc := range cases {
		b, err := Encode(tc.msg)
		require.NoError(t, err)
		assert.Equal(t, append([]byte{tc.op}, id...), b)
	}
}

func TestTextOperand_RoundTrip(t *testing.T) {
	operands := []string{"", "a", "tablet-07", "学生-タブレット-٣", "emoji 📚✏️", "with\nnewline"}
	ops := []Opcode{OpHandAck, OpHandRaised, OpDistributeAck, OpFeedbackAck, OpPairingRequest}

	for _, op := range ops {
		for _, s := range operands {
			in := append([]byte{byte(op)}, s...)
			msg, err := Decode(in)
			require.NoError(t, err)
			require.Equal(t, op, msg.Opcode())

			out, err := Encode(msg)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		}
	}
}

func TestStatusUpdate_RoundTrip(t *testing.T) {
	in := append([]byte{0x10}, `{"device_id":"d1","locked":true,"battery":87}`...)

	msg, err := Decode(in)
	require.NoError(t, err)
	status, ok := msg.(StatusUpdate)
	require.True(t, ok)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(status.Status, &fields))
	assert.Equal(t, "d1", fields["device_id"])

	out, err := Encode(status)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestStatusUpdate_EmptyEncodesAsObject(t *testing.T) {
	b, err := Encode(StatusUpdate{})
	require.NoError(t, err)
	assert.Equal(t, []byte("\x10{}"), b)
}

func TestStatusUpdate_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte("\x10{not json"))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Encode(StatusUpdate{Status: json.RawMessage("{")})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Decode([]byte{0x00, 1, 2, 3})
	assert.ErrorIs(t, err, ErrUnknownOpcode, "discovery opcode is broadcast only")

	_, err = Decode([]byte{0x7F})
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = Decode([]byte{0x11, 0xff, 0xfe})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecode_NoOperandIgnoresTrailingBytes(t *testing.T) {
	msg, err := Decode([]byte{0x04, 0x00})
	require.NoError(t, err)
	assert.Equal(t, Unpair{}, msg)
}

func TestEncode_InvalidUTF8(t *testing.T) {
	_, err := Encode(PairingRequest{DeviceID: string([]byte{0xff})})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Encode(nil)
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestOpcode_Metadata(t *testing.T) {
	assert.Equal(t, "UNPAIR", OpUnpair.String())
	assert.Equal(t, "OPCODE(0x7f)", Opcode(0x7f).String())

	d, ok := OpPairingRequest.Direction()
	assert.True(t, ok)
	assert.Equal(t, DirectionClientToServer, d)

	d, ok = OpDistributeMaterial.Direction()
	assert.True(t, ok)
	assert.Equal(t, DirectionServerToClient, d)

	_, ok = Opcode(0x30).Direction()
	assert.False(t, ok)
	assert.True(t, OpDiscovery.Known())
}
