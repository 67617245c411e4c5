package rcon

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		id   int32
		typ  int32
		body string
	}{
		{"empty body", 1, TypeResponseValue, ""},
		{"auth", 7, TypeAuth, "hunter2"},
		{"command", 42, TypeExecCommand, "AdminBroadcast hello there"},
		{"negative id", -1, TypeAuthResponse, ""},
		{"largest body", 3, TypeExecCommand, strings.Repeat("x", MaxPacketSize-10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.id, tt.typ, []byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, data, len(tt.body)+14)

			p, err := ReadPacket(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, tt.id, p.ID)
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.body, string(p.Body))
			assert.False(t, p.EndOfMultipacket)
			assert.Equal(t, len(tt.body)+10, p.Size())
		})
	}
}

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(1, TypeAuth, []byte("pw"))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		12, 0, 0, 0,
		1, 0, 0, 0,
		3, 0, 0, 0,
		'p', 'w',
		0, 0,
	}, data)
}

func TestEncodeRejectsOversizedPacket(t *testing.T) {
	_, err := Encode(1, TypeExecCommand, make([]byte, MaxPacketSize-9))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestReadPacketSentinelHeader(t *testing.T) {
	next, err := Encode(5, TypeResponseValue, []byte("after"))
	require.NoError(t, err)
	stream := bytes.NewReader(append(append([]byte{}, multipacketHeader...), next...))

	p, err := ReadTrailingPacket(stream)
	require.NoError(t, err)
	assert.True(t, p.EndOfMultipacket)
	assert.Equal(t, int32(-1), p.ID)

	// the sentinel consumes exactly seven bytes
	p, err = ReadPacket(stream)
	require.NoError(t, err)
	assert.Equal(t, int32(5), p.ID)
	assert.Equal(t, "after", string(p.Body))
}

// A packet of size 256 and id 0 starts with the same seven bytes as the
// terminator.
func TestReadPacketChatShapedLikeTerminator(t *testing.T) {
	body := strings.Repeat("x", 246)
	data, err := Encode(0, TypeChatStream, []byte(body))
	require.NoError(t, err)
	require.Equal(t, multipacketHeader, data[:sentinelSize])

	p, err := ReadPacket(bytes.NewReader(data))
	require.NoError(t, err)
	assert.False(t, p.EndOfMultipacket)
	assert.Equal(t, int32(0), p.ID)
	assert.Equal(t, TypeChatStream, p.Type)
	assert.Equal(t, body, string(p.Body))
}

func TestReadPacketMalformedSize(t *testing.T) {
	data := []byte{0xff, 0xff, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0}
	_, err := ReadPacket(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestReadPacketTruncated(t *testing.T) {
	data, err := Encode(1, TypeResponseValue, []byte("truncated body"))
	require.NoError(t, err)
	_, err = ReadPacket(bytes.NewReader(data[:len(data)-4]))
	assert.Error(t, err)
}

func TestSplitEmbeddedTerminator(t *testing.T) {
	body := append(append([]byte{}, multipacketBytes...), []byte("[ChatAll] this is example chat")...)
	text, ok := SplitEmbeddedTerminator(body)
	require.True(t, ok)
	assert.Equal(t, "[ChatAll] this is example chat", text)

	_, ok = SplitEmbeddedTerminator([]byte("plain response"))
	assert.False(t, ok)
}
