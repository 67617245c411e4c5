package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Packet types used by Squad, Post Scriptum and Beyond The Wire servers
const (
	TypeResponseValue int32 = 0
	TypeChatStream    int32 = 1
	TypeExecCommand   int32 = 2
	TypeAuthResponse  int32 = 2
	TypeAuth          int32 = 3
)

const (
	// MaxPacketSize is the largest size field the server accepts
	MaxPacketSize = 4096
	headerSize    = 12
	sentinelSize  = 7
)

var (
	// multipacketHeader arrives in place of a header to close a multipacket response
	multipacketHeader = []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	// multipacketBytes can show up inside a chat packet that carries the end of a response
	multipacketBytes = []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}
)

// Packet is a single RCON packet. EndOfMultipacket packets are synthesized by
// the reader from the vendor sentinels and carry no body.
type Packet struct {
	ID               int32
	Type             int32
	Body             []byte
	EndOfMultipacket bool
}

// Size returns the value of the packet's size field
func (p *Packet) Size() int {
	return len(p.Body) + 10
}

// Encode packs a packet as size | id | type | body | 0x00 0x00 (little-endian)
func Encode(id, typ int32, body []byte) ([]byte, error) {
	size := len(body) + 10
	if size > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, size)
	}

	buf := make([]byte, 4+size)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(size))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(id))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(typ))
	copy(buf[12:], body)
	// last two bytes stay zero
	return buf, nil
}

// ReadPacket reads one packet from r, always with a full 12-byte header
func ReadPacket(r io.Reader) (*Packet, error) {
	return readPacket(r, false)
}

// ReadTrailingPacket reads the packet that follows the end of a response.
// Only there can the 7-byte multipacket terminator stand in for a header; it
// yields an EndOfMultipacket packet.
func ReadTrailingPacket(r io.Reader) (*Packet, error) {
	return readPacket(r, true)
}

func readPacket(r io.Reader, allowTerminator bool) (*Packet, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header[:sentinelSize]); err != nil {
		return nil, err
	}
	if allowTerminator && bytes.Equal(header[:sentinelSize], multipacketHeader) {
		return &Packet{ID: -1, EndOfMultipacket: true}, nil
	}
	if _, err := io.ReadFull(r, header[sentinelSize:]); err != nil {
		return nil, err
	}

	size := int32(binary.LittleEndian.Uint32(header[0:4]))
	if size < 10 || size > MaxPacketSize {
		return nil, fmt.Errorf("%w: size %d", ErrMalformedPacket, size)
	}

	p := &Packet{
		ID:   int32(binary.LittleEndian.Uint32(header[4:8])),
		Type: int32(binary.LittleEndian.Uint32(header[8:12])),
	}

	rest := make([]byte, size-8)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	p.Body = trimTerminator(rest)
	return p, nil
}

// trimTerminator drops the two trailing null bytes of a packet body
func trimTerminator(b []byte) []byte {
	for i := 0; i < 2 && len(b) > 0 && b[len(b)-1] == 0x00; i++ {
		b = b[:len(b)-1]
	}
	return b
}

// SplitEmbeddedTerminator reports whether body carries the multipacket
// terminator and returns the chat text that came with it.
func SplitEmbeddedTerminator(body []byte) (string, bool) {
	idx := bytes.Index(body, multipacketBytes)
	if idx < 0 {
		return "", false
	}
	chat := make([]byte, 0, len(body)-sentinelSize)
	chat = append(chat, body[:idx]...)
	chat = append(chat, body[idx+sentinelSize:]...)
	return cleanText(chat), true
}

// cleanText strips the control bytes the server pads text bodies with
func cleanText(b []byte) string {
	return string(bytes.Trim(b, "\x00\x01"))
}
