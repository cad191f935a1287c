package protocol

import (
	"encoding/binary"
	"errors"
)

// Frame geometry. Both directions use identical fixed-size slots.
const (
	FrameSize  = 512                    // Slot size including the header
	HeaderSize = 16                     // src, dst, reserved, len, flags
	MaxPayload = FrameSize - HeaderSize // Largest payload carried by one frame
)

// Error definitions for frame decoding
var (
	ErrShortFrame = errors.New("protocol: frame shorter than header")
	ErrBadLength  = errors.New("protocol: payload length exceeds frame")
)

// Header is the fixed frame header that precedes every payload
type Header struct {
	Src      uint32 // Source endpoint address
	Dst      uint32 // Destination endpoint address
	Reserved uint32 // Always zero
	Len      uint16 // Payload length in bytes
	Flags    uint16 // Always zero
}

// Frame is a decoded frame. Payload aliases the buffer it was decoded from
// unless the caller copies it.
type Frame struct {
	Header
	Payload []byte
}

// PutHeader encodes h into the first HeaderSize bytes of b
func PutHeader(b []byte, h Header) {
	binary.LittleEndian.PutUint32(b[0:4], h.Src)
	binary.LittleEndian.PutUint32(b[4:8], h.Dst)
	binary.LittleEndian.PutUint32(b[8:12], h.Reserved)
	binary.LittleEndian.PutUint16(b[12:14], h.Len)
	binary.LittleEndian.PutUint16(b[14:16], h.Flags)
}

// ParseHeader decodes the header at the start of b
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortFrame
	}
	return Header{
		Src:      binary.LittleEndian.Uint32(b[0:4]),
		Dst:      binary.LittleEndian.Uint32(b[4:8]),
		Reserved: binary.LittleEndian.Uint32(b[8:12]),
		Len:      binary.LittleEndian.Uint16(b[12:14]),
		Flags:    binary.LittleEndian.Uint16(b[14:16]),
	}, nil
}

// EncodeFrame clears slot and writes a frame carrying payload into it.
// Payloads longer than MaxPayload (or than the slot allows) are truncated;
// the returned count is the number of payload bytes written.
func EncodeFrame(slot []byte, src, dst uint32, payload []byte) int {
	clear(slot)

	n := len(payload)
	if n > MaxPayload {
		n = MaxPayload
	}
	if n > len(slot)-HeaderSize {
		n = len(slot) - HeaderSize
	}

	PutHeader(slot, Header{Src: src, Dst: dst, Len: uint16(n)})
	copy(slot[HeaderSize:], payload[:n])
	return n
}

// DecodeFrame parses a frame from slot
func DecodeFrame(slot []byte) (Frame, error) {
	h, err := ParseHeader(slot)
	if err != nil {
		return Frame{}, err
	}
	if int(h.Len) > len(slot)-HeaderSize || int(h.Len) > MaxPayload {
		return Frame{}, ErrBadLength
	}
	return Frame{Header: h, Payload: slot[HeaderSize : HeaderSize+int(h.Len)]}, nil
}

// Chunks splits data into the MaxPayload-sized pieces a response is sent in.
// ceil(len(data)/MaxPayload) chunks are returned; empty data yields none.
func Chunks(data []byte) [][]byte {
	var out [][]byte
	for sum := 0; sum < len(data); {
		n := min(len(data)-sum, MaxPayload)
		out = append(out, data[sum:sum+n])
		sum += n
	}
	return out
}

// ChannelNameSize is the fixed size of a name-service channel name
const ChannelNameSize = 32

// ChannelInfoSize is the wire size of a ChannelInfo record
const ChannelInfoSize = ChannelNameSize + 8

// ChannelInfo is the name-service announcement the real-time domain sends
// once the peer first becomes ready
type ChannelInfo struct {
	Name string // Service name, NUL padded to 32 bytes on the wire
	Src  uint32 // Address the service listens on
	Dst  uint32 // Zero
}

// MarshalBinary encodes the announcement record
func (c ChannelInfo) MarshalBinary() ([]byte, error) {
	b := make([]byte, ChannelInfoSize)
	copy(b[:ChannelNameSize-1], c.Name)
	binary.LittleEndian.PutUint32(b[ChannelNameSize:], c.Src)
	binary.LittleEndian.PutUint32(b[ChannelNameSize+4:], c.Dst)
	return b, nil
}

// UnmarshalBinary decodes an announcement record
func (c *ChannelInfo) UnmarshalBinary(b []byte) error {
	if len(b) < ChannelInfoSize {
		return ErrShortFrame
	}
	name := b[:ChannelNameSize]
	for i, ch := range name {
		if ch == 0 {
			name = name[:i]
			break
		}
	}
	c.Name = string(name)
	c.Src = binary.LittleEndian.Uint32(b[ChannelNameSize:])
	c.Dst = binary.LittleEndian.Uint32(b[ChannelNameSize+4:])
	return nil
}
