package protocol

import "encoding/binary"

//go:generate go tool stringer -type=Command -trimprefix=Cmd
type Command uint32

// Control-plane commands, carried in the low bits of the first payload word
const (
	CmdClear Command = iota
	CmdStart
	CmdStop
	CmdClone
	CmdGet
	CmdQuit
)

// Command word layout
const (
	StateMask = 0xf        // Command code
	TagShift  = 8          // Correlation tag position
	TagMask   = 0xff << 8  // Correlation tag, echoed in the acknowledgement
	AckMask   = 0x80000000 // Set only on acknowledgements
)

// WordSize is the size of a command or acknowledgement payload
const WordSize = 4

// Word builds the command word for c carrying the correlation tag
func (c Command) Word(tag uint8) uint32 {
	return uint32(c)&StateMask | uint32(tag)<<TagShift
}

// Valid reports whether c is a known command
func (c Command) Valid() bool {
	return c <= CmdQuit
}

// AckWord returns the acknowledgement for a received command word
func AckWord(word uint32) uint32 {
	return word | AckMask
}

// ParseWord splits a command word into its command, tag and ACK bit
func ParseWord(word uint32) (cmd Command, tag uint8, ack bool) {
	return Command(word & StateMask), uint8((word & TagMask) >> TagShift), word&AckMask != 0
}

// PutWord encodes a command word as a payload
func PutWord(word uint32) []byte {
	b := make([]byte, WordSize)
	binary.LittleEndian.PutUint32(b, word)
	return b
}

// FirstWord reads the first payload word; short payloads are zero extended
func FirstWord(payload []byte) uint32 {
	var b [WordSize]byte
	copy(b[:], payload)
	return binary.LittleEndian.Uint32(b[:])
}
