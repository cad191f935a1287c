// Package rsc encodes and decodes the boot resource table the loader reads
// before either domain runs. The layout is the remoteproc one: a header, an
// array of entry offsets, then entries that each start with a type word.
package rsc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the only table version understood
const Version = 1

// NameSize is the fixed size of every name field, NUL padded
const NameSize = 32

// Type identifies an entry
type Type uint32

// Entry types
const (
	TypeCarveout Type = iota
	TypeDevmem
	TypeTrace
	TypeVdev
	TypeMMU
)

func (t Type) String() string {
	switch t {
	case TypeCarveout:
		return "carveout"
	case TypeDevmem:
		return "devmem"
	case TypeTrace:
		return "trace"
	case TypeVdev:
		return "vdev"
	case TypeMMU:
		return "mmu"
	}
	return fmt.Sprintf("type(%d)", uint32(t))
}

// Error definitions for table encoding
var (
	ErrVersion     = errors.New("rsc: unsupported table version")
	ErrTruncated   = errors.New("rsc: table truncated")
	ErrUnknownType = errors.New("rsc: unknown entry type")
	ErrNameTooLong = errors.New("rsc: name longer than 31 bytes")
	ErrBadOffset   = errors.New("rsc: entry offset out of range")
)

// Entry is one typed resource
type Entry interface {
	Type() Type
	size() int
	put(b []byte)
}

// Carveout claims a physically contiguous memory extent
type Carveout struct {
	DA, PA, Len, Flags uint32
	Name               string
}

// Devmem maps a device memory range
type Devmem struct {
	DA, PA, Len, Flags uint32
	Name               string
}

// Trace describes the circular trace log
type Trace struct {
	DA, Len uint32
	Name    string
}

// Vring describes one ring of a virtio device
type Vring struct {
	DA       uint32 // Device address, 0 lets the loader allocate
	Align    uint32 // Used ring alignment
	Num      uint32 // Number of descriptors
	NotifyID uint32 // Line used to notify this ring
}

// Vdev describes a virtio device and its rings
type Vdev struct {
	ID        uint32
	NotifyID  uint32
	DFeatures uint32 // Features offered by the device
	GFeatures uint32 // Features acknowledged by the loader
	Status    uint8
	Vrings    []Vring
	Config    []byte
}

// MMU requests a section mapping for a peripheral
type MMU struct {
	ID, DA, Len, Flags uint32
	Name               string
}

const (
	memSize   = 6*4 + NameSize
	traceSize = 4*4 + NameSize
	vdevSize  = 6*4 + 4
	vringSize = 5 * 4
	mmuSize   = 5*4 + NameSize
)

func (Carveout) Type() Type { return TypeCarveout }
func (Devmem) Type() Type   { return TypeDevmem }
func (Trace) Type() Type    { return TypeTrace }
func (Vdev) Type() Type     { return TypeVdev }
func (MMU) Type() Type      { return TypeMMU }

func (Carveout) size() int { return memSize }
func (Devmem) size() int   { return memSize }
func (Trace) size() int    { return traceSize }
func (v Vdev) size() int   { return vdevSize + len(v.Vrings)*vringSize + len(v.Config) }
func (MMU) size() int      { return mmuSize }

func putWords(b []byte, words ...uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
}

func putName(b []byte, name string) {
	copy(b[:NameSize-1], name)
}

func getName(b []byte) string {
	for i, c := range b[:NameSize] {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b[:NameSize])
}

func word(b []byte, i int) uint32 {
	return binary.LittleEndian.Uint32(b[i*4:])
}

func (c Carveout) put(b []byte) {
	putWords(b, uint32(TypeCarveout), c.DA, c.PA, c.Len, c.Flags, 0)
	putName(b[24:], c.Name)
}

func (d Devmem) put(b []byte) {
	putWords(b, uint32(TypeDevmem), d.DA, d.PA, d.Len, d.Flags, 0)
	putName(b[24:], d.Name)
}

func (t Trace) put(b []byte) {
	putWords(b, uint32(TypeTrace), t.DA, t.Len, 0)
	putName(b[16:], t.Name)
}

func (v Vdev) put(b []byte) {
	putWords(b, uint32(TypeVdev), v.ID, v.NotifyID, v.DFeatures, v.GFeatures, uint32(len(v.Config)))
	b[24] = v.Status
	b[25] = uint8(len(v.Vrings))
	off := vdevSize
	for _, r := range v.Vrings {
		putWords(b[off:], r.DA, r.Align, r.Num, r.NotifyID, 0)
		off += vringSize
	}
	copy(b[off:], v.Config)
}

func (m MMU) put(b []byte) {
	putWords(b, uint32(TypeMMU), m.ID, m.DA, m.Len, m.Flags)
	putName(b[20:], m.Name)
}

func entryName(e Entry) string {
	switch e := e.(type) {
	case Carveout:
		return e.Name
	case Devmem:
		return e.Name
	case Trace:
		return e.Name
	case MMU:
		return e.Name
	}
	return ""
}

// Table is a resource table
type Table struct {
	Version uint32
	Entries []Entry
}

// headerSize returns the size of the header and offset array
func headerSize(n int) int {
	return 4*4 + n*4
}

// Size returns the encoded size of the table
func (t *Table) Size() int {
	n := headerSize(len(t.Entries))
	for _, e := range t.Entries {
		n += e.size()
	}
	return n
}

// MarshalBinary encodes the table
func (t *Table) MarshalBinary() ([]byte, error) {
	if t.Version != Version {
		return nil, ErrVersion
	}
	for _, e := range t.Entries {
		if len(entryName(e)) >= NameSize {
			return nil, fmt.Errorf("%w: %q", ErrNameTooLong, entryName(e))
		}
	}

	b := make([]byte, t.Size())
	putWords(b, t.Version, uint32(len(t.Entries)), 0, 0)

	off := headerSize(len(t.Entries))
	for i, e := range t.Entries {
		binary.LittleEndian.PutUint32(b[16+i*4:], uint32(off))
		e.put(b[off:])
		off += e.size()
	}
	return b, nil
}

// UnmarshalBinary decodes a table. Only Version tables are accepted.
func (t *Table) UnmarshalBinary(b []byte) error {
	if len(b) < headerSize(0) {
		return ErrTruncated
	}
	if word(b, 0) != Version {
		return fmt.Errorf("%w: %d", ErrVersion, word(b, 0))
	}
	num := int(word(b, 1))
	if num < 0 || headerSize(num) > len(b) {
		return ErrTruncated
	}

	entries := make([]Entry, 0, num)
	for i := 0; i < num; i++ {
		off := int(word(b, 4+i))
		if off < headerSize(num) || off+4 > len(b) {
			return fmt.Errorf("%w: entry %d at %d", ErrBadOffset, i, off)
		}
		e, err := decodeEntry(b[off:])
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, e)
	}

	t.Version = Version
	t.Entries = entries
	return nil
}

// Decode parses an encoded table
func Decode(b []byte) (Table, error) {
	var t Table
	err := t.UnmarshalBinary(b)
	return t, err
}

func decodeEntry(b []byte) (Entry, error) {
	typ := Type(word(b, 0))
	need := map[Type]int{
		TypeCarveout: memSize,
		TypeDevmem:   memSize,
		TypeTrace:    traceSize,
		TypeVdev:     vdevSize,
		TypeMMU:      mmuSize,
	}
	n, ok := need[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint32(typ))
	}
	if len(b) < n {
		return nil, ErrTruncated
	}

	switch typ {
	case TypeCarveout:
		return Carveout{DA: word(b, 1), PA: word(b, 2), Len: word(b, 3), Flags: word(b, 4), Name: getName(b[24:])}, nil
	case TypeDevmem:
		return Devmem{DA: word(b, 1), PA: word(b, 2), Len: word(b, 3), Flags: word(b, 4), Name: getName(b[24:])}, nil
	case TypeTrace:
		return Trace{DA: word(b, 1), Len: word(b, 2), Name: getName(b[16:])}, nil
	case TypeMMU:
		return MMU{ID: word(b, 1), DA: word(b, 2), Len: word(b, 3), Flags: word(b, 4), Name: getName(b[20:])}, nil
	}

	v := Vdev{
		ID:        word(b, 1),
		NotifyID:  word(b, 2),
		DFeatures: word(b, 3),
		GFeatures: word(b, 4),
		Status:    b[24],
	}
	configLen := int(word(b, 5))
	rings := int(b[25])
	end := vdevSize + rings*vringSize + configLen
	if len(b) < end {
		return nil, ErrTruncated
	}
	for i := 0; i < rings; i++ {
		r := b[vdevSize+i*vringSize:]
		v.Vrings = append(v.Vrings, Vring{DA: word(r, 0), Align: word(r, 1), Num: word(r, 2), NotifyID: word(r, 3)})
	}
	if configLen > 0 {
		v.Config = append([]byte(nil), b[end-configLen:end]...)
	}
	return v, nil
}

// Find returns the first entry of type T
func Find[T Entry](t *Table) (T, bool) {
	for _, e := range t.Entries {
		if v, ok := e.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
