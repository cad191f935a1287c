// Package vring implements the virtio-style ring layout shared by the two
// execution domains: a descriptor table, an available ring written by the
// side that hands buffers out, and a used ring written by the side that
// returns them. Every field has exactly one writer.
package vring

import (
	"errors"

	"gosuda.org/amplink/internal/shm"
)

// AddrMask strips the bus bits from descriptor addresses. What remains is
// the buffer's offset inside the carveout.
const AddrMask = 0xffffff

// Sizes of the wire structures in bytes
const (
	DescriptorSize  = 16
	UsedElementSize = 8
	ringHeaderSize  = 4 // flags u16 + idx u16
)

// Error definitions for vring operations
var (
	ErrInvalidSize  = errors.New("vring: ring size must be a power of two")
	ErrInvalidAlign = errors.New("vring: alignment must be a power of two multiple of 4")
	ErrBadIndex     = errors.New("vring: descriptor index out of range")
	ErrBadBuffer    = errors.New("vring: descriptor points outside the region")
)

// DescriptorFlag describes a Descriptor
type DescriptorFlag uint16

const (
	// DescriptorFlagNext marks a descriptor chain as continuing via the next field
	DescriptorFlagNext DescriptorFlag = 1 << iota
	// DescriptorFlagWrite marks a buffer as written by the device side
	DescriptorFlagWrite
)

// Descriptor describes one fixed-size buffer. Chains are always one
// descriptor long in this transport, Next is carried for layout only.
type Descriptor struct {
	Addr   uint32         // Buffer offset (masked with AddrMask)
	AddrHi uint32         // Upper address bits, always zero
	Len    uint32         // Buffer length
	Flags  DescriptorFlag // Descriptor flags
	Next   uint16         // Next descriptor in chain
}

// UsedElement is an entry of the used ring. ID is 32-bit for padding reasons.
type UsedElement struct {
	ID  uint32 // Index of the descriptor that was used
	Len uint32 // Bytes written into the buffer
}

// Ring is a view of one vring inside a shared region
type Ring struct {
	region *shm.Region
	num    uint32 // Number of descriptors (power of 2)
	desc   int    // Offset of the descriptor table
	avail  int    // Offset of the available ring
	used   int    // Offset of the used ring
}

// alignUp rounds v up to a multiple of a (a is a power of 2)
func alignUp(v, a int) int {
	return (v + a - 1) &^ (a - 1)
}

func validate(num, align int) error {
	if num <= 0 || num&(num-1) != 0 || num > 1<<15 {
		return ErrInvalidSize
	}
	if align < 4 || align&(align-1) != 0 {
		return ErrInvalidAlign
	}
	return nil
}

// Size calculates the number of bytes a ring of num descriptors occupies
// when its used ring is aligned to align. It returns 0 for invalid parameters.
func Size(num, align int) int {
	if validate(num, align) != nil {
		return 0
	}
	availEnd := num*DescriptorSize + ringHeaderSize + 2*num + 2
	usedEnd := alignUp(availEnd, align) + ringHeaderSize + UsedElementSize*num + 2
	return usedEnd
}

// Attach returns a view of the ring that starts at off. The region offset
// must be aligned to align, so the used ring lands on an aligned address.
func Attach(region *shm.Region, off, num, align int) (*Ring, error) {
	if err := validate(num, align); err != nil {
		return nil, err
	}
	if off%align != 0 {
		return nil, ErrInvalidAlign
	}
	if off < 0 || off+Size(num, align) > region.Size() {
		return nil, shm.ErrOutOfRange
	}

	availOff := off + num*DescriptorSize
	return &Ring{
		region: region,
		num:    uint32(num),
		desc:   off,
		avail:  availOff,
		used:   alignUp(availOff+ringHeaderSize+2*num+2, align),
	}, nil
}

// Init formats the ring at off: every descriptor points at its own
// bufSize-byte slot starting at bufOff, and both ring indices are zero.
// Only the loader calls Init, before either domain touches the ring.
func Init(region *shm.Region, off, num, align, bufOff, bufSize int) (*Ring, error) {
	r, err := Attach(region, off, num, align)
	if err != nil {
		return nil, err
	}
	if bufOff < 0 || bufOff+num*bufSize > region.Size() || bufOff+num*bufSize > AddrMask {
		return nil, ErrBadBuffer
	}

	if err := region.Zero(off, Size(num, align)); err != nil {
		return nil, err
	}
	if err := region.Zero(bufOff, num*bufSize); err != nil {
		return nil, err
	}

	for i := 0; i < num; i++ {
		r.SetDescriptor(uint32(i), Descriptor{
			Addr: uint32(bufOff + i*bufSize),
			Len:  uint32(bufSize),
		})
	}
	return r, nil
}

// Num returns the number of descriptors in the ring
func (r *Ring) Num() uint32 {
	return r.num
}

// Descriptor reads descriptor i
func (r *Ring) Descriptor(i uint32) Descriptor {
	off := r.desc + int(i%r.num)*DescriptorSize
	flagsNext := r.region.Load32(off + 12)
	return Descriptor{
		Addr:   r.region.Load32(off),
		AddrHi: r.region.Load32(off + 4),
		Len:    r.region.Load32(off + 8),
		Flags:  DescriptorFlag(flagsNext),
		Next:   uint16(flagsNext >> 16),
	}
}

// SetDescriptor writes descriptor i
func (r *Ring) SetDescriptor(i uint32, d Descriptor) {
	off := r.desc + int(i%r.num)*DescriptorSize
	r.region.Store32(off, d.Addr)
	r.region.Store32(off+4, d.AddrHi)
	r.region.Store32(off+8, d.Len)
	r.region.Store32(off+12, uint32(d.Flags)|uint32(d.Next)<<16)
}

// Buffer returns the region offset and length of descriptor i's buffer
func (r *Ring) Buffer(i uint32) (off int, n int, err error) {
	d := r.Descriptor(i)
	off = int(d.Addr & AddrMask)
	n = int(d.Len)
	if off+n > r.region.Size() {
		return 0, 0, ErrBadBuffer
	}
	return off, n, nil
}

// AvailIdx reads the available ring index
func (r *Ring) AvailIdx() uint16 {
	return r.region.Load16(r.avail + 2)
}

// SetAvailIdx publishes a new available ring index
func (r *Ring) SetAvailIdx(v uint16) {
	r.region.Store16(r.avail+2, v)
}

// AvailEntry reads available ring slot i
func (r *Ring) AvailEntry(i uint16) uint16 {
	return r.region.Load16(r.avail + ringHeaderSize + 2*int(uint32(i)%r.num))
}

// SetAvailEntry writes available ring slot i
func (r *Ring) SetAvailEntry(i uint16, id uint16) {
	r.region.Store16(r.avail+ringHeaderSize+2*int(uint32(i)%r.num), id)
}

// UsedIdx reads the used ring index
func (r *Ring) UsedIdx() uint16 {
	return r.region.Load16(r.used + 2)
}

// SetUsedIdx publishes a new used ring index
func (r *Ring) SetUsedIdx(v uint16) {
	r.region.Store16(r.used+2, v)
}

// UsedFlags reads the used ring flags
func (r *Ring) UsedFlags() uint16 {
	return r.region.Load16(r.used)
}

// UsedEntry reads used ring slot i
func (r *Ring) UsedEntry(i uint32) UsedElement {
	off := r.used + ringHeaderSize + int(i%r.num)*UsedElementSize
	return UsedElement{
		ID:  r.region.Load32(off),
		Len: r.region.Load32(off + 4),
	}
}

// SetUsedEntry writes used ring slot i
func (r *Ring) SetUsedEntry(i uint32, e UsedElement) {
	off := r.used + ringHeaderSize + int(i%r.num)*UsedElementSize
	r.region.Store32(off, e.ID)
	r.region.Store32(off+4, e.Len)
}
