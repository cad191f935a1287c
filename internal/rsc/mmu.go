package rsc

import "gosuda.org/amplink/internal/trace"

// SectionSize is the granularity of peripheral mappings
const SectionSize = 1 << 20

// Mapper installs and removes section mappings
type Mapper interface {
	Map(addr, flags uint32)
	Unmap(addr uint32)
}

// SectionTable is a first-level translation table of 1 MiB sections
// covering the 32-bit address space
type SectionTable struct {
	entries [4096]uint32
}

// NewSectionTable returns a table with a flat, attribute-less mapping
func NewSectionTable() *SectionTable {
	s := &SectionTable{}
	for i := range s.entries {
		s.entries[i] = uint32(i) * SectionSize
	}
	return s
}

// Map sets the attributes of the section containing addr
func (s *SectionTable) Map(addr, flags uint32) {
	addr &^= SectionSize - 1
	s.entries[addr/SectionSize] = addr | flags
}

// Unmap removes every attribute, making the section inaccessible
func (s *SectionTable) Unmap(addr uint32) {
	addr &^= SectionSize - 1
	s.entries[addr/SectionSize] = addr
}

// Entry returns the descriptor of the section containing addr
func (s *SectionTable) Entry(addr uint32) uint32 {
	return s.entries[addr/SectionSize]
}

// ApplyMMU maps every MMU entry of t, then unmaps the section holding the
// translation table itself so the real-time domain cannot corrupt memory the
// general-purpose domain owns
func ApplyMMU(t *Table, m Mapper, tableAddr uint32, log trace.Logger) {
	if t.Version == Version {
		for _, e := range t.Entries {
			mmu, ok := e.(MMU)
			if !ok {
				continue
			}
			trace.Logf(log, "setup TLB for %d:%s at %#x", mmu.ID, mmu.Name, mmu.DA&^(SectionSize-1))
			m.Map(mmu.DA, mmu.Flags)
		}
	}

	trace.Logf(log, "protect MMU table at %#x", tableAddr)
	m.Unmap(tableAddr)
}
