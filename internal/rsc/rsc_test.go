package rsc

import (
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"gosuda.org/amplink/internal/trace"
)

func sampleTable() Table {
	return Table{
		Version: Version,
		Entries: []Entry{
			Carveout{DA: 0, PA: 0, Len: 0x100000, Name: "TEXT/DATA"},
			Vdev{
				ID:        7,
				DFeatures: 1,
				Vrings: []Vring{
					{Align: 0x1000, Num: 256, NotifyID: 1},
					{Align: 0x1000, Num: 256, NotifyID: 2},
				},
			},
			Trace{DA: 0x20000, Len: 0x8000, Name: "trace_buffer"},
			MMU{ID: 0, DA: 0xf8002000, Flags: 0xc02, Name: "ttc"},
		},
	}
}

// TestRoundTrip verifies decode restores what encode wrote
func TestRoundTrip(t *testing.T) {
	in := sampleTable()
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() error = %v", err)
	}

	out, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("Decode() = %+v, want %+v", out, in)
	}
}

// TestLayout verifies the header, offsets and entry sizes on the wire
func TestLayout(t *testing.T) {
	in := sampleTable()
	b, _ := in.MarshalBinary()

	le := binary.LittleEndian
	if le.Uint32(b[0:]) != 1 || le.Uint32(b[4:]) != 4 {
		t.Fatalf("header = %d, %d", le.Uint32(b[0:]), le.Uint32(b[4:]))
	}

	offsets := []uint32{32, 32 + 56, 32 + 56 + 28 + 2*20, 32 + 56 + 68 + 48}
	for i, want := range offsets {
		if got := le.Uint32(b[16+i*4:]); got != want {
			t.Fatalf("offset[%d] = %d, want %d", i, got, want)
		}
	}
	if len(b) != int(offsets[3])+52 {
		t.Fatalf("table size = %d, want %d", len(b), offsets[3]+52)
	}

	vdev := b[offsets[1]:]
	if vdev[25] != 2 {
		t.Fatalf("num_of_vrings = %d, want 2", vdev[25])
	}
	if string(b[offsets[2]+16:offsets[2]+28]) != "trace_buffer" {
		t.Fatal("trace name at wrong offset")
	}
}

// TestVersionRejected verifies only version 1 decodes
func TestVersionRejected(t *testing.T) {
	in := sampleTable()
	b, _ := in.MarshalBinary()
	binary.LittleEndian.PutUint32(b, 2)

	if _, err := Decode(b); !errors.Is(err, ErrVersion) {
		t.Fatalf("Decode() error = %v, want %v", err, ErrVersion)
	}

	in.Version = 2
	if _, err := in.MarshalBinary(); !errors.Is(err, ErrVersion) {
		t.Fatalf("MarshalBinary() error = %v, want %v", err, ErrVersion)
	}
}

// TestMalformed verifies truncated tables, bad offsets and unknown types
func TestMalformed(t *testing.T) {
	in := sampleTable()
	b, _ := in.MarshalBinary()

	if _, err := Decode(b[:len(b)-1]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("Decode(truncated) error = %v, want %v", err, ErrTruncated)
	}

	bad := append([]byte(nil), b...)
	binary.LittleEndian.PutUint32(bad[16:], 4)
	if _, err := Decode(bad); !errors.Is(err, ErrBadOffset) {
		t.Fatalf("Decode(bad offset) error = %v, want %v", err, ErrBadOffset)
	}

	bad = append([]byte(nil), b...)
	binary.LittleEndian.PutUint32(bad[32:], 9)
	if _, err := Decode(bad); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Decode(unknown type) error = %v, want %v", err, ErrUnknownType)
	}
}

// TestNameTooLong verifies names must leave room for the terminator
func TestNameTooLong(t *testing.T) {
	tbl := Table{Version: Version, Entries: []Entry{MMU{Name: "0123456789012345678901234567890123"}}}
	if _, err := tbl.MarshalBinary(); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("MarshalBinary() error = %v, want %v", err, ErrNameTooLong)
	}
}

// TestFind verifies typed entry lookup
func TestFind(t *testing.T) {
	tbl := sampleTable()
	tr, ok := Find[Trace](&tbl)
	if !ok || tr.Len != 0x8000 {
		t.Fatalf("Find[Trace]() = (%+v, %v)", tr, ok)
	}
	if _, ok := Find[Devmem](&tbl); ok {
		t.Fatal("Find[Devmem]() found an entry")
	}
}

// TestApplyMMU verifies peripherals are mapped and the table section is protected
func TestApplyMMU(t *testing.T) {
	tbl := sampleTable()
	tbl.Entries = append(tbl.Entries, MMU{ID: 2, DA: 0xf8f00000, Flags: 0xc02, Name: "scu"})

	st := NewSectionTable()
	ApplyMMU(&tbl, st, 0x00100000, trace.Discard)

	if got := st.Entry(0xf8002000); got != 0xf8000000|0xc02 {
		t.Fatalf("ttc section = %#x", got)
	}
	if got := st.Entry(0xf8f00000); got != 0xf8f00000|0xc02 {
		t.Fatalf("scu section = %#x", got)
	}
	if got := st.Entry(0x00100000); got != 0x00100000 {
		t.Fatalf("table section = %#x, want attribute-less", got)
	}
}
