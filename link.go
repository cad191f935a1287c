// Package amplink is a two-party shared-memory transport between a
// real-time domain and a general-purpose domain, and the latency protocol
// layered on it.
//
// Each direction is one virtio-style ring with a fixed pool of frame slots.
// The real-time side (Remote) produces into the TX ring and consumes the RX
// ring; the general-purpose side (Host) does the opposite. Interrupt lines
// act as doorbells between them.
package amplink

import (
	"errors"

	"gosuda.org/amplink/internal/irq"
	"gosuda.org/amplink/internal/protocol"
	"gosuda.org/amplink/internal/rsc"
	"gosuda.org/amplink/internal/shm"
	"gosuda.org/amplink/internal/trace"
	"gosuda.org/amplink/internal/vring"
)

// Error definitions for amplink operations
var (
	ErrMemoryAlign = errors.New("amplink: memory alignment violation")
	ErrInvalidSize = errors.New("amplink: invalid ring size")
	ErrMemorySmall = errors.New("amplink: memory too small")
	ErrNotLoaded   = errors.New("amplink: carveout not loaded")
	ErrBadTable    = errors.New("amplink: resource table has no usable vdev")
	ErrRingFull    = errors.New("amplink: ring full")
	ErrNoService   = errors.New("amplink: service not announced")
)

// Endpoint addresses and the service name announced by the real-time domain
const (
	ServiceName  = "rpmsg-timer-statistic"
	ServiceAddr  = 0x50  // Address the latency service listens on
	AnnounceAddr = 0x35  // Name-service address of the general-purpose domain
	HostAddr     = 0x400 // First dynamic address of the general-purpose domain
)

// Peripherals the real-time domain maps through MMU resource entries
const (
	TTCBase  = 0xf8002000 // Triple timer counter 1
	UARTBase = 0xe0001000 // Console UART
	SCUBase  = 0xf8f00000 // Snoop control unit and interrupt controller
	MMUFlags = 0xc02      // Device memory, full access
)

// Virtio identifiers of the rpmsg device
const (
	VirtioIDRpmsg  = 7
	RpmsgFeatureNS = 1 << 0 // Name-service announcements supported
)

// Header page fields
const (
	Magic         = 0x4c504d41 // "AMPL"
	LayoutVersion = 1

	hdrMagic    = 0
	hdrVersion  = 4
	hdrRingSize = 8
	hdrTableLen = 12
	hdrReady    = 16
	hdrHost     = 20 // Bumped by the host on every Ready

	// DoorbellBase is where cross-process interrupt counters live in the header page
	DoorbellBase = 0x400
)

// Config describes the carveout geometry
type Config struct {
	RingSize  int // Descriptors per ring, a power of two
	Align     int // Used ring alignment
	TraceSize int // Bytes of trace log
}

// DefaultConfig returns the reference sizing: two rings of 256 frames
func DefaultConfig() Config {
	return Config{
		RingSize:  256,
		Align:     0x1000,
		TraceSize: trace.DefaultSize,
	}
}

// Layout holds the offsets of every area inside the carveout
type Layout struct {
	Config

	Header    int // Magic, version and doorbell counters
	Table     int // Encoded resource table
	TxRing    int // Real-time to general-purpose ring
	RxRing    int // General-purpose to real-time ring
	TxBuffers int // Frame slots of the TX ring
	RxBuffers int // Frame slots of the RX ring
	Trace     int // Circular trace log
	Size      int // Total carveout size
}

// Carveout Memory Layout:
//
// <<<< PAGE_START
// HEADER (magic, version, doorbells)
// <<<< PAGE_BREAK
// RESOURCE TABLE
// <<<< PAGE_BREAK
// VRING TX (descriptors, avail, used)
// <<<< PAGE_BREAK
// VRING RX (descriptors, avail, used)
// <<<< PAGE_BREAK
// BUFFERS TX (RingSize * FrameSize)
// <<<< PAGE_BREAK
// BUFFERS RX (RingSize * FrameSize)
// <<<< PAGE_BREAK
// TRACE
// <<<< PAGE_END

// NewLayout computes the layout for cfg
func NewLayout(cfg Config) (Layout, error) {
	if cfg.RingSize < 2 || cfg.RingSize&(cfg.RingSize-1) != 0 || cfg.RingSize > 1<<15 {
		return Layout{}, ErrInvalidSize
	}
	if cfg.Align < 4 || cfg.Align&(cfg.Align-1) != 0 || cfg.Align > shm.PageSize() {
		return Layout{}, ErrMemoryAlign
	}
	if cfg.TraceSize < 0 {
		return Layout{}, ErrInvalidSize
	}

	l := Layout{Config: cfg}
	off := 0
	next := func(n int) int {
		start := off
		off = shm.AlignPage(off + n)
		return start
	}

	ringSize := vring.Size(cfg.RingSize, cfg.Align)
	buffers := cfg.RingSize * protocol.FrameSize

	l.Header = next(shm.PageSize())
	l.Table = next(shm.PageSize())
	l.TxRing = next(ringSize)
	l.RxRing = next(ringSize)
	l.TxBuffers = next(buffers)
	l.RxBuffers = next(buffers)
	l.Trace = next(cfg.TraceSize)
	l.Size = off

	if l.Size > vring.AddrMask {
		return Layout{}, ErrInvalidSize
	}
	return l, nil
}

// SizeCarveout returns the region size needed for cfg, or 0 when cfg is invalid
func SizeCarveout(cfg Config) int {
	l, err := NewLayout(cfg)
	if err != nil {
		return 0
	}
	return l.Size
}

// DefaultTable builds the resource table describing l
func DefaultTable(l Layout) rsc.Table {
	return rsc.Table{
		Version: rsc.Version,
		Entries: []rsc.Entry{
			rsc.Carveout{Len: uint32(l.Size), Name: "TEXT/DATA"},
			rsc.Vdev{
				ID:        VirtioIDRpmsg,
				DFeatures: RpmsgFeatureNS,
				Vrings: []rsc.Vring{
					{DA: uint32(l.TxRing), Align: uint32(l.Align), Num: uint32(l.RingSize), NotifyID: 1},
					{DA: uint32(l.RxRing), Align: uint32(l.Align), Num: uint32(l.RingSize), NotifyID: 2},
				},
			},
			rsc.Trace{DA: uint32(l.Trace), Len: uint32(l.TraceSize), Name: "trace_buffer"},
			rsc.MMU{ID: 0, DA: TTCBase, Flags: MMUFlags, Name: "ttc"},
			rsc.MMU{ID: 1, DA: UARTBase, Flags: MMUFlags, Name: "uart"},
			rsc.MMU{ID: 2, DA: SCUBase, Flags: MMUFlags, Name: "scu"},
		},
	}
}

// Doorbell returns a cross-process interrupt controller over the header page
func Doorbell(region *shm.Region, l Layout) (*irq.Doorbell, error) {
	return irq.NewDoorbell(region, l.Header+DoorbellBase)
}
