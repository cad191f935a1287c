package amplink

import (
	"fmt"
	"runtime"
	"time"

	"gosuda.org/amplink/internal/protocol"
	"gosuda.org/amplink/internal/rsc"
	"gosuda.org/amplink/internal/shm"
	"gosuda.org/amplink/internal/trace"
	"gosuda.org/amplink/internal/vring"
)

// Load formats region for cfg: it writes the resource table, points every
// descriptor of both rings at its frame slot, clears the buffers and the
// trace log, and finally publishes the header. It runs once, before either
// domain starts.
func Load(region *shm.Region, cfg Config) (Layout, error) {
	l, err := NewLayout(cfg)
	if err != nil {
		return Layout{}, err
	}
	if region.Size() < l.Size {
		return Layout{}, ErrMemorySmall
	}

	// Unpublish first so an attaching peer never sees a half-written carveout
	region.Store32(l.Header+hdrReady, 0)

	table := DefaultTable(l)
	b, err := table.MarshalBinary()
	if err != nil {
		return Layout{}, err
	}
	if len(b) > shm.PageSize() {
		return Layout{}, ErrMemorySmall
	}
	if err := region.Zero(l.Table, shm.PageSize()); err != nil {
		return Layout{}, err
	}
	if _, err := region.WriteAt(b, l.Table); err != nil {
		return Layout{}, err
	}

	if _, err := vring.Init(region, l.TxRing, l.RingSize, l.Align, l.TxBuffers, protocol.FrameSize); err != nil {
		return Layout{}, fmt.Errorf("tx vring: %w", err)
	}
	if _, err := vring.Init(region, l.RxRing, l.RingSize, l.Align, l.RxBuffers, protocol.FrameSize); err != nil {
		return Layout{}, fmt.Errorf("rx vring: %w", err)
	}
	if err := region.Zero(l.Trace, l.TraceSize); err != nil {
		return Layout{}, err
	}
	if err := region.Zero(l.Header+DoorbellBase, shm.PageSize()-DoorbellBase); err != nil {
		return Layout{}, err
	}

	region.Store32(l.Header+hdrMagic, Magic)
	region.Store32(l.Header+hdrVersion, LayoutVersion)
	region.Store32(l.Header+hdrRingSize, uint32(l.RingSize))
	region.Store32(l.Header+hdrTableLen, uint32(len(b)))
	region.Store32(l.Header+hdrHost, 0)
	region.Store32(l.Header+hdrReady, 1)
	return l, nil
}

// Attach waits for a loaded carveout and returns its layout. A timeout of 0
// checks once.
func Attach(region *shm.Region, cfg Config, timeout time.Duration) (Layout, error) {
	l, err := NewLayout(cfg)
	if err != nil {
		return Layout{}, err
	}
	if region.Size() < l.Size {
		return Layout{}, ErrMemorySmall
	}

	start := time.Now()
	for {
		if region.Load32(l.Header+hdrMagic) == Magic &&
			region.Load32(l.Header+hdrVersion) == LayoutVersion &&
			region.Load32(l.Header+hdrReady) == 1 {
			break
		}
		if time.Since(start) >= timeout {
			return Layout{}, ErrNotLoaded
		}
		runtime.Gosched()
	}

	if int(region.Load32(l.Header+hdrRingSize)) != l.RingSize {
		return Layout{}, ErrInvalidSize
	}
	return l, nil
}

// ReadTable decodes the resource table of a loaded carveout
func ReadTable(region *shm.Region, l Layout) (rsc.Table, error) {
	n := int(region.Load32(l.Header + hdrTableLen))
	if n == 0 || n > shm.PageSize() {
		return rsc.Table{}, ErrNotLoaded
	}
	b := make([]byte, n)
	if _, err := region.ReadAt(b, l.Table); err != nil {
		return rsc.Table{}, err
	}
	return rsc.Decode(b)
}

// rings attaches the TX and RX rings the resource table describes
func rings(region *shm.Region, l Layout) (tx, rx *vring.Ring, err error) {
	table, err := ReadTable(region, l)
	if err != nil {
		return nil, nil, err
	}
	vdev, ok := rsc.Find[rsc.Vdev](&table)
	if !ok || vdev.ID != VirtioIDRpmsg || len(vdev.Vrings) != 2 {
		return nil, nil, ErrBadTable
	}

	attach := func(v rsc.Vring) (*vring.Ring, error) {
		return vring.Attach(region, int(v.DA&vring.AddrMask), int(v.Num), int(v.Align))
	}
	if tx, err = attach(vdev.Vrings[0]); err != nil {
		return nil, nil, fmt.Errorf("tx vring: %w", err)
	}
	if rx, err = attach(vdev.Vrings[1]); err != nil {
		return nil, nil, fmt.Errorf("rx vring: %w", err)
	}
	return tx, rx, nil
}

// TraceBuffer returns the trace log of a loaded carveout
func TraceBuffer(region *shm.Region, l Layout) (*trace.Buffer, error) {
	return trace.New(region, l.Trace, l.TraceSize)
}
