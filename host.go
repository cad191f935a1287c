package amplink

import (
	"context"
	"sync"
	"time"

	"gosuda.org/amplink/internal/irq"
	"gosuda.org/amplink/internal/protocol"
	"gosuda.org/amplink/internal/rtos"
	"gosuda.org/amplink/internal/shm"
	"gosuda.org/amplink/internal/vring"
)

// writeRetry is how long Write waits before retrying a full RX ring
const writeRetry = time.Millisecond

// Host is the general-purpose side of the transport. It produces into the
// RX ring and consumes the TX ring, handing every consumed TX buffer back
// with a kick.
type Host struct {
	region *shm.Region
	tx, rx *vring.Ring
	ctrl   irq.Controller
	ready  int // Header word counting Ready calls

	rmu    sync.Mutex    // Serializes readers
	txLast uint16        // Next TX used index to consume
	wake   chan struct{} // Signaled by the notify line

	wmu sync.Mutex // Serializes writers
}

// NewHost attaches the general-purpose side to a loaded carveout and binds
// the notify line
func NewHost(region *shm.Region, l Layout, ctrl irq.Controller) (*Host, error) {
	tx, rx, err := rings(region, l)
	if err != nil {
		return nil, err
	}

	h := &Host{
		region: region,
		tx:     tx,
		rx:     rx,
		ctrl:   ctrl,
		ready:  l.Header + hdrHost,
		txLast: tx.UsedIdx(),
		wake:   make(chan struct{}, 1),
	}
	if err := ctrl.Register(irq.LineNotifyHost, h.notifyIRQ); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) notifyIRQ(rtos.ISR) {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Ready tells the real-time domain the host is up. The header word is
// bumped before the kick so the real-time domain can tell this kick from a
// buffer release. It answers with its service announcement, once per call.
func (h *Host) Ready() {
	h.region.Add32(h.ready, 1)
	h.ctrl.Raise(irq.LineTxVring)
}

// Close unbinds the notify line
func (h *Host) Close() error {
	h.ctrl.Disable(irq.LineNotifyHost)
	return nil
}

// TryWrite places one frame in the RX ring and kicks the real-time domain.
// It returns ErrRingFull while every slot is still unconsumed.
func (h *Host) TryWrite(src, dst uint32, payload []byte) error {
	h.wmu.Lock()
	defer h.wmu.Unlock()

	avail := h.rx.AvailIdx()
	if avail-h.rx.UsedIdx() >= uint16(h.rx.Num()) {
		return ErrRingFull
	}

	index := uint32(avail) % h.rx.Num()
	off, n, err := h.rx.Buffer(index)
	if err != nil {
		return err
	}
	slot := make([]byte, n)
	protocol.EncodeFrame(slot, src, dst, payload)
	if _, err := h.region.WriteAt(slot, off); err != nil {
		return err
	}

	h.rx.SetAvailEntry(avail, uint16(index))
	h.rx.SetAvailIdx(avail + 1)
	h.ctrl.Raise(irq.LineRxVring)
	return nil
}

// Write places one frame in the RX ring, waiting while it is full
func (h *Host) Write(ctx context.Context, src, dst uint32, payload []byte) error {
	for {
		err := h.TryWrite(src, dst, payload)
		if err != ErrRingFull {
			return err
		}

		timer := time.NewTimer(writeRetry)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// TryReadFrame consumes the next published TX frame, if any. The consumed
// buffer is returned to the real-time domain through the avail ring and a
// kick on the TX line.
func (h *Host) TryReadFrame() (protocol.Frame, bool, error) {
	h.rmu.Lock()
	defer h.rmu.Unlock()
	return h.tryRead()
}

func (h *Host) tryRead() (protocol.Frame, bool, error) {
	if h.tx.UsedIdx() == h.txLast {
		return protocol.Frame{}, false, nil
	}

	e := h.tx.UsedEntry(uint32(h.txLast))
	index := e.ID % h.tx.Num()
	h.txLast++

	off, n, err := h.tx.Buffer(index)
	var f protocol.Frame
	if err == nil {
		slot := make([]byte, n)
		if _, err = h.region.ReadAt(slot, off); err == nil {
			f, err = protocol.DecodeFrame(slot)
		}
	}

	// Release the buffer whatever its content was
	avail := h.tx.AvailIdx()
	h.tx.SetAvailEntry(avail, uint16(index))
	h.tx.SetAvailIdx(avail + 1)
	h.ctrl.Raise(irq.LineTxVring)

	if err != nil {
		return protocol.Frame{}, false, err
	}
	return f, true, nil
}

// ReadFrame blocks until the real-time domain publishes a TX frame
func (h *Host) ReadFrame(ctx context.Context) (protocol.Frame, error) {
	h.rmu.Lock()
	defer h.rmu.Unlock()

	for {
		f, ok, err := h.tryRead()
		if err != nil || ok {
			return f, err
		}

		select {
		case <-h.wake:
		case <-ctx.Done():
			return protocol.Frame{}, ctx.Err()
		}
	}
}

// WaitAnnounce reads frames until the service announcement arrives and
// returns it. Frames for other addresses are dropped.
func (h *Host) WaitAnnounce(ctx context.Context) (protocol.ChannelInfo, error) {
	for {
		f, err := h.ReadFrame(ctx)
		if err != nil {
			return protocol.ChannelInfo{}, err
		}
		if f.Dst != AnnounceAddr {
			continue
		}

		var info protocol.ChannelInfo
		if err := info.UnmarshalBinary(f.Payload); err != nil {
			return protocol.ChannelInfo{}, err
		}
		return info, nil
	}
}
