package amplink

import (
	"sync"

	"gosuda.org/amplink/internal/irq"
	"gosuda.org/amplink/internal/protocol"
	"gosuda.org/amplink/internal/rtos"
	"gosuda.org/amplink/internal/shm"
	"gosuda.org/amplink/internal/trace"
	"gosuda.org/amplink/internal/vring"
)

// Request is one received command. It lives for the duration of a single
// dispatch and is never retained after the reply is sent.
type Request struct {
	protocol.Header
	Word    uint32 // First payload word
	Payload []byte // Copy of the frame payload
}

// Command returns the command code of the request
func (r *Request) Command() protocol.Command {
	cmd, _, _ := protocol.ParseWord(r.Word)
	return cmd
}

// Replier sends acknowledgements and responses back to a request's sender
type Replier interface {
	// Ack sends the command word with the ACK bit set
	Ack(t *rtos.Task, req *Request) error
	// Respond sends data split into as many frames as needed
	Respond(t *rtos.Task, req *Request, data []byte) error
}

// Handler serves requests arriving on the RX ring. It runs in the rxvring
// task and may block.
type Handler interface {
	ServeRequest(t *rtos.Task, rp Replier, req *Request) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(t *rtos.Task, rp Replier, req *Request) error

// ServeRequest calls f
func (f HandlerFunc) ServeRequest(t *rtos.Task, rp Replier, req *Request) error {
	return f(t, rp, req)
}

// Remote is the real-time side of the transport. It owns the channel state
// of the TX direction and the tasks that drain both directions.
type Remote struct {
	region  *shm.Region
	tx, rx  *vring.Ring
	ctrl    irq.Controller
	handler Handler
	log     trace.Logger

	// TX channel state. head counts frames written, tail counts buffers the
	// peer released (starting one lap behind), ready is nonzero while the
	// peer is waiting for a kick.
	txmu    sync.Mutex
	txHead  uint32
	txTail  uint32
	txReady uint32

	hostReady int    // Header word the host bumps on Ready
	readySeen uint32 // Ready calls answered; owned by the TX task

	txKicks rtos.KickCounter
	rxKicks rtos.KickCounter
	txTask  *rtos.Task
	rxTask  *rtos.Task

	announce protocol.ChannelInfo
}

// NewRemote attaches the real-time side to a freshly loaded carveout. The
// host's ready word must still read zero.
func NewRemote(region *shm.Region, l Layout, ctrl irq.Controller, handler Handler, log trace.Logger) (*Remote, error) {
	tx, rx, err := rings(region, l)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = trace.Discard
	}
	return &Remote{
		region:    region,
		tx:        tx,
		rx:        rx,
		ctrl:      ctrl,
		handler:   handler,
		log:       log,
		txTail:    tx.Num() - 1,
		hostReady: l.Header + hdrHost,
		announce: protocol.ChannelInfo{
			Name: ServiceName,
			Src:  ServiceAddr,
		},
	}, nil
}

// Start spawns the ring tasks on k and binds the two inbound lines
func (r *Remote) Start(k *rtos.Kernel) error {
	r.txTask = k.Spawn("TXVRING_TASK", rtos.PriorityHigh, r.txvring)
	r.rxTask = k.Spawn("RXVRING_TASK", rtos.PriorityHigh, r.rxvring)

	trace.Logf(r.log, "setup irq handler for remoteproc irq %d and %d", irq.LineTxVring, irq.LineRxVring)
	if err := r.ctrl.Register(irq.LineTxVring, r.txIRQ); err != nil {
		return err
	}
	if err := r.ctrl.Register(irq.LineRxVring, r.rxIRQ); err != nil {
		r.ctrl.Disable(irq.LineTxVring)
		return err
	}
	return nil
}

// Stop unbinds the inbound lines
func (r *Remote) Stop() {
	r.ctrl.Disable(irq.LineTxVring)
	r.ctrl.Disable(irq.LineRxVring)
}

// txIRQ: the peer released a TX buffer or became ready for data
func (r *Remote) txIRQ(isr rtos.ISR) {
	r.txKicks.Kick(isr)
	isr.ResumeTask(r.txTask)
}

// rxIRQ: the peer placed a frame in the RX ring
func (r *Remote) rxIRQ(isr rtos.ISR) {
	r.rxKicks.Kick(isr)
	isr.ResumeTask(r.rxTask)
}

// txvring serves TX line kicks. A kick is either the host announcing itself
// through Ready or the host handing back a consumed buffer. The two are told
// apart by the ready word: while it is ahead of the Ready calls answered so
// far, one pending kick is a Ready. Kicks are counted, not ordered, so it
// does not matter which of two pending kicks gets that role.
func (r *Remote) txvring(t *rtos.Task) error {
	return r.txKicks.Drain(t, func() error {
		if r.region.Load32(r.hostReady) != r.readySeen {
			// The peer is up; tell it who we are
			r.readySeen++
			r.txmu.Lock()
			r.publishOrWait()
			r.txmu.Unlock()

			b, _ := r.announce.MarshalBinary()
			return r.SendBlocking(t, ServiceAddr, AnnounceAddr, b)
		}

		r.txmu.Lock()
		defer r.txmu.Unlock()

		// The peer released a buffer
		r.txTail++
		r.publishOrWait()
		return nil
	})
}

// publishOrWait publishes one written frame to the peer, or marks the peer
// as waiting when there is none. Callers hold txmu.
func (r *Remote) publishOrWait() {
	if idx := r.tx.UsedIdx(); idx != uint16(r.txHead) {
		// A frame is waiting; publish it and kick
		r.tx.SetUsedIdx(idx + 1)
		r.ctrl.Raise(irq.LineNotifyHost)
	} else {
		r.txReady = 1
	}
}

func (r *Remote) rxvring(t *rtos.Task) error {
	return r.rxKicks.Drain(t, func() error {
		f, ok := r.TryDequeue()
		if !ok {
			return nil
		}
		req := &Request{
			Header:  f.Header,
			Word:    protocol.FirstWord(f.Payload),
			Payload: f.Payload,
		}
		if r.handler == nil {
			return nil
		}
		return r.handler.ServeRequest(t, r, req)
	})
}

// TryEnqueue writes one frame into the TX ring without blocking. It returns
// ErrRingFull, leaving the channel state untouched, when every slot is
// still held by the peer. The frame is published to the peer right away if
// the peer is ready, otherwise on its next release kick. Payloads longer
// than protocol.MaxPayload are truncated.
func (r *Remote) TryEnqueue(src, dst uint32, payload []byte) error {
	r.txmu.Lock()
	defer r.txmu.Unlock()

	num := r.tx.Num()
	index := r.txHead % num
	if index == r.txTail%num {
		return ErrRingFull
	}

	off, n, err := r.tx.Buffer(index)
	if err != nil {
		return err
	}
	slot := make([]byte, n)
	protocol.EncodeFrame(slot, src, dst, payload)
	if _, err := r.region.WriteAt(slot, off); err != nil {
		return err
	}

	r.txHead++
	r.tx.SetUsedEntry(index, vring.UsedElement{ID: index, Len: protocol.FrameSize})

	if r.txReady > 0 {
		r.tx.SetUsedIdx(r.tx.UsedIdx() + 1)
		r.txReady--
		r.ctrl.Raise(irq.LineNotifyHost)
	} else {
		// Not ready: leave idx alone, the release kick publishes it
		r.region.Flush()
	}
	return nil
}

// SendBlocking retries TryEnqueue once per scheduler tick until the frame
// is written. It only gives up when the domain halts.
func (r *Remote) SendBlocking(t *rtos.Task, src, dst uint32, payload []byte) error {
	for {
		err := r.TryEnqueue(src, dst, payload)
		if err != ErrRingFull {
			return err
		}
		if err := t.Yield(); err != nil {
			return err
		}
	}
}

// TryDequeue takes the next frame from the RX ring. It reports false when
// the peer has not published anything new. The returned payload is a copy,
// the slot is handed back as soon as it has been read.
func (r *Remote) TryDequeue() (protocol.Frame, bool) {
	used := r.rx.UsedIdx()
	if used == r.rx.AvailIdx() {
		return protocol.Frame{}, false
	}

	index := uint32(r.rx.AvailEntry(used)) % r.rx.Num()
	f, err := r.readSlot(index)

	r.rx.SetUsedEntry(uint32(used), vring.UsedElement{ID: index, Len: protocol.FrameSize})
	r.rx.SetUsedIdx(used + 1)

	if err != nil {
		trace.Logf(r.log, "rpmsg: dropped rx frame %d: %v", index, err)
		return protocol.Frame{}, false
	}
	return f, true
}

func (r *Remote) readSlot(index uint32) (protocol.Frame, error) {
	off, n, err := r.rx.Buffer(index)
	if err != nil {
		return protocol.Frame{}, err
	}
	slot := make([]byte, n)
	if _, err := r.region.ReadAt(slot, off); err != nil {
		return protocol.Frame{}, err
	}
	return protocol.DecodeFrame(slot)
}

// Ack acknowledges req to its sender
func (r *Remote) Ack(t *rtos.Task, req *Request) error {
	return r.SendBlocking(t, req.Dst, req.Src, protocol.PutWord(protocol.AckWord(req.Word)))
}

// Respond sends data to req's sender in MaxPayload-sized frames. Empty data
// sends nothing.
func (r *Remote) Respond(t *rtos.Task, req *Request, data []byte) error {
	for _, chunk := range protocol.Chunks(data) {
		if err := r.SendBlocking(t, req.Dst, req.Src, chunk); err != nil {
			return err
		}
	}
	return nil
}
