package irq

import (
	"sync"
	"time"

	"gosuda.org/amplink/internal/rtos"
	"gosuda.org/amplink/internal/shm"
)

// DoorbellSize is the number of bytes of shared memory a Doorbell uses
const DoorbellSize = int(MaxLine+1) * 8

// pollInterval bounds how long a waiter sleeps before re-checking its line
const pollInterval = 100 * time.Millisecond

// Doorbell connects domains in different processes through counter words in
// a shared region. Each line has a raise counter, written only by the raising
// side, and an acknowledge counter, written only by the handling side. The
// difference between the two is the number of pending raises.
type Doorbell struct {
	region *shm.Region
	base   int

	mu     sync.Mutex
	stops  map[Line]chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewDoorbell creates a controller over DoorbellSize bytes at base
func NewDoorbell(region *shm.Region, base int) (*Doorbell, error) {
	if base < 0 || base%8 != 0 || base+DoorbellSize > region.Size() {
		return nil, shm.ErrOutOfRange
	}
	return &Doorbell{
		region: region,
		base:   base,
		stops:  make(map[Line]chan struct{}),
	}, nil
}

func (d *Doorbell) raisedOff(line Line) int {
	return d.base + int(line)*8
}

func (d *Doorbell) ackedOff(line Line) int {
	return d.base + int(line)*8 + 4
}

// Register binds h to line. Raises the peer made before registration are
// delivered.
func (d *Doorbell) Register(line Line, h Handler) error {
	if !validLine(line) {
		return ErrBadLine
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, ok := d.stops[line]; ok {
		return ErrRegistered
	}

	stop := make(chan struct{})
	d.stops[line] = stop
	d.wg.Add(1)
	go d.dispatch(line, h, stop)
	return nil
}

func (d *Doorbell) dispatch(line Line, h Handler, stop chan struct{}) {
	defer d.wg.Done()

	raised := d.raisedOff(line)
	acked := d.ackedOff(line)
	for {
		select {
		case <-stop:
			return
		default:
		}

		r := d.region.Load32(raised)
		a := d.region.Load32(acked)
		if r == a {
			wait(d.region.Word(raised), r, pollInterval)
			continue
		}
		d.region.Store32(acked, a+1)
		h(rtos.EnterISR(int(line)))
	}
}

// Disable unbinds line and acknowledges every raise still pending
func (d *Doorbell) Disable(line Line) {
	d.mu.Lock()
	stop, ok := d.stops[line]
	if ok {
		delete(d.stops, line)
		close(stop)
	}
	d.mu.Unlock()

	if ok {
		d.region.Store32(d.ackedOff(line), d.region.Load32(d.raisedOff(line)))
	}
}

// Raise signals line and wakes a waiter in the peer process
func (d *Doorbell) Raise(line Line) {
	if !validLine(line) {
		return
	}
	off := d.raisedOff(line)
	d.region.Add32(off, 1)
	wake(d.region.Word(off))
}

// Close disables every line and waits for the dispatchers to exit
func (d *Doorbell) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for line, stop := range d.stops {
			close(stop)
			delete(d.stops, line)
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}
