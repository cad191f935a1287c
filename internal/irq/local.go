package irq

import (
	"sync"
	"sync/atomic"

	"gosuda.org/amplink/internal/rtos"
)

// Local connects domains that live in the same process. Every line has a
// pending counter and its own dispatcher goroutine, so a raise is never lost
// or merged with another one, and handlers of one line run one at a time.
type Local struct {
	mu     sync.Mutex
	lines  map[Line]*localLine
	closed bool
	wg     sync.WaitGroup
}

type localLine struct {
	pending atomic.Uint32
	handler Handler
	stop    chan struct{}
	signal  chan struct{}
	raised  atomic.Uint64
}

// NewLocal creates an in-process controller
func NewLocal() *Local {
	return &Local{lines: make(map[Line]*localLine)}
}

func (c *Local) line(line Line) *localLine {
	l, ok := c.lines[line]
	if !ok {
		l = &localLine{signal: make(chan struct{}, 1)}
		c.lines[line] = l
	}
	return l
}

// Register binds h to line. Raises that arrived before registration are
// delivered once the handler is bound.
func (c *Local) Register(line Line, h Handler) error {
	if !validLine(line) {
		return ErrBadLine
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	l := c.line(line)
	if l.handler != nil {
		return ErrRegistered
	}
	l.handler = h
	l.stop = make(chan struct{})

	c.wg.Add(1)
	go c.dispatch(line, l, h, l.stop)
	return nil
}

func (c *Local) dispatch(line Line, l *localLine, h Handler, stop chan struct{}) {
	defer c.wg.Done()

	for {
		for {
			n := l.pending.Load()
			if n == 0 {
				break
			}
			if l.pending.CompareAndSwap(n, n-1) {
				h(rtos.EnterISR(int(line)))
			}
		}

		select {
		case <-l.signal:
		case <-stop:
			return
		}
	}
}

// Disable unbinds line and clears its pending raises
func (c *Local) Disable(line Line) {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.lines[line]
	if !ok || l.handler == nil {
		return
	}
	close(l.stop)
	l.handler = nil
	l.pending.Store(0)
}

// Raise signals line
func (c *Local) Raise(line Line) {
	if !validLine(line) {
		return
	}

	c.mu.Lock()
	l := c.line(line)
	c.mu.Unlock()

	l.raised.Add(1)
	l.pending.Add(1)
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Raised returns how many times line has been raised
func (c *Local) Raised(line Line) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.lines[line]; ok {
		return l.raised.Load()
	}
	return 0
}

// Close disables every line and waits for the dispatchers to exit
func (c *Local) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		for _, l := range c.lines {
			if l.handler != nil {
				close(l.stop)
				l.handler = nil
			}
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}
