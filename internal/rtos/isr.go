package rtos

import "sync"

// ISR is the capability token handed to interrupt handlers. It only offers
// operations that never block.
type ISR struct {
	line int
}

// EnterISR returns the token for a handler servicing line. Interrupt
// controllers call it before dispatching a handler.
func EnterISR(line int) ISR {
	return ISR{line: line}
}

// Line returns the interrupt line being serviced
func (isr ISR) Line() int {
	return isr.line
}

// ResumeTask wakes a suspended task
func (isr ISR) ResumeTask(t *Task) {
	t.resume()
}

// GiveSemaphore releases s
func (isr ISR) GiveSemaphore(s *Binary) {
	s.give()
}

// Critical is a short critical section shared between interrupt and task
// context. Holders must not block while inside it.
type Critical struct {
	mu sync.Mutex
}

// Enter begins the critical section
func (c *Critical) Enter() {
	c.mu.Lock()
}

// Exit ends the critical section
func (c *Critical) Exit() {
	c.mu.Unlock()
}

// KickCounter counts notifications received for one direction. Kicks are
// counted, not flagged, so back-to-back kicks are each drained once.
type KickCounter struct {
	cs Critical
	n  uint32
}

// Kick records one notification from interrupt context
func (c *KickCounter) Kick(ISR) {
	c.cs.Enter()
	c.n++
	c.cs.Exit()
}

// Take consumes one pending kick. It reports false when none is pending.
func (c *KickCounter) Take(*Task) bool {
	c.cs.Enter()
	defer c.cs.Exit()

	if c.n == 0 {
		return false
	}
	c.n--
	return true
}

// Pending returns the number of kicks not yet taken
func (c *KickCounter) Pending() uint32 {
	c.cs.Enter()
	defer c.cs.Exit()
	return c.n
}

// Drain runs work once per kick, suspending t whenever no kick is pending.
// It returns only when work fails or the domain halts.
func (c *KickCounter) Drain(t *Task, work func() error) error {
	for {
		if c.Take(t) {
			if err := work(); err != nil {
				return err
			}
			continue
		}
		if err := t.Suspend(); err != nil {
			return err
		}
	}
}
