package rtos

import "time"

// Binary is a binary semaphore. It can be given from interrupt context
// through an ISR token and taken, with a timeout, from a task.
type Binary struct {
	ch chan struct{}
}

// NewBinary creates a binary semaphore, initially given when given is true
func NewBinary(given bool) *Binary {
	s := &Binary{ch: make(chan struct{}, 1)}
	if given {
		s.ch <- struct{}{}
	}
	return s
}

// Take acquires the semaphore, waiting up to timeout. It reports false on
// timeout and returns an error only when the domain halts.
func (s *Binary) Take(t *Task, timeout time.Duration) (bool, error) {
	select {
	case <-s.ch:
		return true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.ch:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-t.k.ctx.Done():
		return false, t.k.ctx.Err()
	}
}

// Give releases the semaphore from task context
func (s *Binary) Give(*Task) {
	s.give()
}

// give is a no-op when the semaphore is already given
func (s *Binary) give() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}
