package sampler

import (
	"errors"
	"sync"
	"time"

	"gosuda.org/amplink/internal/histogram"
	"gosuda.org/amplink/internal/irq"
)

// ErrPeriod is returned when configuring a timer without a period
var ErrPeriod = errors.New("sampler: timer period must be positive")

// SimTimer is a software sampling timer. Once armed it overflows after the
// configured period, raises the timer line, and keeps counting at ClockHz,
// so Count measures how late the interrupt handler ran.
type SimTimer struct {
	ctrl   irq.Controller
	period time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64    // Arm generation; stale overflows are ignored
	overflow time.Time // Time of the last overflow
	armed    bool
}

// NewSimTimer creates a timer that raises irq.LineTimer on ctrl
func NewSimTimer(ctrl irq.Controller, period time.Duration) *SimTimer {
	return &SimTimer{ctrl: ctrl, period: period}
}

// Configure stops the timer
func (s *SimTimer) Configure() error {
	if s.period <= 0 {
		return ErrPeriod
	}
	s.Disarm()
	return nil
}

// Arm resets the counter and schedules the next overflow
func (s *SimTimer) Arm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.armed = true
	s.timer = time.AfterFunc(s.period, func() {
		s.mu.Lock()
		if !s.armed || s.gen != gen {
			s.mu.Unlock()
			return
		}
		s.overflow = time.Now()
		s.mu.Unlock()
		s.ctrl.Raise(irq.LineTimer)
	})
}

// Disarm stops the counter and drops a pending overflow
func (s *SimTimer) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Count returns ticks elapsed since the last overflow, saturating at the
// largest 32-bit value
func (s *SimTimer) Count() uint32 {
	s.mu.Lock()
	overflow := s.overflow
	s.mu.Unlock()

	if overflow.IsZero() {
		return 0
	}
	d := time.Since(overflow)
	if d >= time.Second {
		return 0xffffffff
	}
	return uint32(uint64(d.Nanoseconds()) * histogram.ClockHz / uint64(time.Second))
}
