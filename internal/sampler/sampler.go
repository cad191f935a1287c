// Package sampler measures interrupt latency into a histogram.
//
// A timer overflows, keeps counting, and its interrupt handler reads the
// counter: the value is the number of ticks between the hardware event and
// the handler running. The control loop task re-arms the timer after every
// sample while sampling is enabled.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"gosuda.org/amplink/internal/histogram"
	"gosuda.org/amplink/internal/irq"
	"gosuda.org/amplink/internal/rtos"
	"gosuda.org/amplink/internal/trace"
)

// Error definitions for the sampling engine
var (
	ErrAllocation = errors.New("sampler: histogram buffers not allocated")
	ErrPeripheral = errors.New("sampler: timer configuration failed")
)

// CounterMask keeps the bits of the timer counter that are sampled
const CounterMask = 0xffff

// Timer is the sampling timer peripheral
type Timer interface {
	// Configure stops the counter and acknowledges any pending overflow
	Configure() error
	// Arm resets the counter and enables the overflow interrupt
	Arm()
	// Disarm stops the counter and disables the overflow interrupt
	Disarm()
	// Count returns the counter value, in ticks since the last overflow
	Count() uint32
}

// Config holds sampling parameters
type Config struct {
	SampleTimeout time.Duration // Bound on each wait for a sample
	ProgressEvery int           // Samples between progress trace lines
}

// DefaultConfig returns the default sampling configuration
func DefaultConfig() Config {
	return Config{
		SampleTimeout: time.Second,
		ProgressEvery: 1000,
	}
}

// Engine owns the live and clone histograms and the cloning lock.
//
// The cloning lock is held by the control loop for as long as sampling is
// active, so Clone can only copy the live histogram while the timer
// interrupt is not writing it.
type Engine struct {
	cfg   Config
	timer Timer
	log   trace.Logger

	live    *histogram.Live
	cloneMu sync.Mutex
	clone   *histogram.Snapshot

	enabled atomic.Bool
	running atomic.Bool // Cleared only inside intr
	samples atomic.Uint64
	intr    rtos.Critical // Orders the interrupt against the end of sampling

	sample  *rtos.Binary        // Given by the timer interrupt once per sample
	cloning *semaphore.Weighted // Held while sampling or cloning
}

// New creates an engine sampling with timer
func New(cfg Config, timer Timer, log trace.Logger) *Engine {
	def := DefaultConfig()
	if cfg.SampleTimeout <= 0 {
		cfg.SampleTimeout = def.SampleTimeout
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if log == nil {
		log = trace.Discard
	}

	clone := histogram.Cleared()
	return &Engine{
		cfg:     cfg,
		timer:   timer,
		log:     log,
		live:    histogram.NewLive(),
		clone:   &clone,
		sample:  rtos.NewBinary(true),
		cloning: semaphore.NewWeighted(1),
	}
}

// Setup programs the timer and binds its interrupt. The timer is left
// stopped until sampling is enabled.
func (e *Engine) Setup(ctrl irq.Controller) error {
	if err := e.timer.Configure(); err != nil {
		return fmt.Errorf("%w: %w", ErrPeripheral, err)
	}
	if err := ctrl.Register(irq.LineTimer, e.HandleIRQ); err != nil {
		return fmt.Errorf("%w: %w", ErrPeripheral, err)
	}
	return nil
}

// HandleIRQ services a timer overflow. An overflow that lands after
// sampling stopped is dropped: the live histogram may be being cloned.
func (e *Engine) HandleIRQ(isr rtos.ISR) {
	v := e.timer.Count() & CounterMask
	e.timer.Disarm()

	e.intr.Enter()
	defer e.intr.Exit()
	if !e.running.Load() {
		return
	}
	e.live.Record(v)
	e.samples.Add(1)
	isr.GiveSemaphore(e.sample)
}

// Enable starts sampling on the next control loop iteration
func (e *Engine) Enable() {
	e.enabled.Store(true)
}

// Disable stops sampling on the next control loop iteration
func (e *Engine) Disable() {
	e.enabled.Store(false)
}

// Enabled reports whether sampling has been requested
func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// Sampling reports whether the control loop is actively sampling and
// therefore holds the cloning lock
func (e *Engine) Sampling() bool {
	return e.running.Load()
}

// Samples returns the number of timer interrupts serviced
func (e *Engine) Samples() uint64 {
	return e.samples.Load()
}

// Clear empties the live histogram
func (e *Engine) Clear() {
	e.live.Clear()
}

// Clone copies the live histogram into the clone. It waits for the cloning
// lock, which means it waits for sampling to stop.
func (e *Engine) Clone(ctx context.Context) error {
	if err := e.cloning.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.cloning.Release(1)

	var s histogram.Snapshot
	e.live.CopyTo(&s)

	e.cloneMu.Lock()
	*e.clone = s
	e.cloneMu.Unlock()
	return nil
}

// Snapshot returns the clone
func (e *Engine) Snapshot() histogram.Snapshot {
	e.cloneMu.Lock()
	defer e.cloneMu.Unlock()
	return *e.clone
}

// Image returns the wire image of the clone
func (e *Engine) Image() []byte {
	s := e.Snapshot()
	b, _ := s.MarshalBinary()
	return b
}

// Run is the sampling control loop. It runs once per scheduler tick until
// the domain halts.
func (e *Engine) Run(t *rtos.Task) error {
	if e.live == nil || e.clone == nil || e.sample == nil || e.cloning == nil {
		e.log.WriteLineString("task_latency: unable to create message semaphores")
		return ErrAllocation
	}
	defer e.stop(t)

	e.Clear()
	e.log.WriteLineString("task_latency: starting sampling of irq latency")

	tk := t.NewTicker()
	count := 0
	for {
		if e.enabled.Load() {
			if !e.running.Load() {
				// Hold the lock for the whole sampling period; the interrupt
				// may write the live histogram at any time
				if err := e.cloning.Acquire(t.Context(), 1); err != nil {
					return err
				}
				e.running.Store(true)
			}

			ok, err := e.sample.Take(t, e.cfg.SampleTimeout)
			if err != nil {
				return err
			}
			if ok {
				e.timer.Arm()
			} else {
				e.log.WriteLineString("task_latency: failed to get semaphore")
			}

			count++
			if count == e.cfg.ProgressEvery {
				count = 0
				e.log.WriteLineString("task_latency: sampled 1 full buffers")
			}
		} else if e.running.Load() {
			// Let an in-flight sample land, then stop the timer while
			// holding the semaphore
			_, err := e.sample.Take(t, e.cfg.SampleTimeout)
			e.stop(t)
			if err != nil {
				return err
			}
		}

		if err := tk.DelayUntil(t.Kernel().Tick()); err != nil {
			return err
		}
	}
}

// stop disarms the timer and releases the cloning lock if sampling was active
func (e *Engine) stop(t *rtos.Task) {
	if !e.running.Load() {
		return
	}
	e.timer.Disarm()
	e.sample.Give(t)

	e.intr.Enter()
	e.running.Store(false)
	e.intr.Exit()
	e.cloning.Release(1)
}
