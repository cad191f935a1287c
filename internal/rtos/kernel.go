// Package rtos provides the scheduler collaborator of the real-time domain.
//
// Tasks are goroutines grouped under an errgroup. Interrupt handlers receive
// an ISR token instead of a *Task, so the operations that may block (Suspend,
// Delay, semaphore Take) are simply not reachable from interrupt context.
package rtos

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Error definitions for the kernel
var (
	ErrFault       = errors.New("rtos: processor fault")
	ErrNestedFault = errors.New("rtos: nested fault")
	ErrHalted      = errors.New("rtos: domain halted")
)

// DefaultTick is the scheduler tick used by Delay-until style loops
const DefaultTick = time.Millisecond

// Priority is the static priority a task was created with. Tasks of the
// same priority share the processor in creation order; the value is kept
// for fault dumps and trace output.
type Priority int

// Common priorities
const (
	PriorityIdle Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh = PriorityIdle + 3
)

// Logger is the sink for kernel messages, normally the trace buffer
type Logger interface {
	WriteLineString(s string)
}

type discard struct{}

func (discard) WriteLineString(string) {}

// Config holds kernel parameters
type Config struct {
	Name string        // Domain name used in trace output
	Tick time.Duration // Scheduler tick; 0 selects DefaultTick
	Log  Logger        // Trace sink; nil discards
}

// TaskFunc is the entry point of a task. Returning nil ends the task; a
// non-nil error halts the whole domain.
type TaskFunc func(t *Task) error

// Kernel owns the task set of one execution domain
type Kernel struct {
	name   string
	tick   time.Duration
	log    Logger
	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group

	faulting atomic.Bool
	tasks    atomic.Int32
}

// NewKernel creates a kernel whose tasks run until ctx is done or the domain halts
func NewKernel(ctx context.Context, cfg Config) *Kernel {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Log == nil {
		cfg.Log = discard{}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	group, gctx := errgroup.WithContext(ctx)
	return &Kernel{
		name:   cfg.Name,
		tick:   cfg.Tick,
		log:    cfg.Log,
		ctx:    gctx,
		cancel: cancel,
		group:  group,
	}
}

// Name returns the domain name
func (k *Kernel) Name() string {
	return k.name
}

// Tick returns the scheduler tick
func (k *Kernel) Tick() time.Duration {
	return k.tick
}

// Context is done once the domain halts
func (k *Kernel) Context() context.Context {
	return k.ctx
}

// Spawn creates a task and starts running it
func (k *Kernel) Spawn(name string, prio Priority, entry TaskFunc) *Task {
	t := &Task{
		k:    k,
		name: name,
		prio: prio,
		wake: make(chan struct{}, 1),
	}
	k.tasks.Add(1)

	k.group.Go(func() (err error) {
		defer k.tasks.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				err = k.fault(t, r)
			}
		}()

		err = entry(t)
		if err != nil && k.ctx.Err() != nil && errors.Is(err, k.ctx.Err()) {
			// Shutdown, not a failure of this task
			return nil
		}
		if err != nil {
			k.cancel(err)
		}
		return err
	})
	return t
}

// Tasks returns the number of tasks still running
func (k *Kernel) Tasks() int {
	return int(k.tasks.Load())
}

// Halt stops every task of the domain with the given cause
func (k *Kernel) Halt(cause error) {
	if cause == nil {
		cause = ErrHalted
	}
	k.cancel(cause)
}

// Wait blocks until every task has returned. It reports why the domain
// halted, or nil when it was stopped through its parent context.
func (k *Kernel) Wait() error {
	err := k.group.Wait()
	cause := context.Cause(k.ctx)
	k.cancel(nil)
	if cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return err
}

// fault dumps a panicking task to the trace log and halts the domain.
// A fault raised while another one is being reported skips the dump.
func (k *Kernel) fault(t *Task, r any) error {
	if !k.faulting.CompareAndSwap(false, true) {
		k.cancel(ErrNestedFault)
		return ErrNestedFault
	}

	err := fmt.Errorf("%w: task %s: %v", ErrFault, t.name, r)
	k.log.WriteLineString(fmt.Sprintf("%s: fault in task %s (priority %d): %v", k.name, t.name, t.prio, r))
	for _, line := range strings.Split(strings.TrimSpace(string(debug.Stack())), "\n") {
		k.log.WriteLineString("  " + line)
	}
	k.cancel(err)
	return err
}
