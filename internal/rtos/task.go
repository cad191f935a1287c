package rtos

import (
	"context"
	"time"
)

// Task is the handle of one cooperating task. Only the task's own goroutine
// may call the blocking methods.
type Task struct {
	k    *Kernel
	name string
	prio Priority
	wake chan struct{} // Pending resume, at most one
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Priority returns the task priority
func (t *Task) Priority() Priority {
	return t.prio
}

// Kernel returns the kernel the task runs on
func (t *Task) Kernel() *Kernel {
	return t.k
}

// Context is done when the domain halts
func (t *Task) Context() context.Context {
	return t.k.ctx
}

// Suspend blocks until the task is resumed. A resume that arrived while the
// task was still running is remembered, so a wake-up is never lost between
// checking for work and suspending.
func (t *Task) Suspend() error {
	select {
	case <-t.wake:
		return nil
	case <-t.k.ctx.Done():
		return t.k.ctx.Err()
	}
}

// Resume wakes the task from another task
func (t *Task) Resume() {
	t.resume()
}

func (t *Task) resume() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// Delay blocks for d
func (t *Task) Delay(d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-t.k.ctx.Done():
		return t.k.ctx.Err()
	}
}

// Yield blocks for one scheduler tick
func (t *Task) Yield() error {
	return t.Delay(t.k.tick)
}

// Ticker paces a periodic loop on absolute deadlines, so the time spent in
// the loop body does not accumulate as drift
type Ticker struct {
	t    *Task
	next time.Time
}

// NewTicker starts a periodic schedule at the current time
func (t *Task) NewTicker() *Ticker {
	return &Ticker{t: t, next: time.Now()}
}

// DelayUntil blocks until period has elapsed since the previous wake time
func (tk *Ticker) DelayUntil(period time.Duration) error {
	tk.next = tk.next.Add(period)
	d := time.Until(tk.next)
	if d <= 0 {
		// Late; the next deadline restarts from now
		tk.next = time.Now()
		return tk.t.k.ctx.Err()
	}
	return tk.t.Delay(d)
}
