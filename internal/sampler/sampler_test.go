package sampler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gosuda.org/amplink/internal/histogram"
	"gosuda.org/amplink/internal/irq"
	"gosuda.org/amplink/internal/rtos"
)

// manualTimer never overflows on its own; tests inject samples through HandleIRQ
type manualTimer struct {
	mu        sync.Mutex
	count     uint32
	armed     int
	disarmed  int
	configErr error
}

func (m *manualTimer) Configure() error { return m.configErr }

func (m *manualTimer) Arm() {
	m.mu.Lock()
	m.armed++
	m.mu.Unlock()
}

func (m *manualTimer) Disarm() {
	m.mu.Lock()
	m.disarmed++
	m.mu.Unlock()
}

func (m *manualTimer) Count() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

func (m *manualTimer) set(v uint32) {
	m.mu.Lock()
	m.count = v
	m.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func startEngine(t *testing.T, timer Timer) (*Engine, *rtos.Kernel) {
	t.Helper()
	k := rtos.NewKernel(context.Background(), rtos.Config{Name: "test"})
	e := New(Config{SampleTimeout: 10 * time.Millisecond}, timer, nil)
	k.Spawn("TIMER", rtos.PriorityHigh, e.Run)
	t.Cleanup(func() {
		k.Halt(nil)
		k.Wait()
	})
	return e, k
}

// TestSnapshotIsolation verifies CLONE blocks until STOP and sees every injected sample
func TestSnapshotIsolation(t *testing.T) {
	timer := &manualTimer{}
	e, _ := startEngine(t, timer)

	e.Enable()
	waitFor(t, "sampling to start", e.Sampling)

	const k = 250
	isr := rtos.EnterISR(int(irq.LineTimer))
	for i := 0; i < k; i++ {
		timer.set(uint32(i * 7))
		e.HandleIRQ(isr)
	}

	done := make(chan error, 1)
	go func() { done <- e.Clone(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("Clone() returned %v while sampling was active", err)
	case <-time.After(50 * time.Millisecond):
	}

	e.Disable()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Clone() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Clone() still blocked after Disable")
	}

	s := e.Snapshot()
	if s.SampleCount != k {
		t.Fatalf("SampleCount = %d, want %d", s.SampleCount, k)
	}
	if s.BucketSum()+s.OutCount != k {
		t.Fatalf("buckets %d + out %d != %d", s.BucketSum(), s.OutCount, k)
	}
	if s.Max != (k-1)*7 || s.Min != 0 {
		t.Fatalf("Min, Max = %d, %d", s.Min, s.Max)
	}
}

// TestCloneWhileIdle verifies CLONE does not wait when sampling is off
func TestCloneWhileIdle(t *testing.T) {
	timer := &manualTimer{}
	e, _ := startEngine(t, timer)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Clone(ctx); err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	if s := e.Snapshot(); s != histogram.Cleared() {
		t.Fatal("clone of a cleared histogram is not cleared")
	}
}

// TestCounterMasked verifies only the low 16 counter bits are sampled
func TestCounterMasked(t *testing.T) {
	timer := &manualTimer{count: 0x10005}
	e := New(DefaultConfig(), timer, nil)

	e.running.Store(true)
	e.HandleIRQ(rtos.EnterISR(int(irq.LineTimer)))
	e.running.Store(false)
	if err := e.Clone(context.Background()); err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	s := e.Snapshot()
	if s.Data[5] != 1 || s.Max != 5 {
		t.Fatalf("sampled %d, want 5", s.Max)
	}
	if timer.disarmed != 1 {
		t.Fatalf("HandleIRQ() disarmed %d times, want 1", timer.disarmed)
	}
}

// TestOverflowAfterStopDropped verifies a timer overflow serviced after
// sampling stopped leaves the live histogram alone
func TestOverflowAfterStopDropped(t *testing.T) {
	timer := &manualTimer{count: 42}
	e, _ := startEngine(t, timer)

	e.Enable()
	waitFor(t, "sampling to start", e.Sampling)
	e.Disable()
	waitFor(t, "sampling to stop", func() bool { return !e.Sampling() })

	e.HandleIRQ(rtos.EnterISR(int(irq.LineTimer)))
	if n := e.Samples(); n != 0 {
		t.Fatalf("Samples() = %d after a late overflow, want 0", n)
	}
	if err := e.Clone(context.Background()); err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	if s := e.Snapshot(); s != histogram.Cleared() {
		t.Fatalf("late overflow reached the histogram: SampleCount = %d", s.SampleCount)
	}
}

// TestRearmAfterSample verifies the loop re-arms the timer once per sample
func TestRearmAfterSample(t *testing.T) {
	timer := &manualTimer{}
	e, _ := startEngine(t, timer)

	armed := func() int {
		timer.mu.Lock()
		defer timer.mu.Unlock()
		return timer.armed
	}

	e.Enable()
	// The semaphore starts given, so the first iteration arms immediately
	waitFor(t, "first arm", func() bool { return armed() == 1 })

	e.HandleIRQ(rtos.EnterISR(int(irq.LineTimer)))
	waitFor(t, "second arm", func() bool { return armed() == 2 })

	e.Disable()
	waitFor(t, "sampling to stop", func() bool { return !e.Sampling() })
}

// TestSetupPeripheralFailure verifies a timer configuration error is fatal to setup
func TestSetupPeripheralFailure(t *testing.T) {
	timer := &manualTimer{configErr: errors.New("bad reload value")}
	e := New(DefaultConfig(), timer, nil)

	c := irq.NewLocal()
	defer c.Close()
	if err := e.Setup(c); !errors.Is(err, ErrPeripheral) {
		t.Fatalf("Setup() error = %v, want %v", err, ErrPeripheral)
	}
}

// TestRunWithoutBuffers verifies an engine not built by New refuses to run
func TestRunWithoutBuffers(t *testing.T) {
	k := rtos.NewKernel(context.Background(), rtos.Config{Name: "test"})
	e := &Engine{log: nopLog{}}
	k.Spawn("TIMER", rtos.PriorityHigh, e.Run)

	if err := k.Wait(); !errors.Is(err, ErrAllocation) {
		t.Fatalf("Wait() error = %v, want %v", err, ErrAllocation)
	}
}

type nopLog struct{}

func (nopLog) WriteLineString(string) {}

// TestSimTimerOverflow verifies the software timer raises its line once per arm
func TestSimTimerOverflow(t *testing.T) {
	c := irq.NewLocal()
	defer c.Close()

	timer := NewSimTimer(c, time.Millisecond)
	if err := timer.Configure(); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	var n atomic.Int32
	c.Register(irq.LineTimer, func(rtos.ISR) { n.Add(1) })

	timer.Arm()
	waitFor(t, "overflow", func() bool { return n.Load() == 1 })
	time.Sleep(10 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("timer overflowed %d times after one arm", n.Load())
	}

	timer.Arm()
	timer.Disarm()
	time.Sleep(10 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatal("disarmed timer still overflowed")
	}

	if err := NewSimTimer(c, 0).Configure(); !errors.Is(err, ErrPeriod) {
		t.Fatalf("Configure() error = %v, want %v", err, ErrPeriod)
	}
}

// TestEngineWithSimTimer verifies real overflows produce samples end to end
func TestEngineWithSimTimer(t *testing.T) {
	c := irq.NewLocal()
	defer c.Close()

	e, _ := startEngine(t, NewSimTimer(c, 200*time.Microsecond))
	if err := e.Setup(c); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	e.Enable()
	waitFor(t, "samples", func() bool { return e.Samples() >= 5 })
	e.Disable()
	waitFor(t, "sampling to stop", func() bool { return !e.Sampling() })

	if err := e.Clone(context.Background()); err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	s := e.Snapshot()
	if s.SampleCount < 5 || s.BucketSum()+s.OutCount != s.SampleCount {
		t.Fatalf("SampleCount = %d, buckets = %d, out = %d", s.SampleCount, s.BucketSum(), s.OutCount)
	}
}
