package latency

import (
	"context"
	"fmt"
	"time"

	"gosuda.org/amplink"
	"gosuda.org/amplink/internal/irq"
	"gosuda.org/amplink/internal/rsc"
	"gosuda.org/amplink/internal/rtos"
	"gosuda.org/amplink/internal/sampler"
	"gosuda.org/amplink/internal/shm"
	"gosuda.org/amplink/internal/trace"
)

// MMUTableAddr is where the real-time image keeps its translation table
const MMUTableAddr = 0x00100000

// Config holds the real-time domain parameters
type Config struct {
	Tick       time.Duration  // Scheduler tick
	Sampler    sampler.Config // Sampling parameters
	DemoPeriod time.Duration  // Demo task sleep; 0 disables the demo task
}

// DefaultConfig returns the reference configuration
func DefaultConfig() Config {
	return Config{
		Tick:       rtos.DefaultTick,
		Sampler:    sampler.DefaultConfig(),
		DemoPeriod: 100 * time.Second,
	}
}

// Firmware is a booted real-time domain
type Firmware struct {
	Kernel *rtos.Kernel
	Remote *amplink.Remote
	Engine *sampler.Engine
	Trace  *trace.Buffer
	MMU    *rsc.SectionTable

	ctrl irq.Controller
}

// Boot brings up the real-time domain on a loaded carveout: trace log, MMU
// setup from the resource table, sampler, transport and tasks. A timer that
// cannot be configured aborts the boot.
func Boot(ctx context.Context, region *shm.Region, l amplink.Layout, ctrl irq.Controller, timer sampler.Timer, cfg Config) (*Firmware, error) {
	tr, err := amplink.TraceBuffer(region, l)
	if err != nil {
		return nil, fmt.Errorf("trace: %w", err)
	}

	table, err := amplink.ReadTable(region, l)
	if err != nil {
		return nil, fmt.Errorf("resource table: %w", err)
	}
	mmu := rsc.NewSectionTable()
	rsc.ApplyMMU(&table, mmu, MMUTableAddr, tr)

	tr.WriteLineString("amplink real-time domain " + time.Now().UTC().Format(time.DateTime))

	engine := sampler.New(cfg.Sampler, timer, tr)
	svc := NewService(engine, tr)
	remote, err := amplink.NewRemote(region, l, ctrl, svc, tr)
	if err != nil {
		return nil, err
	}

	// Interrupt handlers are bound before any task runs
	if err := engine.Setup(ctrl); err != nil {
		tr.Logf("ERROR: %v", err)
		return nil, err
	}

	k := rtos.NewKernel(ctx, rtos.Config{Name: "rt", Tick: cfg.Tick, Log: tr})
	// Start leaves neither ring line bound when it fails
	if err := remote.Start(k); err != nil {
		tr.Logf("ERROR: %v", err)
		k.Halt(err)
		k.Wait()
		ctrl.Disable(irq.LineTimer)
		return nil, err
	}
	svc.Start(k)
	k.Spawn("TIMER", rtos.PriorityHigh, engine.Run)
	if cfg.DemoPeriod > 0 {
		k.Spawn("TASKDEMO", rtos.PriorityHigh, DemoTask(cfg.DemoPeriod, tr))
	}

	return &Firmware{
		Kernel: k,
		Remote: remote,
		Engine: engine,
		Trace:  tr,
		MMU:    mmu,
		ctrl:   ctrl,
	}, nil
}

// Wait blocks until the domain halts, then disables its interrupt lines
func (f *Firmware) Wait() error {
	err := f.Kernel.Wait()
	f.Remote.Stop()
	f.ctrl.Disable(irq.LineTimer)
	if err != nil {
		f.Trace.Logf("halted: %v", err)
	}
	return err
}

// Halt stops the domain
func (f *Firmware) Halt() {
	f.Kernel.Halt(nil)
}
