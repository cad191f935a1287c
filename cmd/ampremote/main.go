// Command ampremote runs the real-time domain against a carveout file, so a
// latencystat in another process can drive it through the doorbells in the
// header page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gosuda.org/amplink"
	"gosuda.org/amplink/internal/latency"
	"gosuda.org/amplink/internal/sampler"
	"gosuda.org/amplink/internal/shm"
)

func main() {
	var path string
	var load bool
	var period time.Duration
	var tick time.Duration
	var demo time.Duration
	flag.StringVar(&path, "shm", shm.DefaultPath("amplink"), "Carveout file shared with the general-purpose domain.")
	flag.BoolVar(&load, "load", true, "Format the carveout before starting.")
	flag.DurationVar(&period, "period", time.Millisecond, "Simulated timer period.")
	flag.DurationVar(&tick, "tick", time.Millisecond, "Scheduler tick.")
	flag.DurationVar(&demo, "demo", 100*time.Second, "Demo task period, 0 to disable.")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, path, load, period, tick, demo); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, load bool, period, tick, demo time.Duration) error {
	cfg := amplink.DefaultConfig()
	region, err := shm.Open(path, amplink.SizeCarveout(cfg), nil)
	if err != nil {
		return err
	}
	defer region.Close()

	var l amplink.Layout
	if load {
		l, err = amplink.Load(region, cfg)
	} else {
		l, err = amplink.Attach(region, cfg, 5*time.Second)
	}
	if err != nil {
		return fmt.Errorf("carveout %s: %w", path, err)
	}

	bell, err := amplink.Doorbell(region, l)
	if err != nil {
		return err
	}
	defer bell.Close()

	fcfg := latency.DefaultConfig()
	fcfg.Tick = tick
	fcfg.DemoPeriod = demo
	fw, err := latency.Boot(ctx, region, l, bell, sampler.NewSimTimer(bell, period), fcfg)
	if err != nil {
		return err
	}

	log.Printf("real-time domain running on %s (%d bytes)", path, l.Size)
	err = fw.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Printf("real-time domain halted")
	return err
}
