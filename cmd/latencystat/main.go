package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"gosuda.org/amplink"
	"gosuda.org/amplink/internal/archive"
	"gosuda.org/amplink/internal/graph"
	"gosuda.org/amplink/internal/histogram"
	"gosuda.org/amplink/internal/irq"
	"gosuda.org/amplink/internal/latency"
	"gosuda.org/amplink/internal/sampler"
	"gosuda.org/amplink/internal/shm"
)

const defaultRegion = "amplink"

type options struct {
	graph   bool
	buckets bool
	dump    bool
	json    bool
	png     string
	db      string
	trace   bool

	shm      string
	sim      bool
	interval time.Duration
	period   time.Duration
}

func (o *options) displays() bool {
	return o.graph || o.buckets || o.dump || o.json || o.png != "" || o.db != ""
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintln(out, "latencystat - AMP interrupt latency statistics")
	fmt.Fprintln(out)
	flag.PrintDefaults()
}

func main() {
	var o options
	flag.BoolVar(&o.graph, "g", false, "Display a terminal graph of the data (requires a UTF-8 terminal).")
	flag.BoolVar(&o.buckets, "b", false, "Display a listing of buckets and values.")
	flag.BoolVar(&o.dump, "d", false, "Display a binary data dump.")
	flag.BoolVar(&o.json, "j", false, "Display the summary as JSON.")
	flag.StringVar(&o.png, "png", "", "Write a PNG chart of the data to this path.")
	flag.StringVar(&o.db, "db", "", "Record the run in this SQLite history.")
	flag.BoolVar(&o.trace, "trace", false, "Print the real-time trace log after the run.")
	flag.StringVar(&o.shm, "shm", shm.DefaultPath(defaultRegion), "Carveout shared with the real-time domain.")
	flag.BoolVar(&o.sim, "sim", false, "Run the real-time domain in-process.")
	flag.DurationVar(&o.interval, "interval", 10*time.Second, "Sampling time.")
	flag.DurationVar(&o.period, "period", time.Millisecond, "Simulated timer period (with -sim).")
	flag.Usage = usage
	flag.Parse()

	if !o.displays() {
		usage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, &o); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// session is a connected general-purpose side
type session struct {
	region *shm.Region
	layout amplink.Layout
	host   *amplink.Host
	close  func()
}

// attach connects to the carveout at path, served by a real-time domain
// running in another process
func attach(path string) (*session, error) {
	cfg := amplink.DefaultConfig()
	region, err := shm.Open(path, amplink.SizeCarveout(cfg), nil)
	if err != nil {
		return nil, err
	}
	l, err := amplink.Attach(region, cfg, 5*time.Second)
	if err != nil {
		region.Close()
		return nil, fmt.Errorf("attach %s: %w", path, err)
	}
	bell, err := amplink.Doorbell(region, l)
	if err != nil {
		region.Close()
		return nil, err
	}
	host, err := amplink.NewHost(region, l, bell)
	if err != nil {
		bell.Close()
		region.Close()
		return nil, err
	}
	return &session{
		region: region,
		layout: l,
		host:   host,
		close: func() {
			host.Close()
			bell.Close()
			region.Close()
		},
	}, nil
}

// simulate boots a real-time domain in this process
func simulate(ctx context.Context, period time.Duration) (*session, error) {
	cfg := amplink.DefaultConfig()
	region := shm.New(defaultRegion, amplink.SizeCarveout(cfg), nil)
	l, err := amplink.Load(region, cfg)
	if err != nil {
		return nil, err
	}

	ctrl := irq.NewLocal()
	fw, err := latency.Boot(ctx, region, l, ctrl, sampler.NewSimTimer(ctrl, period), latency.DefaultConfig())
	if err != nil {
		ctrl.Close()
		return nil, err
	}
	host, err := amplink.NewHost(region, l, ctrl)
	if err != nil {
		fw.Halt()
		fw.Wait()
		ctrl.Close()
		return nil, err
	}
	return &session{
		region: region,
		layout: l,
		host:   host,
		close: func() {
			fw.Halt()
			fw.Wait()
			host.Close()
			ctrl.Close()
		},
	}, nil
}

func run(ctx context.Context, o *options) error {
	var s *session
	var err error
	if o.sim {
		s, err = simulate(ctx, o.period)
	} else {
		s, err = attach(o.shm)
	}
	if err != nil {
		return err
	}
	defer s.close()

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	c, err := amplink.Dial(dialCtx, s.host)
	cancel()
	if err != nil {
		return err
	}

	fmt.Println("Linux FreeRTOS AMP Demo.")
	fmt.Println("Waiting for samples...")
	started := time.Now()
	snap, err := c.Measure(ctx, o.interval)
	if err != nil {
		return err
	}

	if err := display(os.Stdout, o, &snap); err != nil {
		return err
	}
	if o.png != "" {
		if err := graph.SavePNG(o.png, &snap); err != nil {
			return fmt.Errorf("png: %w", err)
		}
	}
	if o.db != "" {
		if err := record(ctx, o.db, started, o.interval, &snap); err != nil {
			return err
		}
	}
	if o.trace {
		tr, err := amplink.TraceBuffer(s.region, s.layout)
		if err != nil {
			return err
		}
		lines, err := tr.Lines()
		if err != nil {
			return err
		}
		printTrace(os.Stdout, lines)
	}
	return nil
}

func record(ctx context.Context, path string, started time.Time, interval time.Duration, snap *histogram.Snapshot) error {
	store, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.Record(ctx, started, interval, snap)
	if err != nil {
		return err
	}
	fmt.Printf("Recorded run %d in %s\n", id, path)
	return nil
}
