package amplink

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"gosuda.org/amplink/internal/histogram"
	"gosuda.org/amplink/internal/protocol"
)

// Client issues latency commands from the general-purpose domain. Calls must
// not overlap: each command waits for its own acknowledgement before the
// next one is written.
type Client struct {
	host *Host
	src  uint32 // Local endpoint
	dst  uint32 // Service endpoint

	tag       uint8
	discarded atomic.Uint64
}

// NewClient creates a client talking from src to the service at dst
func NewClient(host *Host, src, dst uint32) *Client {
	return &Client{host: host, src: src, dst: dst}
}

// Dial signals readiness, waits for the service announcement and returns a
// client bound to the announced service
func Dial(ctx context.Context, host *Host) (*Client, error) {
	host.Ready()
	info, err := host.WaitAnnounce(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoService, err)
	}
	if info.Name != ServiceName {
		return nil, fmt.Errorf("%w: got %q", ErrNoService, info.Name)
	}
	return NewClient(host, HostAddr, info.Src), nil
}

// Discarded returns how many frames were dropped while waiting for an
// acknowledgement or a response
func (c *Client) Discarded() uint64 {
	return c.discarded.Load()
}

// fromService reports whether f was sent by the service to this client
func (c *Client) fromService(f protocol.Frame) bool {
	return f.Src == c.dst && f.Dst == c.src
}

// SendAndAwaitAck writes cmd and reads frames until its acknowledgement
// arrives. Every command carries a fresh tag that the acknowledgement must
// echo, so a late acknowledgement of an earlier command is never taken for
// this one. Frames that do not match are counted and dropped.
func (c *Client) SendAndAwaitAck(ctx context.Context, cmd protocol.Command) error {
	c.tag++
	word := cmd.Word(c.tag)
	if err := c.host.Write(ctx, c.src, c.dst, protocol.PutWord(word)); err != nil {
		return err
	}

	want := protocol.AckWord(word)
	for {
		f, err := c.host.ReadFrame(ctx)
		if err != nil {
			return fmt.Errorf("waiting for %v ack: %w", cmd, err)
		}
		if c.fromService(f) && len(f.Payload) == protocol.WordSize && protocol.FirstWord(f.Payload) == want {
			return nil
		}
		c.discarded.Add(1)
	}
}

// ReadResponse reads response frames until n bytes have arrived
func (c *Client) ReadResponse(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, 0, n)
	for len(buf) < n {
		f, err := c.host.ReadFrame(ctx)
		if err != nil {
			return nil, err
		}
		if !c.fromService(f) {
			c.discarded.Add(1)
			continue
		}
		buf = append(buf, f.Payload...)
	}
	return buf[:n], nil
}

// FetchHistogram sends GET and decodes the clone image that follows the ack
func (c *Client) FetchHistogram(ctx context.Context) (histogram.Snapshot, error) {
	var s histogram.Snapshot
	if err := c.SendAndAwaitAck(ctx, protocol.CmdGet); err != nil {
		return s, err
	}
	b, err := c.ReadResponse(ctx, histogram.ImageSize)
	if err != nil {
		return s, err
	}
	err = s.UnmarshalBinary(b)
	return s, err
}

// Measure runs one experiment: CLEAR, START, wait for interval, STOP,
// CLONE, GET
func (c *Client) Measure(ctx context.Context, interval time.Duration) (histogram.Snapshot, error) {
	for _, cmd := range []protocol.Command{protocol.CmdClear, protocol.CmdStart} {
		if err := c.SendAndAwaitAck(ctx, cmd); err != nil {
			return histogram.Snapshot{}, err
		}
	}

	timer := time.NewTimer(interval)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return histogram.Snapshot{}, ctx.Err()
	}

	for _, cmd := range []protocol.Command{protocol.CmdStop, protocol.CmdClone} {
		if err := c.SendAndAwaitAck(ctx, cmd); err != nil {
			return histogram.Snapshot{}, err
		}
	}
	return c.FetchHistogram(ctx)
}

// Quit disables sampling on the real-time domain
func (c *Client) Quit(ctx context.Context) error {
	return c.SendAndAwaitAck(ctx, protocol.CmdQuit)
}
