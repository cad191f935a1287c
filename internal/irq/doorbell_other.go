//go:build !linux

package irq

import (
	"sync/atomic"
	"time"
)

// spin is the polling period used where no futex is available
const spin = time.Millisecond

func wait(addr *uint32, val uint32, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for atomic.LoadUint32(addr) == val && time.Now().Before(deadline) {
		time.Sleep(spin)
	}
}

func wake(*uint32) {}
