//go:build linux

package irq

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Shared (not process-private) futex operations, the words live in a
// mapping other processes also see
const (
	futexWait = 0
	futexWake = 1
)

// wait blocks until *addr no longer holds val, a wake arrives, or timeout passes
func wait(addr *uint32, val uint32, timeout time.Duration) {
	if atomic.LoadUint32(addr) != val {
		return
	}
	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	// EAGAIN, EINTR and ETIMEDOUT all mean "re-check the counters"
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0,
		0,
	)
}

// wake wakes every waiter on addr
func wake(addr *uint32) {
	_, _, _ = unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexWake,
		uintptr(1<<31-1),
		0,
		0,
		0,
	)
}
