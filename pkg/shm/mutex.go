package shm

import (
	"runtime"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// The slot mutex is a priority-inheriting futex (FUTEX_LOCK_PI). The word
// holds the owner's TID; while a higher-priority waiter blocks, the kernel
// boosts the owner, which this loop needs because it runs under real-time
// scheduling. Relocking by the current owner fails with EDEADLK and
// unlocking a mutex held by someone else fails with EPERM, matching an
// error-checking pthread mutex.
//
// Kernel futex word flag bits, see futex(2).
const (
	futexWaiters   = 0x80000000
	futexOwnerDied = 0x40000000
	futexTidMask   = 0x3fffffff
)

// PI futex op codes, see futex(2); x/sys/unix does not export these.
const (
	futexLockPI    = 6
	futexUnlockPI  = 7
	futexTrylockPI = 8
)

func (s *Slot) futexWord() *uint32 { return &s.data.futex }

func futexOp(word *uint32, op int) unix.Errno {
	// No FUTEX_PRIVATE_FLAG: the word lives in a segment shared between
	// processes.
	_, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)), uintptr(op), 0, 0, 0, 0)
	return errno
}

// Lock acquires the slot mutex.
//
// The calling goroutine is pinned to its OS thread until Unlock, since
// the kernel tracks PI lock ownership by TID. Contention is bounded by
// the peer's critical section, a single timestamp copy.
func (s *Slot) Lock() error {
	runtime.LockOSThread()
	tid := uint32(unix.Gettid())

	if atomic.CompareAndSwapUint32(s.futexWord(), 0, tid) {
		return nil
	}
	if atomic.LoadUint32(s.futexWord())&futexTidMask == tid {
		runtime.UnlockOSThread()
		return unix.EDEADLK
	}

	for {
		errno := futexOp(s.futexWord(), futexLockPI)
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			// Interrupted by a signal; the wait is retried internally.
		default:
			runtime.UnlockOSThread()
			return errno
		}
	}
}

// TryLock attempts to acquire the slot mutex without blocking.
// It returns false when the mutex is held by another process.
func (s *Slot) TryLock() (bool, error) {
	runtime.LockOSThread()
	tid := uint32(unix.Gettid())

	if atomic.CompareAndSwapUint32(s.futexWord(), 0, tid) {
		return true, nil
	}

	errno := futexOp(s.futexWord(), futexTrylockPI)
	switch errno {
	case 0:
		return true, nil
	case unix.EAGAIN, unix.EBUSY:
		runtime.UnlockOSThread()
		return false, nil
	default:
		runtime.UnlockOSThread()
		return false, errno
	}
}

// Unlock releases the slot mutex and unpins the goroutine.
func (s *Slot) Unlock() error {
	tid := uint32(unix.Gettid())

	if atomic.LoadUint32(s.futexWord())&futexTidMask != tid {
		return unix.EPERM
	}

	if atomic.CompareAndSwapUint32(s.futexWord(), tid, 0) {
		runtime.UnlockOSThread()
		return nil
	}

	// Waiters are queued on the word; hand the lock over in the kernel.
	errno := futexOp(s.futexWord(), futexUnlockPI)
	runtime.UnlockOSThread()
	if errno != 0 {
		return errno
	}
	return nil
}
