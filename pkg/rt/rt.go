// Package rt applies one-shot real-time tuning to the calling process so
// the control loops neither page fault nor lose the CPU mid-cycle.
package rt

import (
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

const (
	// maxStackSize is the stack reserve pre-faulted at startup.
	maxStackSize = 512 * 1024
	// maxHeapSize is the heap reserve pre-faulted at startup.
	maxHeapSize = 8 * 1024 * 1024
)

// LockMemory locks current and future pages into RAM.
func LockMemory() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		return fmt.Errorf("mlockall: %w", err)
	}
	return nil
}

// prefaultStack touches one byte per page of a stack-sized reserve so the
// pages are resident before the loop starts.
func prefaultStack() {
	var reserve [maxStackSize]byte
	for i := 0; i < len(reserve); i += os.Getpagesize() {
		reserve[i] = 1
	}
	runtime.KeepAlive(&reserve)
}

// prefaultHeap touches one byte per page of a heap-sized reserve.
func prefaultHeap() {
	reserve := make([]byte, maxHeapSize)
	for i := 0; i < len(reserve); i += os.Getpagesize() {
		reserve[i] = 1
	}
	runtime.KeepAlive(reserve)
}

// ConfigureMemForRT locks the process pages into RAM and pre-faults the
// stack and heap reserves. Call once at startup, before the loop.
func ConfigureMemForRT() error {
	if err := LockMemory(); err != nil {
		return err
	}
	prefaultStack()
	prefaultHeap()
	return nil
}

// SetRealtimePriority switches the whole process to SCHED_FIFO at the
// given priority (1..99).
func SetRealtimePriority(priority int) error {
	if priority < 1 || priority > 99 {
		return fmt.Errorf("realtime priority %d out of range 1..99", priority)
	}
	attr := unix.SchedAttr{
		Size:     unix.SizeofSchedAttr,
		Policy:   unix.SCHED_FIFO,
		Priority: uint32(priority),
	}
	if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
		return fmt.Errorf("sched_setattr SCHED_FIFO %d: %w", priority, err)
	}
	return nil
}
