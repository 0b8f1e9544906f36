// Package clock provides monotonic timestamps and absolute-time sleeping
// against CLOCK_MONOTONIC.
package clock

import (
	"golang.org/x/sys/unix"
)

// nsecPerSec is the number of nanoseconds in one second.
const nsecPerSec = 1_000_000_000

// Timestamp is one instant of the monotonic clock.
// A normalized Timestamp keeps Nsec in [0, 1e9).
// The zero Timestamp is reserved to mean "never reported".
type Timestamp struct {
	Sec  int64
	Nsec int64
}

// IsZero reports whether t is the "never reported" sentinel.
func (t Timestamp) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

// Equal reports whether t and u are the same instant.
func (t Timestamp) Equal(u Timestamp) bool {
	return t.Sec == u.Sec && t.Nsec == u.Nsec
}

// Normalize carries surplus nanoseconds into the seconds field.
func (t Timestamp) Normalize() Timestamp {
	for t.Nsec >= nsecPerSec {
		t.Sec++
		t.Nsec -= nsecPerSec
	}
	return t
}

// Add returns t advanced by ns nanoseconds, normalized.
func (t Timestamp) Add(ns int64) Timestamp {
	return Timestamp{Sec: t.Sec, Nsec: t.Nsec + ns}.Normalize()
}

// Before reports whether t is earlier than u.
func (t Timestamp) Before(u Timestamp) bool {
	return t.Sec < u.Sec || (t.Sec == u.Sec && t.Nsec < u.Nsec)
}

// Clock is the time source used by the control loops.
// The loops are written against this interface so tests can drive them
// with a fake clock.
type Clock interface {
	// Now returns the current monotonic time.
	Now() (Timestamp, error)
	// SleepUntil suspends the caller until the absolute monotonic
	// instant t. An interrupted sleep returns unix.EINTR; the caller
	// re-checks its exit condition and decides whether to continue.
	SleepUntil(t Timestamp) error
}

// System is the Clock backed by the kernel's CLOCK_MONOTONIC.
type System struct{}

// Now returns the current CLOCK_MONOTONIC time.
func (System) Now() (Timestamp, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return Timestamp{}, err
	}
	sec, nsec := ts.Unix()
	return Timestamp{Sec: sec, Nsec: nsec}, nil
}

// SleepUntil sleeps until the absolute instant t using TIMER_ABSTIME,
// so per-cycle computation latency does not accumulate into drift.
func (System) SleepUntil(t Timestamp) error {
	ts := unix.NsecToTimespec(t.Sec*nsecPerSec + t.Nsec)
	return unix.ClockNanosleep(unix.CLOCK_MONOTONIC, unix.TIMER_ABSTIME, &ts, nil)
}
