// Package shm hosts a single timestamp slot in a System V shared memory
// segment so that unrelated processes can exchange wakeup times.
//
// The external layout of the segment is exactly {timestamp, mutex word};
// any two processes opening the same key interoperate regardless of
// launch order. The mutex is an error-checking, priority-inheriting
// futex, see mutex.go.
package shm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"gsync/pkg/clock"
)

// ErrKey is returned when the shared memory key is not a positive integer.
var ErrKey = errors.New("shared memory key must be a positive integer")

// layout is the in-memory shape of the segment. Field order is part of
// the cross-process contract: the timestamp comes first, immediately
// followed by the mutex word.
type layout struct {
	sec   int64
	nsec  int64
	futex uint32
	_     uint32
}

const segmentSize = int(unsafe.Sizeof(layout{}))

const segmentPerm = 0o666

// Slot is one process's handle on the shared timestamp slot.
//
// The first process to open a key creates the segment and initializes the
// mutex; later openers attach to the existing segment without touching it.
// The creator's Close marks the segment for removal, which the kernel
// defers until the last attached process detaches.
type Slot struct {
	key     int
	id      int
	creator bool
	mem     []byte
	data    *layout
}

// Open creates or attaches to the shared slot identified by key.
func Open(key int) (*Slot, error) {
	if key <= 0 {
		return nil, ErrKey
	}

	// Exclusive create first, so exactly one opener becomes the creator.
	// If the segment already exists, fall back to a plain attach.
	creator := true
	id, err := unix.SysvShmGet(key, segmentSize, unix.IPC_CREAT|unix.IPC_EXCL|segmentPerm)
	if errors.Is(err, unix.EEXIST) {
		creator = false
		id, err = unix.SysvShmGet(key, segmentSize, unix.IPC_CREAT|segmentPerm)
	}
	if err != nil {
		return nil, fmt.Errorf("shmget key %d: %w", key, err)
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		if creator {
			_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		}
		return nil, fmt.Errorf("shmat key %d: %w", key, err)
	}

	s := &Slot{
		key:     key,
		id:      id,
		creator: creator,
		mem:     mem,
		data:    (*layout)(unsafe.Pointer(&mem[0])),
	}

	if creator {
		// A fresh segment is zero filled, which is both the unlocked
		// mutex state and the "never reported" timestamp. Initialize
		// explicitly anyway; a non-creator must never do this, the
		// mutex word may be held by a live owner.
		s.data.sec = 0
		s.data.nsec = 0
		atomic.StoreUint32(&s.data.futex, 0)
	}

	return s, nil
}

// Key returns the shared memory key of this slot.
func (s *Slot) Key() int { return s.key }

// Creator reports whether this handle created the segment.
func (s *Slot) Creator() bool { return s.creator }

// Read returns the last timestamp written to the slot.
// A failure to acquire or release the mutex is surfaced to the caller;
// a stuck lock must be observable, never silently ignored.
func (s *Slot) Read() (clock.Timestamp, error) {
	if err := s.Lock(); err != nil {
		return clock.Timestamp{}, fmt.Errorf("lock shared slot: %w", err)
	}
	ts := clock.Timestamp{Sec: s.data.sec, Nsec: s.data.nsec}
	if err := s.Unlock(); err != nil {
		return ts, fmt.Errorf("unlock shared slot: %w", err)
	}
	return ts, nil
}

// Write replaces the slot timestamp.
func (s *Slot) Write(ts clock.Timestamp) error {
	if err := s.Lock(); err != nil {
		return fmt.Errorf("lock shared slot: %w", err)
	}
	s.data.sec = ts.Sec
	s.data.nsec = ts.Nsec
	if err := s.Unlock(); err != nil {
		return fmt.Errorf("unlock shared slot: %w", err)
	}
	return nil
}

// Close detaches this process's mapping. The creator additionally marks
// the segment for removal once the last attached process detaches.
func (s *Slot) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.mem)
	s.mem = nil
	s.data = nil

	if s.creator {
		if _, e := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil); e != nil && err == nil {
			err = fmt.Errorf("remove shared segment %d: %w", s.id, e)
		}
	}
	return err
}
