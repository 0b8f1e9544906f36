// Package gpio controls single GPIO lines through interchangeable
// backends.
//
// Three backends satisfy the same Line contract: the character-device
// line-request API (chardev.go), the legacy sysfs file protocol
// (sysfs.go) and the Raspberry Pi register mapping (memmap.go). The
// control loops are written against the Line interface only; which
// backend they get is decided by which constructor ran.
package gpio

import (
	"errors"

	"gsync/pkg/port"
)

var (
	// ErrInvalidLine is returned when a line identifier is out of range.
	ErrInvalidLine = errors.New("invalid gpio line identifier")
	// ErrClosed is returned by operations on a released line.
	ErrClosed = errors.New("gpio line is closed")
)

// Line is one requested GPIO line. Exactly one owning Line exists per
// physical line per process; Close releases the line on all exit paths.
type Line interface {
	// SetDirection configures the line as input or output. Setting the
	// input direction keeps a previously configured edge mode.
	SetDirection(port.Direction) error
	// Direction returns the current in/out setting.
	Direction() (port.Direction, error)
	// SetValue drives the line low or high.
	SetValue(port.Level) error
	// Value returns the current level of the line.
	Value() (port.Level, error)
	// Toggle writes the complement of the current value, forcing the
	// line to be an output as a side effect.
	Toggle() error
	// SetActiveLow sets or clears the active-low polarity of the line.
	SetActiveLow(bool) error
	// SetEdgeMode configures edge detection, forcing the line to be an
	// input as a side effect.
	SetEdgeMode(port.Edge) error
	// WaitForEdge blocks until the next qualifying edge and consumes
	// exactly one event. A wait interrupted by a signal is retried
	// internally; ErrClosed is returned once the line is released.
	WaitForEdge() (port.Event, error)
	// Close releases the line.
	Close() error
}
