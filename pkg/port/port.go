// Package port holds the definition of a physical GPIO line
package port

import "gsync/pkg/clock"

// Direction is the in/out setting of a line.
type Direction int

const (
	// In configures the line as an input.
	In Direction = iota
	// Out configures the line as an output.
	Out
)

// Level is the logical value of a line.
//
// Note that for active low lines a low line level results in a high
// active state.
type Level int

const (
	// Low indicates a logical 0.
	Low Level = 0
	// High indicates a logical 1.
	High Level = 1
)

// Complement returns the opposite level.
func (l Level) Complement() Level {
	if l == Low {
		return High
	}
	return Low
}

// Edge is the edge-detection setting of a line.
type Edge int

const (
	// EdgeNone disables edge detection.
	EdgeNone Edge = iota
	// EdgeRising detects inactive to active transitions.
	EdgeRising
	// EdgeFalling detects active to inactive transitions.
	EdgeFalling
	// EdgeBoth detects both transitions.
	EdgeBoth
)

// EventType indicates the type of change to the line active state.
type EventType int

const (
	_ EventType = iota
	// RisingEdge indicates an inactive to active event (low to high).
	RisingEdge
	// FallingEdge indicates an active to inactive event (high to low).
	FallingEdge
)

// Event is one detected edge.
type Event struct {
	// Timestamp is the monotonic time the event was detected. Backends
	// that receive a kernel timestamp report that one; others stamp the
	// event themselves.
	Timestamp clock.Timestamp
	// Type is the kind of edge this event represents.
	Type EventType
}
