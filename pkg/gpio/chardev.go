package gpio

import (
	"sync"
	"time"

	"github.com/warthog618/gpiod"

	"gsync/pkg/clock"
	"gsync/pkg/port"
)

// CharDev drives a line through the GPIO character device.
type CharDev struct {
	chip   *gpiod.Chip
	line   *gpiod.Line
	offset int

	direction port.Direction
	edge      port.Edge
	activeLow bool

	// events receives one entry per detected edge from the request's
	// event handler.
	events chan port.Event

	closeOnce sync.Once
	closed    chan struct{}
}

// NewCharDev requests the line at offset on the named chip (e.g.
// "gpiochip0" or "/dev/gpiochip0"). The line starts as an input with no
// edge detection.
func NewCharDev(chip string, offset int) (*CharDev, error) {
	if offset < 0 {
		return nil, ErrInvalidLine
	}

	c, err := gpiod.NewChip(chip)
	if err != nil {
		return nil, err
	}

	l := &CharDev{
		chip:   c,
		offset: offset,
		events: make(chan port.Event, 1),
		closed: make(chan struct{}),
	}
	if err := l.request(port.In, port.EdgeNone, false); err != nil {
		_ = c.Close()
		return nil, err
	}
	return l, nil
}

// request drops any existing line request and reacquires the line with
// the wanted configuration. The character device cannot change edge
// detection or polarity on a live request, so the line is released and
// re-requested; its level may float briefly during the swap.
func (l *CharDev) request(direction port.Direction, edge port.Edge, activeLow bool) error {
	if l.line != nil {
		_ = l.line.Close()
		l.line = nil
	}

	var opts []gpiod.LineReqOption
	if activeLow {
		opts = append(opts, gpiod.AsActiveLow)
	}
	if direction == port.Out {
		opts = append(opts, gpiod.AsOutput(0))
	} else {
		opts = append(opts, gpiod.AsInput)
	}
	switch edge {
	case port.EdgeRising:
		opts = append(opts, gpiod.WithRisingEdge, gpiod.WithEventHandler(l.handle))
	case port.EdgeFalling:
		opts = append(opts, gpiod.WithFallingEdge, gpiod.WithEventHandler(l.handle))
	case port.EdgeBoth:
		opts = append(opts, gpiod.WithBothEdges, gpiod.WithEventHandler(l.handle))
	}

	line, err := l.chip.RequestLine(l.offset, opts...)
	if err != nil {
		return err
	}

	l.line = line
	l.direction = direction
	l.edge = edge
	l.activeLow = activeLow
	return nil
}

// handle forwards one line event to the waiting reader. The kernel stamps
// events with CLOCK_MONOTONIC, so the timestamp is directly comparable to
// clock.System readings.
func (l *CharDev) handle(evt gpiod.LineEvent) {
	e := port.Event{
		Timestamp: clock.Timestamp{
			Sec:  int64(evt.Timestamp / time.Second),
			Nsec: int64(evt.Timestamp % time.Second),
		},
	}
	switch evt.Type {
	case gpiod.LineEventRisingEdge:
		e.Type = port.RisingEdge
	case gpiod.LineEventFallingEdge:
		e.Type = port.FallingEdge
	default:
		return
	}

	select {
	case l.events <- e:
	default:
		// No reader pending; drop rather than block the event handler.
	}
}

// SetDirection configures the line as input or output. The edge mode is
// kept when switching to input and cleared when switching to output.
func (l *CharDev) SetDirection(direction port.Direction) error {
	if direction == l.direction {
		return nil
	}
	edge := l.edge
	if direction == port.Out {
		edge = port.EdgeNone
	}
	return l.request(direction, edge, l.activeLow)
}

// Direction returns the current in/out setting.
func (l *CharDev) Direction() (port.Direction, error) {
	if l.line == nil {
		return port.In, ErrClosed
	}
	return l.direction, nil
}

// SetValue drives the line low or high.
func (l *CharDev) SetValue(level port.Level) error {
	if l.line == nil {
		return ErrClosed
	}
	return l.line.SetValue(int(level))
}

// Value returns the current level of the line.
func (l *CharDev) Value() (port.Level, error) {
	if l.line == nil {
		return port.Low, ErrClosed
	}
	v, err := l.line.Value()
	if err != nil {
		return port.Low, err
	}
	if v == 0 {
		return port.Low, nil
	}
	return port.High, nil
}

// Toggle writes the complement of the current value, forcing the line to
// be an output.
func (l *CharDev) Toggle() error {
	if err := l.SetDirection(port.Out); err != nil {
		return err
	}
	v, err := l.Value()
	if err != nil {
		return err
	}
	return l.SetValue(v.Complement())
}

// SetActiveLow sets or clears the active-low polarity. The line request
// is dropped and reacquired, see request.
func (l *CharDev) SetActiveLow(activeLow bool) error {
	if activeLow == l.activeLow {
		return nil
	}
	return l.request(l.direction, l.edge, activeLow)
}

// SetEdgeMode configures edge detection, forcing the line to be an input.
func (l *CharDev) SetEdgeMode(edge port.Edge) error {
	return l.request(port.In, edge, l.activeLow)
}

// WaitForEdge blocks until the next qualifying edge and consumes exactly
// one event.
func (l *CharDev) WaitForEdge() (port.Event, error) {
	select {
	case e := <-l.events:
		return e, nil
	case <-l.closed:
		return port.Event{}, ErrClosed
	}
}

// Close releases the line and the chip. Waiters blocked in WaitForEdge
// return ErrClosed.
func (l *CharDev) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.line != nil {
			err = l.line.Close()
			l.line = nil
		}
		if e := l.chip.Close(); err == nil {
			err = e
		}
	})
	return err
}
