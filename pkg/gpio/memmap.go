package gpio

import (
	"sync"

	rpigpio "github.com/warthog618/gpio"

	"gsync/pkg/clock"
	"gsync/pkg/port"
)

// The register mapping is process global; open it once and close it when
// the last MemMap line is released.
var (
	memmapMu    sync.Mutex
	memmapUsers int
)

// MemMap drives a Raspberry Pi line through the /dev/gpiomem register
// mapping. Register writes make this the fastest SetValue path, which
// matters for the pulse edges the peer timestamps.
//
// The mapping has no native active-low support; polarity is emulated by
// inverting levels in this backend.
type MemMap struct {
	pin *rpigpio.Pin

	direction port.Direction
	edge      port.Edge
	activeLow bool

	events chan port.Event

	closeOnce sync.Once
	closed    chan struct{}
}

// NewMemMap requests the BCM pin with the given number. The pin starts as
// an input with no edge detection.
func NewMemMap(number int) (*MemMap, error) {
	if number <= 0 {
		return nil, ErrInvalidLine
	}

	memmapMu.Lock()
	defer memmapMu.Unlock()
	if memmapUsers == 0 {
		if err := rpigpio.Open(); err != nil {
			return nil, err
		}
	}
	memmapUsers++

	l := &MemMap{
		pin:    rpigpio.NewPin(number),
		events: make(chan port.Event, 1),
		closed: make(chan struct{}),
	}
	l.pin.Input()
	return l, nil
}

// level translates a register level to the logical one, honoring the
// emulated polarity.
func (l *MemMap) level(raw rpigpio.Level) port.Level {
	high := bool(raw)
	if l.activeLow {
		high = !high
	}
	if high {
		return port.High
	}
	return port.Low
}

func (l *MemMap) raw(level port.Level) rpigpio.Level {
	high := level == port.High
	if l.activeLow {
		high = !high
	}
	return rpigpio.Level(high)
}

// SetDirection configures the pin as input or output. Switching to input
// keeps a previously configured edge mode.
func (l *MemMap) SetDirection(direction port.Direction) error {
	if direction == port.Out {
		l.pin.Unwatch()
		l.edge = port.EdgeNone
		l.pin.Output()
	} else {
		l.pin.Input()
	}
	l.direction = direction
	return nil
}

// Direction returns the current in/out setting.
func (l *MemMap) Direction() (port.Direction, error) {
	return l.direction, nil
}

// SetValue drives the pin low or high.
func (l *MemMap) SetValue(level port.Level) error {
	l.pin.Write(l.raw(level))
	return nil
}

// Value returns the current level of the pin.
func (l *MemMap) Value() (port.Level, error) {
	return l.level(l.pin.Read()), nil
}

// Toggle writes the complement of the current value, forcing the pin to
// be an output.
func (l *MemMap) Toggle() error {
	if l.direction != port.Out {
		if err := l.SetDirection(port.Out); err != nil {
			return err
		}
	}
	v, err := l.Value()
	if err != nil {
		return err
	}
	return l.SetValue(v.Complement())
}

// SetActiveLow sets or clears the emulated active-low polarity.
func (l *MemMap) SetActiveLow(activeLow bool) error {
	l.activeLow = activeLow
	return nil
}

// SetEdgeMode configures edge detection, forcing the pin to be an input.
func (l *MemMap) SetEdgeMode(edge port.Edge) error {
	l.pin.Unwatch()
	l.pin.Input()
	l.direction = port.In
	l.edge = edge
	if edge == port.EdgeNone {
		return nil
	}

	var watched rpigpio.Edge
	switch edge {
	case port.EdgeRising:
		watched = rpigpio.EdgeRising
	case port.EdgeFalling:
		watched = rpigpio.EdgeFalling
	default:
		watched = rpigpio.EdgeBoth
	}
	if l.activeLow {
		switch watched {
		case rpigpio.EdgeRising:
			watched = rpigpio.EdgeFalling
		case rpigpio.EdgeFalling:
			watched = rpigpio.EdgeRising
		}
	}

	return l.pin.Watch(watched, l.handle)
}

// handle forwards one watched edge to the waiting reader.
func (l *MemMap) handle(p *rpigpio.Pin) {
	now, err := clock.System{}.Now()
	if err != nil {
		return
	}

	e := port.Event{Timestamp: now, Type: port.FallingEdge}
	if l.level(p.Read()) == port.High {
		e.Type = port.RisingEdge
	}

	select {
	case l.events <- e:
	default:
		// No reader pending; drop rather than block the watcher.
	}
}

// WaitForEdge blocks until the next qualifying edge and consumes exactly
// one event.
func (l *MemMap) WaitForEdge() (port.Event, error) {
	select {
	case e := <-l.events:
		return e, nil
	case <-l.closed:
		return port.Event{}, ErrClosed
	}
}

// Close releases the pin and, when this was the last MemMap line, the
// register mapping.
func (l *MemMap) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.pin.Unwatch()

		memmapMu.Lock()
		defer memmapMu.Unlock()
		memmapUsers--
		if memmapUsers == 0 {
			err = rpigpio.Close()
		}
	})
	return err
}
