package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"gsync/pkg/clock"
	"gsync/pkg/port"
)

// sysfsRoot is the mount point of the legacy GPIO filesystem interface.
// A variable so tests can point the backend at a fake tree.
var sysfsRoot = "/sys/class/gpio"

// edgeWaitTimeout bounds one poll so a released line is noticed even when
// no edges arrive. Milliseconds.
const edgeWaitTimeout = 1000

// SysFs drives a line through the legacy /sys/class/gpio file protocol.
type SysFs struct {
	number int
	path   string

	// value fd kept open across edge waits; the kernel signals edges as
	// POLLPRI readiness on it.
	valueFile *os.File

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSysFs exports the line with the given number and returns its
// controller. Numbers are the kernel's global GPIO ids; anything below 1
// is rejected.
func NewSysFs(number int) (*SysFs, error) {
	if number <= 0 {
		return nil, ErrInvalidLine
	}

	l := &SysFs{
		number: number,
		path:   filepath.Join(sysfsRoot, fmt.Sprintf("gpio%d", number)),
		closed: make(chan struct{}),
	}

	// Exporting a line that is already exported yields EBUSY; the line
	// exists either way, so treat that as success.
	err := os.WriteFile(filepath.Join(sysfsRoot, "export"),
		[]byte(strconv.Itoa(number)), 0o200)
	if err != nil && !errors.Is(err, unix.EBUSY) {
		return nil, fmt.Errorf("export gpio%d: %w", number, err)
	}
	return l, nil
}

func (l *SysFs) writeAttr(attr, value string) error {
	if err := os.WriteFile(filepath.Join(l.path, attr), []byte(value), 0o644); err != nil {
		return fmt.Errorf("gpio%d %s: %w", l.number, attr, err)
	}
	return nil
}

func (l *SysFs) readAttr(attr string) (string, error) {
	b, err := os.ReadFile(filepath.Join(l.path, attr))
	if err != nil {
		return "", fmt.Errorf("gpio%d %s: %w", l.number, attr, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// SetDirection configures the line as input or output. Writing the
// direction file does not clear a configured edge mode.
func (l *SysFs) SetDirection(direction port.Direction) error {
	if direction == port.Out {
		return l.writeAttr("direction", "out")
	}
	return l.writeAttr("direction", "in")
}

// Direction returns the current in/out setting.
func (l *SysFs) Direction() (port.Direction, error) {
	s, err := l.readAttr("direction")
	if err != nil {
		return port.In, err
	}
	if s == "out" {
		return port.Out, nil
	}
	return port.In, nil
}

// SetValue drives the line low or high.
func (l *SysFs) SetValue(level port.Level) error {
	return l.writeAttr("value", strconv.Itoa(int(level)))
}

// Value returns the current level of the line.
func (l *SysFs) Value() (port.Level, error) {
	s, err := l.readAttr("value")
	if err != nil {
		return port.Low, err
	}
	if s == "1" {
		return port.High, nil
	}
	return port.Low, nil
}

// Toggle writes the complement of the current value, forcing the line to
// be an output.
func (l *SysFs) Toggle() error {
	if err := l.SetDirection(port.Out); err != nil {
		return err
	}
	v, err := l.Value()
	if err != nil {
		return err
	}
	return l.SetValue(v.Complement())
}

// SetActiveLow sets or clears the active-low polarity of the line.
func (l *SysFs) SetActiveLow(activeLow bool) error {
	v := "0"
	if activeLow {
		v = "1"
	}
	return l.writeAttr("active_low", v)
}

// SetEdgeMode configures edge detection, forcing the line to be an input
// first; the kernel rejects edge settings on output lines.
func (l *SysFs) SetEdgeMode(edge port.Edge) error {
	if err := l.SetDirection(port.In); err != nil {
		return err
	}
	switch edge {
	case port.EdgeRising:
		return l.writeAttr("edge", "rising")
	case port.EdgeFalling:
		return l.writeAttr("edge", "falling")
	case port.EdgeBoth:
		return l.writeAttr("edge", "both")
	default:
		return l.writeAttr("edge", "none")
	}
}

// WaitForEdge blocks until the next qualifying edge and consumes exactly
// one event. The wait polls in bounded slices and retries on signal
// interruption, so termination signals never corrupt line state.
func (l *SysFs) WaitForEdge() (port.Event, error) {
	if l.valueFile == nil {
		f, err := os.Open(filepath.Join(l.path, "value"))
		if err != nil {
			return port.Event{}, fmt.Errorf("gpio%d value: %w", l.number, err)
		}
		l.valueFile = f
		// Consume the initial readiness so only real edges wake us.
		if _, err := l.consume(); err != nil {
			return port.Event{}, err
		}
	}

	for {
		select {
		case <-l.closed:
			return port.Event{}, ErrClosed
		default:
		}

		fds := []unix.PollFd{{
			Fd:     int32(l.valueFile.Fd()),
			Events: unix.POLLPRI | unix.POLLERR,
		}}
		n, err := unix.Poll(fds, edgeWaitTimeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return port.Event{}, fmt.Errorf("gpio%d poll: %w", l.number, err)
		}
		if n == 0 || fds[0].Revents&unix.POLLPRI == 0 {
			continue
		}

		level, err := l.consume()
		if err != nil {
			return port.Event{}, err
		}
		now, err := clock.System{}.Now()
		if err != nil {
			return port.Event{}, err
		}

		e := port.Event{Timestamp: now, Type: port.FallingEdge}
		if level == port.High {
			e.Type = port.RisingEdge
		}
		return e, nil
	}
}

// consume rewinds and reads the value file, clearing its edge readiness.
func (l *SysFs) consume() (port.Level, error) {
	if _, err := l.valueFile.Seek(0, 0); err != nil {
		return port.Low, fmt.Errorf("gpio%d value seek: %w", l.number, err)
	}
	buf := make([]byte, 4)
	n, err := l.valueFile.Read(buf)
	if err != nil {
		return port.Low, fmt.Errorf("gpio%d value read: %w", l.number, err)
	}
	if n > 0 && buf[0] == '1' {
		return port.High, nil
	}
	return port.Low, nil
}

// Close unexports the line. Waiters blocked in WaitForEdge return
// ErrClosed within one poll slice.
func (l *SysFs) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.valueFile != nil {
			_ = l.valueFile.Close()
			l.valueFile = nil
		}
		err = os.WriteFile(filepath.Join(sysfsRoot, "unexport"),
			[]byte(strconv.Itoa(l.number)), 0o200)
		if err != nil {
			err = fmt.Errorf("unexport gpio%d: %w", l.number, err)
		}
	})
	return err
}
