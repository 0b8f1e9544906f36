package app

import (
	"errors"

	"golang.org/x/sys/unix"

	"gsync/pkg/clock"
	"gsync/pkg/kuramoto"
	"gsync/pkg/port"
)

// runOscillator drives the pulse/read/compute/sleep cycle until Stop is
// called. Each cycle raises the line so the peer's recorder can timestamp
// the wakeup, schedules the next wakeup from the peer's last report,
// lowers the line and sleeps until the computed absolute instant.
func (app *App) runOscillator() {
	defer close(app.done)

	// The very first cycle has no previously scheduled wakeup; seed the
	// expected time with "now".
	expected, err := app.clk.Now()
	if err != nil {
		app.fail(err)
		return
	}

	var prevPeer clock.Timestamp
	var cycles uint64

	for !app.exiting.Load() {
		// Pulse start; the peer stamps this edge.
		if err := app.line.SetValue(port.High); err != nil {
			app.fail(err)
			return
		}

		actual, err := app.clk.Now()
		if err != nil {
			app.fail(err)
			return
		}

		peer, err := app.slot.Read()
		if err != nil {
			app.fail(err)
			return
		}

		next, freeRunning := nextWakeup(app.engine, expected, actual, peer, prevPeer)
		prevPeer = peer

		// Pulse end.
		if err := app.line.SetValue(port.Low); err != nil {
			app.fail(err)
			return
		}

		cycles++
		app.status.set(Status{
			Role:           string(app.role),
			Cycles:         cycles,
			FreeRunning:    freeRunning,
			ActualWakeup:   actual,
			ExpectedWakeup: expected,
			NextWakeup:     next,
			PeerWakeup:     peer,
			PhaseErrorNs:   phaseErrorNs(expected, actual),
		})

		expected = next
		if err := app.clk.SleepUntil(next); err != nil {
			// An interrupted sleep only means "check the flag now".
			if errors.Is(err, unix.EINTR) {
				continue
			}
			app.fail(err)
			return
		}
	}
}

// nextWakeup picks the free-running or coupled schedule for one cycle.
// The engine is bypassed whenever the peer has never reported or has not
// updated since the previous cycle; a silent peer must not stall the
// oscillator.
func nextWakeup(engine *kuramoto.Sync, expected, actual, peer, prevPeer clock.Timestamp) (clock.Timestamp, bool) {
	if peer.IsZero() || peer.Equal(prevPeer) {
		return engine.NextFreeRun(actual), true
	}
	return engine.ComputeNewWakeup(expected, actual, peer), false
}

// phaseErrorNs is the scheduling error of the current cycle, positive
// when the wakeup came early.
func phaseErrorNs(expected, actual clock.Timestamp) int64 {
	return (expected.Sec-actual.Sec)*1e9 + (expected.Nsec - actual.Nsec)
}
