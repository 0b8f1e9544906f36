package app

import (
	"errors"

	"golang.org/x/sys/unix"

	"gsync/pkg/gpio"
)

// runRecorder blocks on the input line and timestamps every rising edge
// into the shared slot until Stop is called. This loop is intentionally
// peer driven; with a silent peer it simply never wakes.
func (app *App) runRecorder() {
	defer close(app.done)

	var edges uint64

	for !app.exiting.Load() {
		evt, err := app.line.WaitForEdge()
		if err != nil {
			switch {
			case errors.Is(err, gpio.ErrClosed):
				// Stop releases the line to unblock this wait; a
				// line closed for any other reason is fatal.
				if app.exiting.Load() {
					return
				}
				app.fail(err)
				return
			case errors.Is(err, unix.EINTR):
				// Interrupted wait; re-check the exit flag.
				continue
			default:
				app.fail(err)
				return
			}
		}

		ts := evt.Timestamp
		if ts.IsZero() {
			if ts, err = app.clk.Now(); err != nil {
				app.fail(err)
				return
			}
		}

		if err := app.slot.Write(ts); err != nil {
			app.fail(err)
			return
		}

		edges++
		app.status.set(Status{
			Role:         string(app.role),
			Cycles:       edges,
			ActualWakeup: ts,
			PeerWakeup:   ts,
		})
	}
}
