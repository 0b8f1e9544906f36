package app

import (
	"fmt"
	"net/url"
	"sync/atomic"

	"gsync/pkg/app/config"
	"gsync/pkg/clock"
	"gsync/pkg/gpio"
	"gsync/pkg/kuramoto"
	"gsync/pkg/mqtt"
	"gsync/pkg/port"
	"gsync/pkg/rt"
	"gsync/pkg/shm"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"
)

// Role selects which control loop the process runs.
type Role string

const (
	// Oscillator pulses the output line once per cycle and adjusts its
	// own phase toward the peer's.
	Oscillator Role = "gsync"
	// Recorder timestamps incoming edges into the shared slot.
	Recorder Role = "gtimer"
)

// timestampSlot is the part of shm.Slot the control loops use; tests
// provide fakes.
type timestampSlot interface {
	Read() (clock.Timestamp, error)
	Write(clock.Timestamp) error
	Close() error
}

// App is where the process is wired up.
type App struct {
	// role decides which loop Run starts.
	role Role

	// config is the process configuration.
	config *config.Config

	// web is the diagnostic web service; nil unless a webserver URL is
	// configured.
	web *fiber.App

	// urlParsed contains the parsed Webserver.URL parameter.
	urlParsed *url.URL

	// mqtt is the handler to the mqtt broker.
	mqtt *mqtt.Handler

	// line is the one GPIO line this process owns.
	line gpio.Line

	// slot is the shared timestamp slot exchanged with the peer.
	slot timestampSlot

	// engine computes coupled wakeup times; oscillator role only.
	engine *kuramoto.Sync

	// clk is the monotonic time source of the loop.
	clk clock.Clock

	// status is the live diagnostic state served over web and mqtt.
	status statusStore

	// exiting is the cooperative cancellation flag, set by Stop and
	// polled once per loop iteration.
	exiting atomic.Bool

	// done is closed when the control loop returns.
	done chan struct{}

	// runErr is the error that ended the loop, nil on clean exit.
	// Written by the loop goroutine before done is closed.
	runErr error
}

// New checks the web server URL and initializes the main app structure.
func New(cfg *config.Config, role Role) (*App, error) {
	app := &App{
		role:   role,
		config: cfg,
		mqtt:   mqtt.New(),
		clk:    clock.System{},
		done:   make(chan struct{}),
	}

	if cfg.Webserver.URL != "" {
		u, err := url.Parse(cfg.Webserver.URL)
		if err != nil {
			return nil, fmt.Errorf("error parsing url %q: %w", cfg.Webserver.URL, err)
		}
		app.urlParsed = u
		app.web = fiber.New()
	}

	return app, nil
}

// Run acquires the process resources and starts the control loop.
func (app *App) Run() error {
	if err := app.init(); err != nil {
		return err
	}

	go app.mqtt.Service()
	if app.web != nil {
		go app.runWebServer()
	}
	go app.publishStatus()

	switch app.role {
	case Oscillator:
		go app.runOscillator()
	default:
		go app.runRecorder()
	}

	return nil
}

// init performs the one-time setup. Any error here aborts the process;
// steady-state loops never run on a partially acquired resource set.
func (app *App) init() error {
	// Real-time tuning comes first so later allocations are locked too.
	if app.config.Realtime.LockMemory {
		if err := rt.ConfigureMemForRT(); err != nil {
			// Usually a missing CAP_IPC_LOCK; the loops still work,
			// just without the page-fault guarantee.
			debug.WarningLog.Printf("real-time memory tuning: %v", err)
		}
	}
	if p := app.config.Realtime.Priority; p > 0 {
		if err := rt.SetRealtimePriority(p); err != nil {
			debug.ErrorLog.Printf("can't apply realtime priority: %v", err)
			return err
		}
	}

	slot, err := shm.Open(app.config.ShmKey)
	if err != nil {
		debug.ErrorLog.Printf("can't open shared slot: %v", err)
		return err
	}
	app.slot = slot

	if app.line, err = newLine(app.config); err != nil {
		debug.ErrorLog.Printf("can't open gpio line: %v", err)
		return err
	}

	switch app.role {
	case Oscillator:
		if app.engine, err = kuramoto.New(app.config.Frequency, app.config.Coupling); err != nil {
			return err
		}
		// The pulse line idles low between cycles.
		if err = app.line.SetDirection(port.Out); err != nil {
			return err
		}
		if err = app.line.SetValue(port.Low); err != nil {
			return err
		}
	default:
		if err = app.line.SetEdgeMode(port.EdgeRising); err != nil {
			return err
		}
	}

	if err = app.mqtt.Connect(app.config.MQTT.Connection); err != nil {
		debug.ErrorLog.Printf("can't open mqtt broker: %v", err)
		return err
	}

	// initDefaultRoutes should always be called last, it may access
	// handlers initialized above.
	if app.web != nil {
		app.initDefaultRoutes()
	}

	return nil
}

// newLine opens the configured GPIO backend.
func newLine(cfg *config.Config) (gpio.Line, error) {
	switch cfg.Backend {
	case config.BackendCharDev:
		return gpio.NewCharDev(cfg.Chip, cfg.Line)
	case config.BackendSysFs:
		return gpio.NewSysFs(cfg.Line)
	case config.BackendMemMap:
		return gpio.NewMemMap(cfg.Line)
	default:
		return nil, fmt.Errorf("unknown gpio backend %q", cfg.Backend)
	}
}

// Stop requests a cooperative shutdown. The loop notices the flag at its
// next iteration boundary; a recorder blocked in WaitForEdge is unblocked
// by releasing the line.
func (app *App) Stop() {
	app.exiting.Store(true)
	if app.role == Recorder && app.line != nil {
		_ = app.line.Close()
	}
}

// Done returns the channel closed when the control loop has returned.
func (app *App) Done() <-chan struct{} {
	return app.done
}

// Err returns the error that ended the loop, nil after a clean shutdown.
// Valid once Done is closed.
func (app *App) Err() error {
	return app.runErr
}

// fail records a loop-terminating error. A loud exit is preferred over a
// silently desynchronized pair.
func (app *App) fail(err error) {
	debug.ErrorLog.Printf("%s loop: %v", app.role, err)
	app.runErr = err
}

// Close releases the process resources.
func (app *App) Close() error {
	if app.mqtt != nil {
		_ = app.mqtt.Disconnect()
	}
	if app.line != nil {
		_ = app.line.Close()
	}
	if app.slot != nil {
		_ = app.slot.Close()
	}
	return nil
}
