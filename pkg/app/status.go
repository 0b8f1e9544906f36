package app

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/womat/debug"

	"gsync/pkg/clock"
	"gsync/pkg/mqtt"
)

// Status is the live diagnostic state of the control loop. It is served
// by the /sync web handler and published to mqtt; it plays no part in the
// synchronization itself.
type Status struct {
	// Role is the loop producing this status (gsync or gtimer).
	Role string
	// Cycles counts completed cycles (oscillator) or recorded edges
	// (recorder).
	Cycles uint64
	// FreeRunning reports whether the last cycle bypassed the coupling
	// model because the peer was silent or stale.
	FreeRunning bool
	// ActualWakeup is the monotonic time of the last wakeup.
	ActualWakeup clock.Timestamp
	// ExpectedWakeup is the wakeup that had been scheduled for it.
	ExpectedWakeup clock.Timestamp
	// NextWakeup is the wakeup scheduled for the next cycle.
	NextWakeup clock.Timestamp
	// PeerWakeup is the peer's last reported wakeup.
	PeerWakeup clock.Timestamp
	// PhaseErrorNs is expected minus actual wakeup in nanoseconds,
	// positive when the wakeup came early.
	PhaseErrorNs int64
}

// statusStore guards the status against concurrent access from the loop
// and the diagnostic goroutines.
type statusStore struct {
	sync.RWMutex
	status Status
}

func (s *statusStore) set(status Status) {
	s.Lock()
	s.status = status
	s.Unlock()
}

func (s *statusStore) get() Status {
	s.RLock()
	defer s.RUnlock()
	return s.status
}

// publishStatus periodically sends the current status to the configured
// mqtt topic. Publishing is best effort: failures are logged by the mqtt
// handler and never reach the control loop.
func (app *App) publishStatus() {
	if app.config.MQTT.Connection == "" || app.config.MQTT.Topic == "" {
		return
	}

	for range time.Tick(app.config.MQTT.Interval) {
		if app.exiting.Load() {
			return
		}

		b, err := json.MarshalIndent(app.status.get(), "", "  ")
		if err != nil {
			debug.ErrorLog.Printf("marshal status: %v", err)
			continue
		}

		app.mqtt.C <- mqtt.Message{
			Qos:      0,
			Retained: true,
			Topic:    app.config.MQTT.Topic,
			Payload:  b,
		}
	}
}
