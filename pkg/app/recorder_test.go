package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gsync/pkg/clock"
	"gsync/pkg/port"
)

func TestRecorderWritesEdgeTimestamps(t *testing.T) {
	line := &fakeLine{events: make(chan port.Event)}
	slot := &fakeSlot{}
	clk := &scriptClock{now: clock.Timestamp{Sec: 200}, step: 1_000}

	app := newTestApp(t, Recorder, clk, line, slot)

	go app.runRecorder()

	first := clock.Timestamp{Sec: 200, Nsec: 10_000_000}
	second := clock.Timestamp{Sec: 200, Nsec: 20_000_123}
	line.events <- port.Event{Timestamp: first, Type: port.RisingEdge}
	line.events <- port.Event{Timestamp: second, Type: port.RisingEdge}

	app.exiting.Store(true)
	close(line.events)
	<-app.Done()
	require.NoError(t, app.Err())

	assert.Equal(t, []clock.Timestamp{first, second}, slot.writes)

	status := app.status.get()
	assert.Equal(t, string(Recorder), status.Role)
	assert.Equal(t, uint64(2), status.Cycles)
	assert.Equal(t, second, status.PeerWakeup)
}

// A backend that cannot deliver a kernel timestamp hands over a zero
// event; the recorder then stamps the edge itself.
func TestRecorderFallsBackToOwnClock(t *testing.T) {
	line := &fakeLine{events: make(chan port.Event)}
	slot := &fakeSlot{}
	clk := &scriptClock{now: clock.Timestamp{Sec: 300}, step: 1_000}

	app := newTestApp(t, Recorder, clk, line, slot)

	go app.runRecorder()

	line.events <- port.Event{Type: port.RisingEdge}

	app.exiting.Store(true)
	close(line.events)
	<-app.Done()
	require.NoError(t, app.Err())

	require.Len(t, slot.writes, 1)
	assert.Equal(t, clock.Timestamp{Sec: 300, Nsec: 1_000}, slot.writes[0])
}

func TestRecorderStopUnblocksTheWait(t *testing.T) {
	line := &fakeLine{events: make(chan port.Event)}
	slot := &fakeSlot{}
	clk := &scriptClock{now: clock.Timestamp{Sec: 400}, step: 1_000}

	app := newTestApp(t, Recorder, clk, line, slot)

	go app.runRecorder()

	// Stop sets the exit flag; releasing the line is what actually wakes
	// the blocked loop.
	app.Stop()
	close(line.events)
	<-app.Done()

	require.NoError(t, app.Err())
	assert.Empty(t, slot.writes)
}
