// Package kuramoto computes phase-locked wakeup times for a pair of
// periodic tasks using the Kuramoto coupled-oscillator model.
//
// Each participant runs at a base frequency and reports its wakeup times
// to its peer over a side channel. Feeding the last three known timestamps
// (expected wakeup, actual wakeup, peer wakeup) through ComputeNewWakeup
// yields a next wakeup time that nudges this participant's phase toward
// the peer's while preserving the base frequency on average.
package kuramoto

import (
	"errors"
	"math"

	"gsync/pkg/clock"
)

// numParticipants is the number of machines in the sync loop.
const numParticipants = 2

const secToNano = 1e9

var (
	// ErrFrequency is returned when the frequency is not a positive integer.
	ErrFrequency = errors.New("frequency must be greater than 0")
	// ErrCoupling is returned when the coupling constant is not positive.
	ErrCoupling = errors.New("coupling constant must be greater than 0")
)

// Sync holds the immutable parameters of the phase update.
type Sync struct {
	frequency int
	coupling  float64
}

// New validates the parameters and returns a Sync.
func New(frequency int, couplingConstant float64) (*Sync, error) {
	if frequency <= 0 {
		return nil, ErrFrequency
	}
	if couplingConstant <= 0.0 {
		return nil, ErrCoupling
	}
	return &Sync{frequency: frequency, coupling: couplingConstant}, nil
}

// Frequency returns the base frequency in Hertz.
func (s *Sync) Frequency() int { return s.frequency }

// CouplingConstant returns the coupling constant K.
func (s *Sync) CouplingConstant() float64 { return s.coupling }

// Period returns the base cycle period in nanoseconds.
func (s *Sync) Period() int64 {
	return int64((1.0 / float64(s.frequency)) * secToNano)
}

func toNano(ts clock.Timestamp) float64 {
	return float64(ts.Sec)*secToNano + float64(ts.Nsec)
}

// nanoToRad converts a nanosecond offset to a phase angle at the base
// frequency.
func (s *Sync) nanoToRad(ns float64) float64 {
	return (2 * math.Pi * float64(s.frequency) / secToNano) * ns
}

func (s *Sync) radToNano(rad float64) float64 {
	return (secToNano / (2 * math.Pi * float64(s.frequency))) * rad
}

// ComputeNewWakeup runs one step of the Kuramoto model and returns this
// participant's new absolute wakeup time.
//
// expected is the wakeup this participant had scheduled for the current
// cycle, actual the time it truly woke (scheduling jitter included), and
// peer the last wakeup the peer reported. The result is an offset from
// actual and is never earlier than it. Pure function; deterministic for
// identical inputs and safe to call with stale ones.
func (s *Sync) ComputeNewWakeup(expected, actual, peer clock.Timestamp) clock.Timestamp {
	expectedNs := toNano(expected)
	actualNs := toNano(actual)
	peerNs := toNano(peer)

	// Natural angular velocity, in radians per nanosecond cycle step.
	omega := s.nanoToRad((1.0 / float64(s.frequency)) * secToNano)

	// Phase error of self and relative to the peer.
	dthetaI := s.nanoToRad(expectedNs - actualNs)
	dthetaJ := s.nanoToRad(expectedNs - peerNs)

	// Common form of the Kuramoto model, see
	// https://en.wikipedia.org/wiki/Kuramoto_model
	dthetaDt := omega + (s.coupling/numParticipants)*math.Sin(dthetaJ-dthetaI)

	return clock.Timestamp{
		Sec:  actual.Sec,
		Nsec: actual.Nsec + int64(s.radToNano(dthetaDt)),
	}.Normalize()
}

// NextFreeRun schedules the next wakeup one base period after actual,
// ignoring the peer entirely. Used while the peer is silent or stale.
func (s *Sync) NextFreeRun(actual clock.Timestamp) clock.Timestamp {
	return clock.Timestamp{
		Sec:  actual.Sec,
		Nsec: actual.Nsec + s.Period(),
	}.Normalize()
}
