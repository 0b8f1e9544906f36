package kuramoto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gsync/pkg/clock"
)

func TestNewRejectsInvalidParameters(t *testing.T) {
	tests := []struct {
		name      string
		frequency int
		coupling  float64
		wantErr   error
	}{
		{"zero frequency", 0, 0.5, ErrFrequency},
		{"negative frequency", -100, 0.5, ErrFrequency},
		{"zero coupling", 100, 0, ErrCoupling},
		{"negative coupling", 100, -0.5, ErrCoupling},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.frequency, tt.coupling)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAccessors(t *testing.T) {
	s, err := New(100, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 100, s.Frequency())
	assert.Equal(t, 0.5, s.CouplingConstant())
	assert.Equal(t, int64(10_000_000), s.Period())
}

// A participant that woke exactly on time with a peer matching its
// schedule advances by exactly one period: the coupling term is sin(0).
func TestOnTimeMatchingPeerAdvancesOnePeriod(t *testing.T) {
	s, err := New(100, 0.5)
	require.NoError(t, err)

	t0 := clock.Timestamp{Sec: 1000, Nsec: 250_000_000}

	got := s.ComputeNewWakeup(t0, t0, t0)

	assert.Equal(t, clock.Timestamp{Sec: 1000, Nsec: 260_000_000}, got)
}

func TestNewWakeupIsNeverBeforeActual(t *testing.T) {
	s, err := New(100, 0.5)
	require.NoError(t, err)

	expected := clock.Timestamp{Sec: 500, Nsec: 100_000_000}
	peers := []clock.Timestamp{
		{Sec: 499, Nsec: 999_000_000},
		{Sec: 500, Nsec: 95_000_000},
		{Sec: 500, Nsec: 105_000_000},
		{Sec: 501, Nsec: 0},
	}
	actuals := []clock.Timestamp{
		{Sec: 500, Nsec: 99_000_000},
		{Sec: 500, Nsec: 100_000_000},
		{Sec: 500, Nsec: 104_000_000},
	}

	for _, actual := range actuals {
		for _, peer := range peers {
			got := s.ComputeNewWakeup(expected, actual, peer)
			assert.False(t, got.Before(actual),
				"wakeup %v before actual %v (peer %v)", got, actual, peer)
		}
	}
}

func TestNewWakeupIsNormalized(t *testing.T) {
	s, err := New(100, 0.5)
	require.NoError(t, err)

	// An actual wakeup late in the second forces the carry path.
	expected := clock.Timestamp{Sec: 42, Nsec: 995_000_000}
	actual := clock.Timestamp{Sec: 42, Nsec: 996_000_000}
	peer := clock.Timestamp{Sec: 42, Nsec: 990_000_000}

	got := s.ComputeNewWakeup(expected, actual, peer)

	assert.GreaterOrEqual(t, got.Nsec, int64(0))
	assert.Less(t, got.Nsec, int64(1_000_000_000))
	assert.Equal(t, int64(43), got.Sec)
}

func TestComputeNewWakeupIsDeterministic(t *testing.T) {
	s, err := New(250, 1.5)
	require.NoError(t, err)

	expected := clock.Timestamp{Sec: 10, Nsec: 1_000_000}
	actual := clock.Timestamp{Sec: 10, Nsec: 1_200_000}
	peer := clock.Timestamp{Sec: 10, Nsec: 900_000}

	first := s.ComputeNewWakeup(expected, actual, peer)
	second := s.ComputeNewWakeup(expected, actual, peer)

	assert.Equal(t, first, second)
}

// The normalization step must not introduce discontinuities: nudging the
// peer report by one microsecond moves the result by a bounded amount.
func TestComputeNewWakeupIsContinuousInPeer(t *testing.T) {
	s, err := New(100, 0.5)
	require.NoError(t, err)

	expected := clock.Timestamp{Sec: 77, Nsec: 999_900_000}
	actual := clock.Timestamp{Sec: 78, Nsec: 100_000}

	prev := s.ComputeNewWakeup(expected, actual, clock.Timestamp{Sec: 77, Nsec: 999_000_000})
	for nsec := int64(999_001_000); nsec <= 999_020_000; nsec += 1_000 {
		got := s.ComputeNewWakeup(expected, actual, clock.Timestamp{Sec: 77, Nsec: nsec})

		diff := (got.Sec-prev.Sec)*1_000_000_000 + (got.Nsec - prev.Nsec)
		if diff < 0 {
			diff = -diff
		}
		// One microsecond of peer movement scales by at most K/2 of
		// the phase slope; anything near a full period would be a
		// normalization glitch.
		assert.Less(t, diff, int64(10_000), "jump at peer nsec %d", nsec)
		prev = got
	}
}

func TestNextFreeRunAdvancesExactlyOnePeriod(t *testing.T) {
	tests := []struct {
		name      string
		frequency int
		actual    clock.Timestamp
		want      clock.Timestamp
	}{
		{"100Hz", 100, clock.Timestamp{Sec: 3, Nsec: 0}, clock.Timestamp{Sec: 3, Nsec: 10_000_000}},
		{"100Hz with carry", 100, clock.Timestamp{Sec: 3, Nsec: 995_000_000}, clock.Timestamp{Sec: 4, Nsec: 5_000_000}},
		{"1Hz", 1, clock.Timestamp{Sec: 9, Nsec: 1}, clock.Timestamp{Sec: 10, Nsec: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.frequency, 0.5)
			require.NoError(t, err)

			assert.Equal(t, tt.want, s.NextFreeRun(tt.actual))
		})
	}
}
