package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailabilityDerivation(t *testing.T) {
	logger, _ := newTestLogger()
	tr := newAvailabilityTracker(*logger)

	state, changed := tr.OnConnectionState(Connected)
	assert.Equal(t, Unavailable, state, "no poll yet")
	assert.False(t, changed)

	state, changed = tr.OnPollResult(true)
	assert.Equal(t, Available, state)
	assert.True(t, changed)

	state, changed = tr.OnConnectionState(Reconnecting)
	assert.Equal(t, Degraded, state)
	assert.True(t, changed)

	state, changed = tr.OnConnectionState(Connecting)
	assert.Equal(t, Degraded, state)
	assert.False(t, changed)

	state, _ = tr.OnPollResult(false)
	assert.Equal(t, Unavailable, state, "poll failure wins over push state")

	tr.OnConnectionState(Connected)
	assert.Equal(t, Unavailable, tr.Current())

	state, _ = tr.OnPollResult(true)
	assert.Equal(t, Available, state)
}

func TestAvailabilityLogsTransitionsOnce(t *testing.T) {
	logger, buf := newTestLogger()
	tr := newAvailabilityTracker(*logger)

	tr.OnPollResult(false)
	tr.OnPollResult(false)
	assert.Equal(t, 1, buf.count("Unable to reach Unraid server"))

	tr.OnPollResult(true)
	assert.Equal(t, 1, buf.count("Unraid push stream unavailable"))

	tr.OnConnectionState(Connected)
	tr.OnConnectionState(Connected)
	assert.Equal(t, 1, buf.count("Connection to Unraid server restored"))
	assert.Equal(t, 0, buf.count("Unraid server available"))
}

func TestStateNames(t *testing.T) {
	for _, s := range allConnectionStates {
		text, err := s.MarshalText()
		assert.NoError(t, err)
		assert.NotEqual(t, "unknown", string(text))
	}
	assert.Equal(t, "unknown", ConnectionState(42).String())
	assert.Equal(t, "degraded", Degraded.String())
}
