package monitoring

import (
	"sync"

	"github.com/rs/zerolog"
)

// ConnectionState is the push stream lifecycle state.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	// Stopped is terminal and only entered on shutdown.
	Stopped
)

var allConnectionStates = []ConnectionState{Disconnected, Connecting, Connected, Reconnecting, Stopped}

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AvailabilityState is the coordinator's self-reported health.
type AvailabilityState int32

const (
	// Unavailable means polling is failing, or has not completed yet.
	Unavailable AvailabilityState = iota
	// Degraded means polling succeeds but the push stream is not connected.
	Degraded
	// Available means polling succeeds and the push stream is connected.
	Available
)

func (s AvailabilityState) String() string {
	switch s {
	case Available:
		return "available"
	case Degraded:
		return "degraded"
	default:
		return "unavailable"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s AvailabilityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// availabilityTracker derives AvailabilityState from poll and push signals
// and logs each transition once.
type availabilityTracker struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	pollSeen bool
	pollOK   bool
	conn     ConnectionState
	current  AvailabilityState
}

func newAvailabilityTracker(logger zerolog.Logger) *availabilityTracker {
	return &availabilityTracker{logger: logger, current: Unavailable}
}

// OnPollResult records the outcome of a poll cycle. It reports the new
// state and whether it changed.
func (t *availabilityTracker) OnPollResult(success bool) (AvailabilityState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	first := !t.pollSeen
	t.pollSeen = true
	t.pollOK = success
	return t.transition(first)
}

// OnConnectionState records a push connection state change.
func (t *availabilityTracker) OnConnectionState(state ConnectionState) (AvailabilityState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = state
	return t.transition(false)
}

// Current returns the derived state.
func (t *availabilityTracker) Current() AvailabilityState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

func (t *availabilityTracker) derive() AvailabilityState {
	switch {
	case !t.pollSeen || !t.pollOK:
		return Unavailable
	case t.conn != Connected:
		return Degraded
	default:
		return Available
	}
}

func (t *availabilityTracker) transition(firstPoll bool) (AvailabilityState, bool) {
	next := t.derive()
	prev := t.current
	if next == prev && !firstPoll {
		return next, false
	}
	t.current = next

	switch next {
	case Unavailable:
		t.logger.Warn().
			Str("push", t.conn.String()).
			Msg("Unable to reach Unraid server, keeping last known state")
	case Degraded:
		t.logger.Warn().
			Str("push", t.conn.String()).
			Msg("Unraid push stream unavailable, relying on polling")
	case Available:
		if firstPoll {
			t.logger.Info().Msg("Unraid server available")
		} else {
			t.logger.Info().
				Str("previous", prev.String()).
				Msg("Connection to Unraid server restored")
		}
	}
	return next, next != prev
}
