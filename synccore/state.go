package synccore

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// State enumerates the connection lifecycle the client engine drives
// (spec.md §4.3). Transitions not in transitionTable are invalid and are
// refused by Machine.Transition without mutating state.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// BackoffConfig parameterizes the reconnect backoff policy: next_attempt_delay
// = min(base * 2^attempts, max) * jitter (spec.md §4.3).
type BackoffConfig struct {
	Base       time.Duration
	Max        time.Duration
	JitterFrac float64 // fraction of the computed delay to randomize, e.g. 0.2
}

// DefaultBackoffConfig mirrors common relay client defaults: a 250ms base,
// a 30s ceiling, and ±20% jitter to avoid thundering-herd reconnects.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{Base: 250 * time.Millisecond, Max: 30 * time.Second, JitterFrac: 0.2}
}

// Machine is the pure connection state machine. It holds no channel, no
// timer, and performs no I/O; callers drive it from their own event loop
// and inspect NextAttemptDelay to decide when to retry.
type Machine struct {
	state    State
	attempts int
	backoff  BackoffConfig
	rng      *rand.Rand
}

// NewMachine constructs a Machine starting in Disconnected.
func NewMachine(backoff BackoffConfig) *Machine {
	return &Machine{
		state:   Disconnected,
		backoff: backoff,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Attempts returns the number of transitions into Disconnected since the
// last Connected transition; a disconnect after a successful connection
// counts as one.
func (m *Machine) Attempts() int { return m.attempts }

var transitionTable = map[State]map[State]bool{
	Disconnected:  {Connecting: true},
	Connecting:    {Connected: true, Disconnected: true},
	Connected:     {Disconnecting: true, Disconnected: true},
	Disconnecting: {Disconnected: true},
}

// Transition attempts to move the machine to next. An invalid transition
// logs a diagnostic and leaves the state unchanged — it never silently
// succeeds (spec.md §4.3: "Invalid transitions emit a diagnostic event and
// remain in the current state").
func (m *Machine) Transition(next State) bool {
	allowed := transitionTable[m.state]
	if !allowed[next] {
		logrus.WithFields(logrus.Fields{
			"package": "synccore",
			"from":    m.state.String(),
			"to":      next.String(),
		}).Warn("rejected invalid connection state transition")
		return false
	}

	prev := m.state
	m.state = next

	switch next {
	case Connected:
		m.attempts = 0
	case Disconnected:
		if prev != Disconnected {
			m.attempts++
		}
	}

	logrus.WithFields(logrus.Fields{
		"package": "synccore",
		"from":    prev.String(),
		"to":      next.String(),
	}).Debug("connection state transition")

	return true
}

// NextAttemptDelay computes the backoff delay for the next reconnect
// attempt given the current Attempts() count: min(base*2^attempts, max)
// scaled by a random jitter factor in [1-JitterFrac, 1+JitterFrac].
func (m *Machine) NextAttemptDelay() time.Duration {
	return m.backoff.delayFor(m.attempts, m.rng)
}

func (c BackoffConfig) delayFor(attempts int, rng *rand.Rand) time.Duration {
	base := c.Base
	if base <= 0 {
		base = DefaultBackoffConfig().Base
	}
	max := c.Max
	if max <= 0 {
		max = DefaultBackoffConfig().Max
	}

	shift := attempts
	if shift > 32 {
		shift = 32 // guard against overflow in the shift below
	}
	raw := base * time.Duration(1<<uint(shift))
	if raw <= 0 || raw > max {
		raw = max
	}

	jitter := c.JitterFrac
	if jitter <= 0 {
		return raw
	}
	factor := 1 + (rng.Float64()*2-1)*jitter
	scaled := time.Duration(float64(raw) * factor)
	if scaled < 0 {
		scaled = 0
	}
	return scaled
}
