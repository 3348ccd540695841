// Per-service circuit breaker.
//
// DESIGN: Three-state machine guarding calls to one upstream service:
//   - closed:    calls flow; consecutive failures are counted
//   - open:      calls are rejected until the open window elapses
//   - half_open: exactly one probe call is in flight; everything else
//     is rejected as if open
//
// A failed probe re-opens with a widened window (open duration scaled
// by the configured backoff factor, capped at the configured maximum).
// A successful probe closes the breaker and resets the window to its
// base value. All state changes and counter updates happen under one
// mutex so observers never see a transition without its counters.
package breaker

import (
	"sync"
	"time"

	gwerrors "github.com/relayforge/service-gateway/internal/errors"
)

// State is the breaker position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings holds the per-service trip thresholds and timing.
type Settings struct {
	// FailureThreshold is the number of consecutive failures in the
	// closed state that trips the breaker open.
	FailureThreshold int
	// OpenDuration is the base width of the open window.
	OpenDuration time.Duration
	// BackoffFactor scales the open window after each failed probe.
	// Values below 1 are treated as 1 (constant window).
	BackoffFactor float64
	// MaxOpenDuration caps the widened open window. Zero means no cap.
	MaxOpenDuration time.Duration
	// CountUpstreamErrors makes 5xx responses count as failures.
	// By default only transport-level failures (timeouts, connection
	// errors) trip the breaker; a 5xx proves the service is reachable.
	CountUpstreamErrors bool
}

// TransitionFunc observes state changes. It is invoked outside the
// breaker's lock, so implementations may log, persist, or call back
// into the breaker. Under heavy contention notifications can arrive
// slightly out of order relative to each other.
type TransitionFunc func(service string, from, to State)

// Breaker guards calls to a single upstream service.
type Breaker struct {
	service      string
	onTransition TransitionFunc

	mu                  sync.Mutex
	settings            Settings
	state               State
	consecutiveFailures int
	openedAt            time.Time
	nextProbeAt         time.Time
	openWindow          time.Duration // width of the current open window
	opens               uint64
	rejected            uint64
}

// Snapshot is a point-in-time read of a breaker for listings and stats.
type Snapshot struct {
	Service             string        `json:"service"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	OpenedAt            time.Time     `json:"opened_at"`
	NextProbeAt         time.Time     `json:"next_probe_at"`
	OpenWindow          time.Duration `json:"open_window_ns"`
	Opens               uint64        `json:"opens"`
	Rejected            uint64        `json:"rejected"`
}

// New creates a closed breaker for the named service.
func New(service string, settings Settings, onTransition TransitionFunc) *Breaker {
	return &Breaker{
		service:      service,
		settings:     settings,
		state:        StateClosed,
		onTransition: onTransition,
	}
}

// Allow reports whether a call may proceed. While open it rejects until
// the open window elapses; the first call after that is admitted as the
// single half-open probe. Rejections return a circuit_open error
// carrying the service name.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil
	case StateHalfOpen:
		// The probe slot is taken; reject as if open.
		b.rejected++
		b.mu.Unlock()
		return gwerrors.NewCircuitOpen(b.service)
	}
	if time.Now().Before(b.nextProbeAt) {
		b.rejected++
		b.mu.Unlock()
		return gwerrors.NewCircuitOpen(b.service)
	}
	// Open window elapsed: this call becomes the probe.
	from := b.state
	b.state = StateHalfOpen
	b.mu.Unlock()
	b.notify(from, StateHalfOpen)
	return nil
}

// ReportSuccess records a successful call outcome. In the closed state
// it resets the consecutive-failure count; a successful probe closes
// the breaker and resets the open window to its base value.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
		b.mu.Unlock()
	case StateHalfOpen:
		b.consecutiveFailures = 0
		b.state = StateClosed
		b.openWindow = 0
		b.openedAt = time.Time{}
		b.nextProbeAt = time.Time{}
		b.mu.Unlock()
		b.notify(StateHalfOpen, StateClosed)
	default:
		// Late result from a call admitted before the trip.
		// The open window stands.
		b.mu.Unlock()
	}
}

// ReportFailure records a failed call outcome. Crossing the failure
// threshold in the closed state trips the breaker; a failed probe
// re-opens it with a widened window.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	b.consecutiveFailures++
	now := time.Now()
	switch b.state {
	case StateClosed:
		if b.consecutiveFailures < b.settings.FailureThreshold {
			b.mu.Unlock()
			return
		}
		b.openFor(now, b.settings.OpenDuration)
		b.mu.Unlock()
		b.notify(StateClosed, StateOpen)
	case StateHalfOpen:
		b.openFor(now, b.nextWindow())
		b.mu.Unlock()
		b.notify(StateHalfOpen, StateOpen)
	default:
		// Late failure while already open; the window stands.
		b.mu.Unlock()
	}
}

// openFor moves the breaker to open for the given window. Caller holds b.mu.
func (b *Breaker) openFor(now time.Time, window time.Duration) {
	b.state = StateOpen
	b.openedAt = now
	b.openWindow = window
	b.nextProbeAt = now.Add(window)
	b.opens++
}

// nextWindow computes the widened open window after a failed probe.
// Caller holds b.mu.
func (b *Breaker) nextWindow() time.Duration {
	window := b.openWindow
	if window <= 0 {
		window = b.settings.OpenDuration
	}
	factor := b.settings.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	next := time.Duration(float64(window) * factor)
	if limit := b.settings.MaxOpenDuration; limit > 0 && next > limit {
		next = limit
	}
	return next
}

// State returns the current state without side effects. The open to
// half_open transition only happens when a call asks to proceed, so a
// breaker whose window elapsed still reads as open here.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CountsUpstreamErrors reports whether 5xx responses should be fed to
// ReportFailure for this service.
func (b *Breaker) CountsUpstreamErrors() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings.CountUpstreamErrors
}

// UpdateSettings swaps the thresholds in place, preserving the current
// state and accumulated counters. Re-registering a service must not
// grant it a fresh failure budget.
func (b *Breaker) UpdateSettings(settings Settings) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settings = settings
}

// Snapshot returns a consistent copy of the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Service:             b.service,
		State:               b.state.String(),
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
		NextProbeAt:         b.nextProbeAt,
		OpenWindow:          b.openWindow,
		Opens:               b.opens,
		Rejected:            b.rejected,
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onTransition != nil {
		b.onTransition(b.service, from, to)
	}
}
