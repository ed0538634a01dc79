// Package breaker implements a per-dependency circuit breaker with
// caller-supplied fallback strategies. Every state transition and fallback
// invocation is logged and counted so the monitoring side can alert on
// degraded dependencies.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/talentbridge-systems/crmsync/internal/logging"
	"github.com/talentbridge-systems/crmsync/internal/metrics"
)

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

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

// ErrOpen is returned when a call is rejected because the breaker is open
// and no fallback is registered.
var ErrOpen = errors.New("circuit breaker is open")

// Fallback handles a call that was rejected or could not reach the
// dependency. cause carries the rejection reason or the primary call error.
type Fallback func(ctx context.Context, cause error) error

// Config configures a Breaker.
type Config struct {
	// Name identifies the wrapped dependency (cache, store, upstream API).
	Name string

	// Threshold is the number of consecutive failures that trips the breaker.
	Threshold int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// CallTimeout bounds each primary call. Zero disables the bound.
	CallTimeout time.Duration

	// Fallback is invoked when the breaker rejects a call. Optional.
	Fallback Fallback

	Logger *logging.Logger
}

// Breaker wraps calls to one external dependency.
type Breaker struct {
	name        string
	threshold   int
	cooldown    time.Duration
	callTimeout time.Duration
	fallback    Fallback
	logger      *logging.Logger

	// now is injectable for deterministic state-machine tests.
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a breaker in the closed state.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	b := &Breaker{
		name:        cfg.Name,
		threshold:   cfg.Threshold,
		cooldown:    cfg.Cooldown,
		callTimeout: cfg.CallTimeout,
		fallback:    cfg.Fallback,
		logger:      cfg.Logger,
		now:         time.Now,
		state:       StateClosed,
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(StateClosed))
	return b
}

// Execute runs op through the breaker using the breaker's registered
// fallback. See ExecuteWith.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	return b.ExecuteWith(ctx, op, nil)
}

// ExecuteWith runs op through the breaker. When the breaker is open (or a
// half-open probe is already in flight) the primary call is not attempted
// and the fallback serves the request immediately. A failing primary call is
// counted against the trip threshold and then also handed to the fallback,
// so transient dependency failures degrade instead of surfacing as hard
// errors. fb overrides the breaker's registered fallback when non-nil.
func (b *Breaker) ExecuteWith(ctx context.Context, op func(context.Context) error, fb Fallback) error {
	if fb == nil {
		fb = b.fallback
	}

	if !b.allow() {
		return b.invokeFallback(ctx, ErrOpen, fb)
	}

	callCtx := ctx
	if b.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.callTimeout)
		defer cancel()
	}

	err := op(callCtx)
	b.record(err)
	if err != nil {
		return b.invokeFallback(ctx, err, fb)
	}
	return nil
}

// allow decides whether the primary call may proceed, transitioning
// open -> half_open once the cooldown has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

// record applies the outcome of a primary call to the state machine.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if err != nil {
			b.openedAt = b.now()
			b.transition(StateOpen)
			return
		}
		b.failures = 0
		b.transition(StateClosed)
		return
	}

	if err == nil {
		b.failures = 0
		return
	}

	b.failures++
	if b.state == StateClosed && b.failures >= b.threshold {
		b.openedAt = b.now()
		b.transition(StateOpen)
	}
}

// invokeFallback runs the fallback and records its latency and outcome.
// With no fallback registered the cause surfaces to the caller.
func (b *Breaker) invokeFallback(ctx context.Context, cause error, fb Fallback) error {
	if fb == nil {
		return fmt.Errorf("%s: %w", b.name, cause)
	}

	start := time.Now()
	err := fb(ctx, cause)
	metrics.FallbackDuration.WithLabelValues(b.name).Observe(time.Since(start).Seconds())

	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.FallbackInvocations.WithLabelValues(b.name, result).Inc()
	b.logger.Debug("breaker fallback invoked",
		logging.Breaker(b.name),
		"result", result,
	)
	return err
}

// transition must be called with b.mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))
	metrics.BreakerTransitions.WithLabelValues(b.name, from.String(), to.String()).Inc()
	b.logger.Info("breaker state transition",
		logging.Breaker(b.name),
		"from", from.String(),
		"to", to.String(),
		"failures", b.failures,
	)
}

// Reset manually closes the breaker and clears the failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.transition(StateClosed)
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot is a point-in-time view of a breaker for the admin surface.
type Snapshot struct {
	Name      string        `json:"name"`
	State     string        `json:"state"`
	Failures  int           `json:"failures"`
	Threshold int           `json:"threshold"`
	Cooldown  time.Duration `json:"cooldown"`
	OpenedAt  *time.Time    `json:"opened_at,omitempty"`
}

// Snapshot returns the current breaker state for observability endpoints.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:      b.name,
		State:     b.state.String(),
		Failures:  b.failures,
		Threshold: b.threshold,
		Cooldown:  b.cooldown,
	}
	if b.state != StateClosed && !b.openedAt.IsZero() {
		t := b.openedAt
		s.OpenedAt = &t
	}
	return s
}
