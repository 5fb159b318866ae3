// Package breaker wraps sony/gobreaker with the error-classification and
// observability conventions used across the service. Downstream dependencies
// (card processor API, chain RPC node) are called through a Breaker so that a
// degraded dependency fails fast instead of cascading.
//
// Classification matters: timeouts and 5xx-class downstream errors drive the
// state machine, while caller/validation errors must not trip the breaker.
// Wrap the latter with Ignore() inside the protected function; Do() unwraps
// the marker before returning, so callers always see the original error.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker refuses the call without contacting
// the downstream dependency. Callers surface it as a retryable
// "downstream unavailable" condition.
var ErrOpen = errors.New("circuit breaker open")

var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "payments",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per protected dependency (0=closed, 1=half-open, 2=open).",
	},
	[]string{"name"},
)

func init() {
	prometheus.MustRegister(breakerState)
}

// Config tunes one breaker instance.
type Config struct {
	// Name identifies the protected dependency in logs and metrics.
	Name string
	// Interval is the rolling window over which failures are counted while
	// closed. Zero keeps counts for the lifetime of the closed state.
	Interval time.Duration
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// ProbeRequests is the number of half-open probe requests allowed
	// through after the cooldown. Values <= 0 default to 1.
	ProbeRequests uint32
	// FailureRatio opens the breaker when the failure ratio within the
	// window reaches this value (e.g. 0.5) once MinRequests were observed.
	FailureRatio float64
	// MinRequests is the minimum sample size before the ratio applies.
	MinRequests uint32
	// ConsecutiveFailures additionally opens the breaker after this many
	// failures in a row. Zero disables the consecutive rule.
	ConsecutiveFailures uint32
}

// Breaker protects a single downstream dependency.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// New constructs a Breaker with the given thresholds.
func New(cfg Config) *Breaker {
	probes := cfg.ProbeRequests
	if probes == 0 {
		probes = 1
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: probes,
		Interval:    cfg.Interval,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.MinRequests == 0 || counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(stateValue(to))
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
		IsSuccessful: func(err error) bool {
			// Ignored (caller/validation) errors never count as failures.
			return err == nil || isIgnored(err)
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(stateValue(gobreaker.StateClosed))
	return &Breaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Do runs fn through the breaker. When open, it returns ErrOpen immediately
// without invoking fn. Context cancellation inside fn is the caller's
// responsibility; a ctx already done short-circuits before the call.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return unwrapIgnored(err)
}

// State returns the current state name: "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

// ignoredError marks errors that must not trip the breaker.
type ignoredError struct{ err error }

func (e ignoredError) Error() string { return e.err.Error() }
func (e ignoredError) Unwrap() error { return e.err }

// Ignore marks err as a caller/validation failure: it is returned to the
// caller as usual but recorded as a success by the breaker.
func Ignore(err error) error {
	if err == nil {
		return nil
	}
	return ignoredError{err: err}
}

func isIgnored(err error) bool {
	var ig ignoredError
	return errors.As(err, &ig)
}

func unwrapIgnored(err error) error {
	var ig ignoredError
	if errors.As(err, &ig) {
		return ig.err
	}
	return err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
