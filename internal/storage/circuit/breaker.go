// Package circuit wraps the database connection pool with a circuit
// breaker (spec.md §4.1). The teacher never needed one (it only ever talks
// to a single local Postgres instance); this is grounded on
// jordigilh-kubernaut's dependency on github.com/sony/gobreaker, which is a
// real, idiomatic choice for exactly this job.
package circuit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/neurobridge-labs/reelforge/internal/platform/logger"
)

// State mirrors spec.md §4.1's getCircuitState() enumeration.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

var (
	ErrPoolExhausted = errors.New("circuit: pool exhausted")
	ErrCircuitOpen   = errors.New("circuit: open")
)

type Config struct {
	Name                string
	MaxRequests         uint32        // requests allowed through while half-open
	Interval            time.Duration // cyclic reset of closed-state counters
	Timeout             time.Duration // cool-down window before half-open probe
	ConsecutiveFailures uint32        // failures to trip the breaker
}

// Breaker wraps a gobreaker.CircuitBreaker and lets interested components
// (the lock manager) subscribe to state-change notifications, in
// particular the circuit-open transition that forces a liveness decision.
type Breaker struct {
	cb  *gobreaker.CircuitBreaker
	log *logger.Logger

	subscribers []func(from, to State)
}

func New(cfg Config, log *logger.Logger) *Breaker {
	b := &Breaker{log: log}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.onStateChange(mapState(from), mapState(to))
		},
	}
	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Subscribe registers fn to be called (synchronously, on the goroutine
// that tripped the breaker) whenever the circuit's state changes. Used by
// the lock manager to drop local lease ownership the instant the circuit
// opens (spec.md §4.2 "On circuit-open").
func (b *Breaker) Subscribe(fn func(from, to State)) {
	if b == nil || fn == nil {
		return
	}
	b.subscribers = append(b.subscribers, fn)
}

func (b *Breaker) onStateChange(from, to State) {
	if b.log != nil {
		b.log.Info("circuit breaker state change", "from", from, "to", to)
	}
	for _, fn := range b.subscribers {
		fn(from, to)
	}
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	return mapState(b.cb.State())
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen (wrapped)
// when the breaker is open, and fn's own error otherwise.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		return ErrCircuitOpen
	}
	return err
}
