// Package resilience guards calls to the brokerage gateway with a circuit
// breaker.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"    // Normal operation
	StateOpen     State = "OPEN"      // Failing, rejecting calls
	StateHalfOpen State = "HALF_OPEN" // Probing whether the gateway recovered
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes needed to close
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// ErrOpen is returned when the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker implements the circuit breaker pattern.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	// IsFailure decides which errors count against the breaker.
	// Defaults to every non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called with the lock released after every transition.
	OnStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	openedAt        time.Time
	lastStateChange time.Time

	totalCalls    int64
	totalFailures int64
	totalRejected int64
}

// New creates a closed breaker.
func New(name string, config Config) *Breaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 1
	}
	return &Breaker{
		name:            name,
		config:          config,
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// WithClock replaces the breaker's time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Do runs fn under breaker protection.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(b, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn under breaker protection and returns its result.
func Call[T any](b *Breaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		b.record(err)
		return zero, err
	}

	v, err := fn(ctx)
	b.record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	b.totalCalls++
	var from State
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			b.totalRejected++
			b.mu.Unlock()
			return ErrOpen
		}
		from = b.transitionTo(StateHalfOpen)
	}
	b.mu.Unlock()

	if from != "" {
		b.notify(from, StateHalfOpen)
	}
	return nil
}

func (b *Breaker) record(err error) {
	failed := err != nil
	if failed && b.IsFailure != nil {
		failed = b.IsFailure(err)
	}

	b.mu.Lock()
	var from, to State
	if failed {
		b.totalFailures++
		switch b.state {
		case StateClosed:
			b.failures++
			if b.failures >= b.config.FailureThreshold {
				from, to = b.transitionTo(StateOpen), StateOpen
			}
		case StateHalfOpen:
			from, to = b.transitionTo(StateOpen), StateOpen
		}
	} else {
		switch b.state {
		case StateClosed:
			b.failures = 0
		case StateHalfOpen:
			b.successes++
			if b.successes >= b.config.SuccessThreshold {
				from, to = b.transitionTo(StateClosed), StateClosed
			}
		}
	}
	b.mu.Unlock()

	if to != "" {
		b.notify(from, to)
	}
}

// transitionTo must be called with the lock held. It returns the prior state.
func (b *Breaker) transitionTo(state State) State {
	from := b.state
	b.state = state
	b.lastStateChange = b.now()
	b.failures = 0
	b.successes = 0
	if state == StateOpen {
		b.openedAt = b.lastStateChange
	}
	return from
}

func (b *Breaker) notify(from, to State) {
	if b.OnStateChange != nil {
		b.OnStateChange(b.name, from, to)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}

// Reset closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	if from != StateClosed {
		b.transitionTo(StateClosed)
	}
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}

// Stats holds breaker statistics.
type Stats struct {
	Name            string
	State           State
	TotalCalls      int64
	TotalFailures   int64
	TotalRejected   int64
	CurrentFailures int
	LastStateChange time.Time
}

// Stats returns breaker statistics.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:            b.name,
		State:           b.state,
		TotalCalls:      b.totalCalls,
		TotalFailures:   b.totalFailures,
		TotalRejected:   b.totalRejected,
		CurrentFailures: b.failures,
		LastStateChange: b.lastStateChange,
	}
}

// FailureRate returns the failure rate as a percentage.
func (s Stats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalCalls) * 100
}
