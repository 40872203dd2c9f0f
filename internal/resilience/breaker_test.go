package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	b := New("gateway", Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Minute}).WithClock(clock.now)

	var transitions []State
	b.OnStateChange = func(_ string, _, to State) { transitions = append(transitions, to) }

	fail := func(context.Context) error { return errBoom }
	ok := func(context.Context) error { return nil }

	assert.ErrorIs(t, b.Do(context.Background(), fail), errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Do(context.Background(), fail), errBoom)
	assert.Equal(t, StateOpen, b.State())

	assert.ErrorIs(t, b.Do(context.Background(), ok), ErrOpen)

	clock.advance(2 * time.Minute)
	require.NoError(t, b.Do(context.Background(), ok))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)

	stats := b.Stats()
	assert.Equal(t, int64(4), stats.TotalCalls)
	assert.Equal(t, int64(1), stats.TotalRejected)
	assert.InDelta(t, 50.0, stats.FailureRate(), 0.001)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := New("gateway", Config{FailureThreshold: 1, Timeout: time.Second}).WithClock(clock.now)

	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	require.Equal(t, StateOpen, b.State())

	clock.advance(2 * time.Second)
	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	assert.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerIgnoresNonFailures(t *testing.T) {
	rejected := errors.New("rejected")
	b := New("gateway", Config{FailureThreshold: 1, Timeout: time.Minute})
	b.IsFailure = func(err error) bool { return !errors.Is(err, rejected) }

	v, err := Call(b, context.Background(), func(context.Context) (int, error) { return 0, rejected })
	assert.ErrorIs(t, err, rejected)
	assert.Zero(t, v)
	assert.Equal(t, StateClosed, b.State())

	v, err = Call(b, context.Background(), func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
