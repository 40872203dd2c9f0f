package resilience

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthMonitorAggregates(t *testing.T) {
	m := NewHealthMonitor(time.Second)
	m.RegisterComponent("db", DatabaseHealthCheck(func(context.Context) error { return nil }))

	h := m.Check(context.Background())
	assert.Equal(t, HealthStatusHealthy, h.Status)
	require.Len(t, h.Components, 1)
	assert.Equal(t, "db", h.Components[0].Name)

	m.RegisterComponent("feed", func(context.Context) ComponentHealth {
		return ComponentHealth{Status: HealthStatusDegraded}
	})
	assert.Equal(t, HealthStatusDegraded, m.Check(context.Background()).Status)

	m.RegisterComponent("broken", func(context.Context) ComponentHealth { panic("boom") })
	h = m.Check(context.Background())
	assert.Equal(t, HealthStatusUnhealthy, h.Status)
	assert.Equal(t, "broken", h.Components[0].Name)
	assert.Contains(t, h.Components[0].Message, "boom")
}

func TestBreakerHealthCheck(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	b := New("gateway", Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}).WithClock(clock.now)
	check := BreakerHealthCheck(b)

	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	_ = b.Do(context.Background(), func(context.Context) error { return errBoom })
	assert.Equal(t, HealthStatusUnhealthy, check(context.Background()).Status)
}

func TestFreshnessHealthCheck(t *testing.T) {
	now := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	last := time.Time{}
	check := FreshnessHealthCheck(func() time.Time { return last }, time.Minute, func() time.Time { return now })

	assert.Equal(t, HealthStatusUnknown, check(context.Background()).Status)

	last = now.Add(-30 * time.Second)
	assert.Equal(t, HealthStatusHealthy, check(context.Background()).Status)

	last = now.Add(-2 * time.Minute)
	assert.Equal(t, HealthStatusDegraded, check(context.Background()).Status)
}

func TestHealthHTTPHandler(t *testing.T) {
	m := NewHealthMonitor(time.Second)
	m.RegisterComponent("db", DatabaseHealthCheck(func(context.Context) error { return errors.New("closed") }))

	rec := httptest.NewRecorder()
	m.HealthHTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Database ping failed")
}
