package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message"`
	LastCheck time.Time              `json:"last_check"`
	Latency   time.Duration          `json:"latency"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck represents a health check function.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthMonitor runs registered component checks on demand.
type HealthMonitor struct {
	mu         sync.RWMutex
	startTime  time.Time
	timeout    time.Duration
	components map[string]HealthCheck
	now        func() time.Time
}

// NewHealthMonitor creates a new health monitor. Each check run is bounded
// by timeout.
func NewHealthMonitor(timeout time.Duration) *HealthMonitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthMonitor{
		startTime:  time.Now(),
		timeout:    timeout,
		components: make(map[string]HealthCheck),
		now:        time.Now,
	}
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components[name] = check
}

// Check runs every component check concurrently and aggregates the result.
// A panicking check reports its component unhealthy.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	components := make(map[string]HealthCheck, len(m.components))
	for k, v := range m.components {
		components[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(components))

	for name, check := range components {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- ComponentHealth{
						Name:      n,
						Status:    HealthStatusUnhealthy,
						Message:   fmt.Sprintf("Panic recovered: %v", r),
						LastCheck: m.now(),
					}
				}
			}()

			start := m.now()
			health := c(ctx)
			health.Name = n
			health.LastCheck = m.now()
			health.Latency = health.LastCheck.Sub(start)
			results <- health
		}(name, check)
	}

	wg.Wait()
	close(results)

	health := SystemHealth{
		Status:    HealthStatusHealthy,
		StartTime: m.startTime,
		Uptime:    m.now().Sub(m.startTime),
	}
	for c := range results {
		health.Components = append(health.Components, c)
		switch c.Status {
		case HealthStatusUnhealthy:
			health.Status = HealthStatusUnhealthy
		case HealthStatusDegraded, HealthStatusUnknown:
			if health.Status == HealthStatusHealthy {
				health.Status = HealthStatusDegraded
			}
		}
	}
	sort.Slice(health.Components, func(i, j int) bool {
		return health.Components[i].Name < health.Components[j].Name
	})
	return health
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Uptime     time.Duration     `json:"uptime"`
	StartTime  time.Time         `json:"start_time"`
	Components []ComponentHealth `json:"components"`
}

// ToJSON returns the health status as JSON.
func (h SystemHealth) ToJSON() ([]byte, error) {
	return json.Marshal(h)
}

// HealthHTTPHandler returns an HTTP handler for health checks.
func (m *HealthMonitor) HealthHTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := m.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")

		switch health.Status {
		case HealthStatusHealthy, HealthStatusDegraded:
			w.WriteHeader(http.StatusOK) // Still operational
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		data, _ := health.ToJSON()
		w.Write(data)
	}
}

// BreakerHealthCheck reports an open circuit as unhealthy and a probing
// one as degraded.
func BreakerHealthCheck(b *Breaker) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		stats := b.Stats()
		health := ComponentHealth{
			Details: map[string]interface{}{
				"state":            string(stats.State),
				"failures":         stats.CurrentFailures,
				"total_calls":      stats.TotalCalls,
				"failure_rate_pct": stats.FailureRate(),
			},
		}
		switch stats.State {
		case StateOpen:
			health.Status = HealthStatusUnhealthy
			health.Message = "Circuit open, calls are rejected"
		case StateHalfOpen:
			health.Status = HealthStatusDegraded
			health.Message = "Circuit probing"
		default:
			health.Status = HealthStatusHealthy
			health.Message = "Circuit closed"
		}
		return health
	}
}

// FreshnessHealthCheck reports a data source that has been silent for
// longer than maxAge. A zero last time means nothing arrived yet.
func FreshnessHealthCheck(last func() time.Time, maxAge time.Duration, now func() time.Time) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		t := last()
		health := ComponentHealth{
			Details: map[string]interface{}{"last": t},
		}
		if t.IsZero() {
			health.Status = HealthStatusUnknown
			health.Message = "No data yet"
			return health
		}
		age := now().Sub(t)
		if maxAge > 0 && age > maxAge {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("No data for %v", age.Round(time.Second))
			return health
		}
		health.Status = HealthStatusHealthy
		health.Message = fmt.Sprintf("Last data %v ago", age.Round(time.Second))
		return health
	}
}

// DatabaseHealthCheck creates a health check for database connections.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		var health ComponentHealth

		start := time.Now()
		err := ping(ctx)
		latency := time.Since(start)

		if err != nil {
			health.Status = HealthStatusUnhealthy
			health.Message = fmt.Sprintf("Database ping failed: %v", err)
			return health
		}

		if latency > 100*time.Millisecond {
			health.Status = HealthStatusDegraded
			health.Message = fmt.Sprintf("Database slow: %v", latency)
			return health
		}

		health.Status = HealthStatusHealthy
		health.Message = "Database healthy"
		return health
	}
}
