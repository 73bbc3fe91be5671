package health

import (
	"context"
	"sync"
	"time"

	"github.com/gatecore/gatecore/cache"
	"github.com/gatecore/gatecore/metrics"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check result
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Report represents the aggregated health check result
type Report struct {
	Status    Status           `json:"status"`
	Timestamp string           `json:"timestamp"`
	Checks    map[string]Check `json:"checks,omitempty"`
}

// Checker is a function that performs a health check
type Checker func(ctx context.Context) error

// Manager manages named health checks. Supervisors and monitoring
// collaborators call Check to probe the core's storage without going
// through cache or throttle operations.
type Manager struct {
	checks map[string]Checker
	mu     sync.RWMutex
}

// NewManager creates a new health check manager
func NewManager() *Manager {
	metrics.Init()
	return &Manager{
		checks: make(map[string]Checker),
	}
}

// Register registers a health check
func (m *Manager) Register(name string, checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = checker
}

// Unregister removes a health check
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// RegisterCache registers a check that pings the cache engine's storage
// backend.
func (m *Manager) RegisterCache(name string, engine *cache.Engine) {
	m.Register(name, engine.Ping)
}

// Check runs all registered checks and aggregates the result. Any
// failing check makes the overall report unhealthy.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]Check)
	overall := StatusHealthy

	for name, checker := range m.checks {
		start := time.Now()
		err := checker(ctx)
		elapsed := time.Since(start)

		check := Check{
			Name:       name,
			Status:     StatusHealthy,
			DurationMs: elapsed.Milliseconds(),
		}
		if err != nil {
			check.Status = StatusUnhealthy
			check.Error = err.Error()
			overall = StatusUnhealthy
		}
		checks[name] = check

		metrics.RecordHealthCheck(name, string(check.Status), elapsed)
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}
