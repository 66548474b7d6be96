// Package health serves liveness, readiness and dependency checks.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Pinger is a dependency that can report whether it is reachable
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type Checker struct {
	version string
	started time.Time
	timeout time.Duration
	deps    map[string]Pinger
	ready   atomic.Bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		timeout: 2 * time.Second,
		deps:    map[string]Pinger{},
	}
}

// AddCheck registers a dependency under name. A nil pinger is ignored.
func (c *Checker) AddCheck(name string, p Pinger) *Checker {
	if p != nil {
		c.deps[name] = p
	}
	return c
}

// SetReady flips the readiness check, set once the process serves traffic
// and cleared when it starts draining
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

func (c *Checker) Register(e *echo.Echo) {
	e.GET("/health", c.Health)
	e.GET("/health/live", c.Live)
	e.GET("/health/ready", c.Ready)
}

type HealthStatus struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Checks     map[string]*CheckResult `json:"checks"`
	ReportedAt time.Time               `json:"reported_at"`
}

type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Check pings every dependency in parallel, each bounded by the checker
// timeout
func (c *Checker) Check(ctx context.Context) *HealthStatus {
	report := &HealthStatus{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Checks:     make(map[string]*CheckResult, len(c.deps)),
		ReportedAt: time.Now().UTC(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, dep := range c.deps {
		wg.Add(1)
		go func(name string, dep Pinger) {
			defer wg.Done()
			result := c.ping(ctx, dep)

			mu.Lock()
			defer mu.Unlock()
			report.Checks[name] = result
			if result.Status != StatusHealthy {
				report.Status = StatusUnhealthy
			}
		}(name, dep)
	}
	wg.Wait()

	return report
}

func (c *Checker) ping(ctx context.Context, dep Pinger) *CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	began := time.Now()
	if err := dep.PingContext(ctx); err != nil {
		return &CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return &CheckResult{Status: StatusHealthy, Latency: time.Since(began).String()}
}

// Health reports 503 when any dependency is down
func (c *Checker) Health(ctx echo.Context) error {
	report := c.Check(ctx.Request().Context())
	if report.Status != StatusHealthy {
		return ctx.JSON(http.StatusServiceUnavailable, report)
	}
	return ctx.JSON(http.StatusOK, report)
}

func (c *Checker) Live(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "alive"})
}

func (c *Checker) Ready(ctx echo.Context) error {
	if !c.ready.Load() {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
