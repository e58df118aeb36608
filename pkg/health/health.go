// Package health serves the liveness and readiness probes for canon.
package health

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const probeTimeout = 5 * time.Second

// CheckResult is one dependency's outcome.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Response is the body of every health endpoint.
type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

// Probe pings one dependency. A nil error is healthy.
type Probe func(ctx context.Context) error

// BoolProbe adapts a health flag such as kafka.Consumer.Health.
func BoolProbe(healthy func() bool) Probe {
	return func(context.Context) error {
		if healthy() {
			return nil
		}
		return errors.New("not running")
	}
}

type registration struct {
	probe Probe
	// a failing critical probe fails readiness; any other probe only degrades it
	critical bool
}

type Checker struct {
	version string
	started time.Time

	mu     sync.RWMutex
	probes map[string]registration
	ready  bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		probes:  map[string]registration{},
	}
}

// Register adds or replaces the probe for name.
func (c *Checker) Register(name string, critical bool, probe Probe) {
	c.mu.Lock()
	c.probes[name] = registration{probe: probe, critical: critical}
	c.mu.Unlock()
}

// SetReady flips readiness; serve sets it once startup completes and clears
// it on shutdown.
func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Run executes every probe concurrently, each under its own timeout.
func (c *Checker) Run(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	regs := make(map[string]registration, len(c.probes))
	for name, reg := range c.probes {
		regs[name] = reg
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(regs))
		g       errgroup.Group
	)
	for name, reg := range regs {
		g.Go(func() error {
			res := reg.check(ctx, name)
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r registration) check(ctx context.Context, name string) CheckResult {
	if r.probe == nil {
		return CheckResult{Status: StatusUnhealthy, Message: name + " not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := r.probe(ctx)
	res := CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
	if err != nil {
		res.Message = err.Error()
		res.Status = StatusDegraded
		if r.critical {
			res.Status = StatusUnhealthy
		}
	}
	return res
}

func rollup(checks map[string]CheckResult) Status {
	overall := StatusHealthy
	for _, res := range checks {
		if res.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if res.Status == StatusDegraded {
			overall = StatusDegraded
		}
	}
	return overall
}

func (c *Checker) respond(ctx echo.Context, status Status, checks map[string]CheckResult) error {
	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	return ctx.JSON(code, Response{
		Status:     status,
		Version:    c.version,
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Checks:     checks,
		ReportedAt: time.Now().UTC(),
	})
}

// live answers as long as the process can serve a request.
func (c *Checker) live(ctx echo.Context) error {
	return c.respond(ctx, StatusHealthy, nil)
}

func (c *Checker) readiness(ctx echo.Context) error {
	if !c.IsReady() {
		return c.respond(ctx, StatusUnhealthy, map[string]CheckResult{
			"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
		})
	}
	return c.detail(ctx)
}

func (c *Checker) detail(ctx echo.Context) error {
	checks := c.Run(ctx.Request().Context())
	return c.respond(ctx, rollup(checks), checks)
}

// RegisterRoutes mounts /api/v1/health plus its /live and /ready probes.
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/v1/health")
	g.GET("", c.detail)
	g.GET("/live", c.live)
	g.GET("/ready", c.readiness)
}
