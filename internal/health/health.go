// Package health reports whether the CLI host is able to serve requests.
//
// Checks are registered per component. A failing critical component makes
// the host unhealthy; a failing non-critical one only degrades it. The
// handler is mounted next to /metrics.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// CheckResult represents the result of a health check.
type CheckResult struct {
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Check is a health check function.
type Check func(ctx context.Context) CheckResult

type component struct {
	name     string
	critical bool
	check    Check
	timeout  time.Duration
}

// Checker runs the registered checks.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*component
	startTime  time.Time
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*component),
		startTime:  time.Now(),
	}
}

// Register adds a check. Registering a name again replaces it.
func (c *Checker) Register(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components[name] = &component{name: name, critical: critical, check: check, timeout: 2 * time.Second}
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check concurrently.
func (c *Checker) Check(ctx context.Context) map[string]CheckResult {
	c.mu.RLock()
	components := make([]*component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(components))
	)
	for _, comp := range components {
		wg.Add(1)
		go func(comp *component) {
			defer wg.Done()
			result := run(ctx, comp)
			mu.Lock()
			results[comp.name] = result
			mu.Unlock()
		}(comp)
	}
	wg.Wait()
	return results
}

func run(ctx context.Context, comp *component) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, comp.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan CheckResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- CheckResult{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.check(ctx)
	}()

	var result CheckResult
	select {
	case result = <-done:
	case <-ctx.Done():
		result = CheckResult{Status: StatusUnhealthy, Message: "check timed out", Error: ctx.Err().Error()}
	}
	result.Duration = time.Since(start)
	return result
}

// Overall aggregates results into one status.
func (c *Checker) Overall(results map[string]CheckResult) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	overall := StatusHealthy
	for name, result := range results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch result.Status {
		case StatusUnhealthy:
			if comp.critical {
				return StatusUnhealthy
			}
			overall = StatusDegraded
		case StatusDegraded:
			overall = StatusDegraded
		case StatusUnknown:
			if comp.critical && overall == StatusHealthy {
				overall = StatusUnknown
			}
		}
	}
	return overall
}

// Response is the body served by Handler.
type Response struct {
	Status     Status                 `json:"status"`
	Uptime     string                 `json:"uptime"`
	Components map[string]CheckResult `json:"components"`
}

// Handler serves the aggregated status. Unhealthy and unknown answer 503.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := c.Check(r.Context())
		resp := Response{
			Status:     c.Overall(results),
			Uptime:     time.Since(c.startTime).Round(time.Second).String(),
			Components: results,
		}

		w.Header().Set("Content-Type", "application/json")
		switch resp.Status {
		case StatusHealthy, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// PingCheck reports unhealthy when ping fails.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) CheckResult {
		if err := ping(ctx); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: "ping failed", Error: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// LimitCheck degrades when value exceeds limit.
func LimitCheck(what string, value func() int, limit int) Check {
	return func(ctx context.Context) CheckResult {
		if n := value(); n > limit {
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("%d %s, limit %d", n, what, limit)}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
