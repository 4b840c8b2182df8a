package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy(context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func TestOverallStatus(t *testing.T) {
	c := NewChecker()
	c.Register("engine", true, healthy)
	c.Register("buffers", false, LimitCheck("buffers", func() int { return 5 }, 1))

	results := c.Check(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, StatusDegraded, results["buffers"].Status)
	assert.Equal(t, StatusDegraded, c.Overall(results))

	c.Register("journal", true, PingCheck(func(context.Context) error { return errors.New("closed") }))
	assert.Equal(t, StatusUnhealthy, c.Overall(c.Check(context.Background())))
	assert.Equal(t, []string{"buffers", "engine", "journal"}, c.Names())
}

func TestCheckRecoversPanics(t *testing.T) {
	c := NewChecker()
	c.Register("bad", true, func(context.Context) CheckResult { panic("boom") })

	result := c.Check(context.Background())["bad"]
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "boom", result.Error)
}

func TestCheckTimeout(t *testing.T) {
	c := NewChecker()
	c.Register("slow", false, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return CheckResult{Status: StatusHealthy}
	})
	c.components["slow"].timeout = 20 * time.Millisecond

	result := c.Check(context.Background())["slow"]
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "check timed out", result.Message)
}

func TestHandler(t *testing.T) {
	ready := false
	c := NewChecker()
	c.Register("engine", true, func(context.Context) CheckResult {
		if !ready {
			return CheckResult{Status: StatusUnhealthy, Message: "not initialized"}
		}
		return CheckResult{Status: StatusHealthy}
	})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ready = true
	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Contains(t, resp.Components, "engine")
}
