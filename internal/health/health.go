// Package health checks the upstreams the agent depends on.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guidedconv/agent/internal/config"
	"guidedconv/agent/internal/realtime"
)

type CheckResult struct {
	Name    string        `json:"name"`
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency_ms"`
	Error   string        `json:"error,omitempty"`
}

type HealthStatus struct {
	OK        bool          `json:"ok"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
}

func (h HealthStatus) String() string {
	status := "OK"
	if !h.OK {
		status = "FAIL"
	}
	s := fmt.Sprintf("Health: %s\n", status)
	for _, c := range h.Checks {
		mark := "✓"
		if !c.OK {
			mark = "✗"
		}
		s += fmt.Sprintf("  %s %s (%dms)", mark, c.Name, c.Latency.Milliseconds())
		if c.Error != "" {
			s += fmt.Sprintf(" - %s", c.Error)
		}
		s += "\n"
	}
	return s
}

// Pinger is a reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckAll runs all health checks and returns combined status.
func CheckAll(ctx context.Context, cfg config.Config) HealthStatus {
	return Combine(checkRealtime(ctx, cfg, realtime.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)))
}

func Combine(checks ...CheckResult) HealthStatus {
	allOK := true
	for _, c := range checks {
		if !c.OK {
			allOK = false
		}
	}
	return HealthStatus{OK: allOK, Checks: checks, CheckedAt: time.Now().UTC()}
}

func checkRealtime(ctx context.Context, cfg config.Config, p Pinger) CheckResult {
	start := time.Now()
	result := CheckResult{Name: "openai"}

	if cfg.OpenAI.APIKey == "" {
		result.Error = "OPENAI_API_KEY not set"
		result.Latency = time.Since(start)
		return result
	}

	err := p.Ping(ctx)
	result.Latency = time.Since(start)
	var herr *realtime.HTTPError
	switch {
	case errors.As(err, &herr) && herr.StatusCode == 401:
		result.Error = "invalid API key (401)"
	case err != nil:
		result.Error = err.Error()
	default:
		result.OK = true
	}
	return result
}
