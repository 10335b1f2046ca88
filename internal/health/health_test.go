package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"guidedconv/agent/internal/config"
	"guidedconv/agent/internal/realtime"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckRealtime(t *testing.T) {
	var cfg config.Config
	r := checkRealtime(context.Background(), cfg, pingFunc(func(context.Context) error { return nil }))
	assert.False(t, r.OK)
	assert.Contains(t, r.Error, "OPENAI_API_KEY")

	cfg.OpenAI.APIKey = "sk"
	r = checkRealtime(context.Background(), cfg, pingFunc(func(context.Context) error { return nil }))
	assert.True(t, r.OK)

	r = checkRealtime(context.Background(), cfg, pingFunc(func(context.Context) error {
		return &realtime.HTTPError{StatusCode: 401}
	}))
	assert.Equal(t, "invalid API key (401)", r.Error)

	r = checkRealtime(context.Background(), cfg, pingFunc(func(context.Context) error { return errors.New("dial tcp: refused") }))
	assert.False(t, r.OK)
	assert.Equal(t, "dial tcp: refused", r.Error)
}

func TestCombine(t *testing.T) {
	h := Combine(CheckResult{Name: "a", OK: true}, CheckResult{Name: "b", Error: "down"})
	assert.False(t, h.OK)
	assert.Contains(t, h.String(), "Health: FAIL")
	assert.Contains(t, h.String(), "b (0ms) - down")
	assert.True(t, Combine(CheckResult{Name: "a", OK: true}).OK)
}
