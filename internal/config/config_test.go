package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "LOG_LEVEL", "REALTIME_MODEL", "SESSION_IDLE_TTL_S", "CLIENT_TOKEN_SECRET", "API_KEY"} {
		t.Setenv(k, "")
	}
	c := Load()

	assert.Equal(t, "8080", c.Server.Port)
	assert.Equal(t, "9090", c.Server.GRPCPort)
	assert.Equal(t, "json", c.Server.LogFormat)
	assert.Equal(t, "https://api.openai.com/v1", c.OpenAI.BaseURL)
	assert.Equal(t, 15*time.Second, c.OpenAI.HandshakeTimeout)
	assert.Equal(t, time.Hour, c.Auth.TokenTTL)
	assert.Equal(t, 10*time.Second, c.Sessions.ReaperInterval)
	assert.Equal(t, 100*time.Millisecond, c.Audio.ChunkDuration)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REALTIME_MODEL", "gpt-test")
	t.Setenv("SESSION_IDLE_TTL_S", "120")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:1234/v1/")
	t.Setenv("API_KEY", "k")
	t.Setenv("CLIENT_TOKEN_SECRET", "")

	c := Load()
	assert.Equal(t, "9000", c.Server.Port)
	assert.Equal(t, "gpt-test", c.OpenAI.Model)
	assert.Equal(t, 2*time.Minute, c.Sessions.IdleTTL)
	assert.Equal(t, "http://localhost:1234/v1", c.OpenAI.BaseURL)
	assert.Equal(t, "k", c.TokenSecret())

	t.Setenv("CLIENT_TOKEN_SECRET", "s")
	assert.Equal(t, "s", Load().TokenSecret())
}
