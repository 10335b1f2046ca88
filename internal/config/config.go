package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port      string
		GRPCPort  string
		LogLevel  string
		LogFormat string
	}
	OpenAI struct {
		APIKey           string
		BaseURL          string
		WSURL            string
		Model            string
		HandshakeTimeout time.Duration
	}
	Auth struct {
		APIKey      string
		TokenSecret string
		TokenTTL    time.Duration
		TokenSkew   int
	}
	Sessions struct {
		IdleTTL        time.Duration
		ReaperInterval time.Duration
	}
	Audio struct {
		ChunkDuration time.Duration
		CapturePacing time.Duration
	}
	Conversation struct {
		Path string
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.ws_url", "wss://api.openai.com/v1/realtime")
	v.SetDefault("openai.model", "gpt-4o-realtime-preview-2024-12-17")
	v.SetDefault("openai.handshake_timeout_s", 15)

	v.SetDefault("auth.api_key", "development-key")
	v.SetDefault("auth.token_ttl_min", 60)
	v.SetDefault("auth.token_skew_secs", 30)

	v.SetDefault("sessions.idle_ttl_s", 3600)
	v.SetDefault("sessions.reaper_interval_s", 10)

	v.SetDefault("audio.chunk_ms", 100)
	v.SetDefault("audio.capture_pacing_ms", 10)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.grpc_port", "GRPC_PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.log_format", "LOG_FORMAT")

	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	v.BindEnv("openai.ws_url", "REALTIME_WS_URL")
	v.BindEnv("openai.model", "REALTIME_MODEL")
	v.BindEnv("openai.handshake_timeout_s", "REALTIME_HANDSHAKE_TIMEOUT_S")

	v.BindEnv("auth.api_key", "API_KEY")
	v.BindEnv("auth.token_secret", "CLIENT_TOKEN_SECRET")
	v.BindEnv("auth.token_ttl_min", "CLIENT_TOKEN_TTL_MIN")
	v.BindEnv("auth.token_skew_secs", "CLIENT_TOKEN_SKEW_SECS")

	v.BindEnv("sessions.idle_ttl_s", "SESSION_IDLE_TTL_S")
	v.BindEnv("sessions.reaper_interval_s", "REAPER_INTERVAL_S")

	v.BindEnv("audio.chunk_ms", "AUDIO_CHUNK_MS")
	v.BindEnv("audio.capture_pacing_ms", "CAPTURE_PACING_MS")

	v.BindEnv("conversation.path", "CONVERSATION_CONFIG")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.GRPCPort = toString(v.Get("server.grpc_port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.LogFormat = v.GetString("server.log_format")

	c.OpenAI.APIKey = v.GetString("openai.api_key")
	c.OpenAI.BaseURL = strings.TrimRight(v.GetString("openai.base_url"), "/")
	c.OpenAI.WSURL = v.GetString("openai.ws_url")
	c.OpenAI.Model = v.GetString("openai.model")
	c.OpenAI.HandshakeTimeout = time.Duration(v.GetInt("openai.handshake_timeout_s")) * time.Second

	c.Auth.APIKey = v.GetString("auth.api_key")
	c.Auth.TokenSecret = v.GetString("auth.token_secret")
	c.Auth.TokenTTL = time.Duration(v.GetInt("auth.token_ttl_min")) * time.Minute
	c.Auth.TokenSkew = v.GetInt("auth.token_skew_secs")

	c.Sessions.IdleTTL = time.Duration(v.GetInt("sessions.idle_ttl_s")) * time.Second
	c.Sessions.ReaperInterval = time.Duration(v.GetInt("sessions.reaper_interval_s")) * time.Second

	c.Audio.ChunkDuration = time.Duration(v.GetInt("audio.chunk_ms")) * time.Millisecond
	c.Audio.CapturePacing = time.Duration(v.GetInt("audio.capture_pacing_ms")) * time.Millisecond

	c.Conversation.Path = v.GetString("conversation.path")
	return c
}

// TokenSecret returns the secret used to sign client credentials. Without an explicit
// secret the management API key signs them.
func (c Config) TokenSecret() string {
	if c.Auth.TokenSecret != "" {
		return c.Auth.TokenSecret
	}
	return c.Auth.APIKey
}

func toString(v any) string { return fmt.Sprint(v) }
