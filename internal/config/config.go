package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	APIBaseURL            string `env:"API_BASE_URL" envDefault:"http://localhost:8000"`
	WSBaseURL             string `env:"WS_BASE_URL" envDefault:"ws://localhost:8000"`
	IdentityDir           string `env:"IDENTITY_DIR"`
	IdentityRedisURL      string `env:"IDENTITY_REDIS_URL"`
	IdentityEncryptionKey string `env:"IDENTITY_ENCRYPTION_KEY"`
	IdentityProfile       string `env:"IDENTITY_PROFILE"`
	BridgeAddr            string `env:"BRIDGE_ADDR" envDefault:"127.0.0.1:7420"`
	BridgeTokenHash       string `env:"BRIDGE_TOKEN_HASH"`
	BridgeSendRatePerMin  int    `env:"BRIDGE_SEND_RATE_PER_MIN" envDefault:"60"`
	ReconnectBaseSeconds  int    `env:"RECONNECT_BASE_SECONDS" envDefault:"2"`
	ReconnectMaxAttempts  int    `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"5"`
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"15"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
}

func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseSeconds) * time.Second
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ChatURL returns the websocket address for one device digest.
func (c *Config) ChatURL(digest string) string {
	return strings.TrimRight(c.WSBaseURL, "/") + "/ws/chat/" + url.PathEscape(digest)
}

func (c *Config) Validate() error {
	api, err := url.Parse(c.APIBaseURL)
	if err != nil || (api.Scheme != "http" && api.Scheme != "https") || api.Host == "" {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL, got %q", c.APIBaseURL)
	}
	ws, err := url.Parse(c.WSBaseURL)
	if err != nil || (ws.Scheme != "ws" && ws.Scheme != "wss") || ws.Host == "" {
		return fmt.Errorf("WS_BASE_URL must be a ws(s) URL, got %q", c.WSBaseURL)
	}

	if c.ReconnectBaseSeconds <= 0 {
		return fmt.Errorf("RECONNECT_BASE_SECONDS must be positive")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative")
	}

	if c.BridgeSendRatePerMin < 0 {
		return fmt.Errorf("BRIDGE_SEND_RATE_PER_MIN must not be negative")
	}

	if c.BridgeTokenHash != "" {
		if !strings.HasPrefix(c.BridgeTokenHash, "$2a$") &&
			!strings.HasPrefix(c.BridgeTokenHash, "$2b$") &&
			!strings.HasPrefix(c.BridgeTokenHash, "$2y$") {
			return fmt.Errorf("BRIDGE_TOKEN_HASH must be a bcrypt hash (generate with: go run ./scripts/hash-token <token>)")
		}
	}

	if c.IdentityEncryptionKey != "" && len(c.IdentityEncryptionKey) != 64 {
		return fmt.Errorf("IDENTITY_ENCRYPTION_KEY must be 64 hex chars (generate with: openssl rand -hex 32)")
	}

	if api.Scheme == "https" && ws.Scheme == "ws" {
		log.Warn().Msg("WS_BASE_URL uses ws:// while API_BASE_URL uses https: the device digest travels unencrypted")
	}
	if c.IdentityRedisURL != "" && strings.HasPrefix(c.IdentityRedisURL, "redis://") {
		log.Warn().Msg("IDENTITY_REDIS_URL uses redis:// (not TLS): consider using rediss://")
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
