package transport

import (
	"time"

	"github.com/controlled-anonymity/client-go/internal/config"
)

// Config defines connection and reconnect behavior.
type Config struct {
	URL          string
	BaseDelay    time.Duration
	MaxAttempts  int
	DialTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

// DefaultConfig returns the reconnect policy of the web client: 2s × attempt, five attempts.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		BaseDelay:    2 * time.Second,
		MaxAttempts:  5,
		DialTimeout:  10 * time.Second,
		PingInterval: config.WSPingInterval,
		SendBuffer:   config.WSSendBuffer,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = config.WSSendBuffer
	}
	return c
}

// NextDelay returns the wait before reconnect attempt n (1-based).
func NextDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}
