package config

import "time"

// HTTP surface timeouts for the local bridge
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 10 * time.Second
)

// Websocket keepalive
const (
	WSWriteWait    = 10 * time.Second
	WSPongWait     = 60 * time.Second
	WSPingInterval = (WSPongWait * 9) / 10
	WSReadLimit    = 64 * 1024
	WSSendBuffer   = 64
)

// Identity store ping timeout
const RedisPingTimeout = 5 * time.Second

// Queue clock tick
const QueueClockInterval = 10 * time.Second

// MaxMessageLength mirrors the backend's per-message content limit.
const MaxMessageLength = 1000

// IdentityStorageKey is the single persisted key holding the raw device identifier.
const IdentityStorageKey = "controlled_anonymity_device_id"

// Bridge request limits
const (
	MaxBodySize       = 64 * 1024
	MaxUploadSize     = 10 << 20
	MaxReportDetails  = 500
	SSEClientBuffer   = 100
	SSEHeartbeatEvery = 30 * time.Second
)
