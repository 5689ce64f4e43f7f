// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// CallOperationTimeout bounds one controller operation, retries included
	CallOperationTimeout = 10 * time.Second

	// StoreTimeout bounds a single backing store round trip
	StoreTimeout = 5 * time.Second

	// NotificationTimeout bounds one notification sink delivery
	NotificationTimeout = 2 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second

	// RedisHealthCheckInterval is how often the Redis health check runs
	RedisHealthCheckInterval = 10 * time.Second
)

// Concurrency constants
const (
	// DefaultMaxSaveAttempts bounds the optimistic save retry loop
	DefaultMaxSaveAttempts = 3
)

// WebSocket constants
const (
	// WebSocketWriteWait is the time allowed to write a frame
	WebSocketWriteWait = 10 * time.Second

	// WebSocketPongWait is the time allowed to read the next pong
	WebSocketPongWait = 60 * time.Second

	// WebSocketPingInterval must be shorter than WebSocketPongWait
	WebSocketPingInterval = (WebSocketPongWait * 9) / 10

	// WebSocketMaxMessageSize caps inbound signaling frames (SDP can be large)
	WebSocketMaxMessageSize = 64 * 1024

	// DefaultMaxSignalingConnections caps concurrent signaling sockets per instance
	DefaultMaxSignalingConnections = 1000
)

// Signaling payload limits
const (
	// MaxSignalPayloadBytes caps one offer, answer or candidate blob
	MaxSignalPayloadBytes = 32 * 1024

	// DefaultEventPageSize is the default number of journal events returned
	DefaultEventPageSize = 100

	// MaxEventPageSize is the maximum number of journal events returned
	MaxEventPageSize = 500
)

// JWT-related constants
const (
	// AccessTokenExpiry is the default access token lifetime
	AccessTokenExpiry = 15 * time.Minute

	// TokenAudience is the audience signaling tokens must carry
	TokenAudience = "signaling-api"
)
