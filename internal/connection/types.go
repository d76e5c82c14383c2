package connection

import (
	"errors"
	"time"

	"github.com/rickgao/tokenfeed/internal/router"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrHeartbeat       = errors.New("no frame within heartbeat timeout")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrNoURL           = errors.New("stream url not set")
)

// State is a connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// StateNames lists every state label, for metrics registration.
func StateNames() []string {
	return []string{
		StateDisconnected.String(),
		StateConnecting.String(),
		StateConnected.String(),
		StateReconnecting.String(),
		StateClosing.String(),
	}
}

// StateChange is one observed transition.
type StateChange struct {
	From State
	To   State
	At   time.Time
	Err  error // Cause, for transitions into reconnecting
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Stream URL (wss://...)
	Token            string        // Bearer token; empty disables the Authorization header
	HandshakeTimeout time.Duration // Dial handshake limit
	PingInterval     time.Duration // WebSocket keepalive ping period; 0 disables
	PongTimeout      time.Duration // Max time without pong before the transport is stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1024,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client ClientConfig // Template; URL and Token are set by Connect

	ReconnectBaseDelay time.Duration // backoff(0)
	ReconnectMaxDelay  time.Duration // Upper bound on any single wait
	ReconnectMaxExp    int           // Cap on the backoff exponent
	HeartbeatTimeout   time.Duration // Silence that forces a reconnect; 0 disables
	ControlRate        float64       // Control messages per second; <= 0 is unlimited
	ControlBurst       int           // Burst for ControlRate
	FrameBufferSize    int           // Initial capacity of the frame buffer
	WatchBufferSize    int           // Per-watcher channel capacity
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:             DefaultClientConfig(),
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  30 * time.Second,
		ReconnectMaxExp:    6,
		HeartbeatTimeout:   60 * time.Second,
		ControlRate:        20,
		ControlBurst:       10,
		FrameBufferSize:    1024,
		WatchBufferSize:    16,
	}
}

// ReconnectDelay returns the wait before reconnect attempt n (0-based):
// min(maxDelay, base * 2^min(n, maxExp)).
func ReconnectDelay(base, maxDelay time.Duration, maxExp, n int) time.Duration {
	if n > maxExp {
		n = maxExp
	}
	if n < 0 {
		n = 0
	}
	d := base << uint(n)
	if d <= 0 || d > maxDelay {
		return maxDelay
	}
	return d
}

// ManagerStats contains runtime statistics.
type ManagerStats struct {
	State          State
	DialAttempts   int64
	Reconnects     int64
	FramesReceived int64
	PingsReceived  int64
	DecodeErrors   int64
	ControlSent    int64
	Subscriptions  int
	FrameBuffer    router.BufferStats
}
