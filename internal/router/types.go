package router

import (
	"github.com/google/uuid"

	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/metrics"
)

// Config holds configuration for the Router.
type Config struct {
	Metrics *metrics.Metrics // Optional
}

// Consumer receives relevant frames for one channel. Ingest runs on the
// router goroutine and must not block; consumers queue and return.
type Consumer interface {
	Ingest(f frame.Frame)
}

// ConsumerFunc is a function adapter for Consumer.
type ConsumerFunc func(frame.Frame)

func (fn ConsumerFunc) Ingest(f frame.Frame) {
	fn(f)
}

// Subscriber receives subscription lifecycle intents. The connection
// Manager implements it; both calls must be non-blocking.
type Subscriber interface {
	Subscribe(channel string, params frame.Params)
	Unsubscribe(channel string)
}

// Handle identifies one registration.
type Handle struct {
	Channel string
	ID      uuid.UUID
}

// Valid reports whether h came from Register.
func (h Handle) Valid() bool {
	return h.ID != uuid.Nil
}

// registration is one consumer attached to a channel.
type registration struct {
	id       uuid.UUID
	consumer Consumer
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	FramesReceived int64
	FramesRouted   int64 // Deliveries, one per consumer
	NoConsumer     int64
	NotRelevant    int64
	ConsumerPanics int64
	Channels       int
	Consumers      int
	InputBuffer    BufferStats
}
