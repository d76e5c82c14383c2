package router

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/metrics"
)

// Router dispatches frames to per-channel consumers.
type Router interface {
	// Start begins draining the input buffer.
	Start(ctx context.Context) error

	// Stop waits for the route loop to exit.
	Stop(ctx context.Context) error

	// Route dispatches one frame synchronously.
	Route(f frame.Frame)

	// Register attaches a consumer to channel. The first registration on a
	// channel subscribes it with params.
	Register(channel string, params frame.Params, c Consumer) Handle

	// Deregister detaches a consumer. The last deregistration on a channel
	// unsubscribes it. Unknown handles are ignored.
	Deregister(h Handle)

	// Stats returns current router statistics.
	Stats() RouterStats
}

// router is the internal implementation.
type router struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Input from the connection Manager
	input *GrowableBuffer[frame.Frame]

	// Subscription intents go here
	subs Subscriber

	// Registry: channel → consumers in registration order
	mu    sync.RWMutex
	table map[string][]registration

	// Lifecycle
	wg sync.WaitGroup

	received    atomic.Int64
	routed      atomic.Int64
	noConsumer  atomic.Int64
	notRelevant atomic.Int64
	panics      atomic.Int64
}

// NewRouter creates a Router. input may be nil when frames are only ever
// passed to Route directly; subs may be nil when no upstream subscription is
// needed.
func NewRouter(cfg Config, input *GrowableBuffer[frame.Frame], subs Subscriber, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &router{
		cfg:     cfg,
		logger:  logger,
		metrics: cfg.Metrics,
		input:   input,
		subs:    subs,
		table:   make(map[string][]registration),
	}
}

// Start begins routing.
func (r *router) Start(ctx context.Context) error {
	if r.input == nil {
		return nil
	}

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("channel router started")
	return nil
}

// Stop waits for the route loop. The loop exits once the input buffer is
// closed by its owner and drained.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping channel router")

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("channel router stopped")
	case <-ctx.Done():
		r.logger.Warn("channel router stop timed out")
		return ctx.Err()
	}
	return nil
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		f, ok := r.input.Receive()
		if !ok {
			r.logger.Info("input buffer closed")
			return
		}
		r.Route(f)
	}
}

// Route dispatches a single frame.
func (r *router) Route(f frame.Frame) {
	r.received.Add(1)

	r.mu.RLock()
	regs := r.table[f.Channel]
	r.mu.RUnlock()

	if len(regs) == 0 {
		r.noConsumer.Add(1)
		r.metrics.IncFrameDropped(metrics.DropNoConsumer)
		r.logger.Debug("no consumer for channel, dropping frame",
			"channel", f.Channel,
			"kind", f.Kind,
		)
		return
	}

	switch {
	case f.Kind == frame.KindAck:
		r.logger.Debug("subscription acknowledged", "channel", f.Channel)
	case f.Error != "":
		r.logger.Warn("stream reported channel error",
			"channel", f.Channel,
			"error", f.Error,
		)
	}

	if !frame.IsRelevant(f.Channel, f) {
		r.notRelevant.Add(1)
		r.metrics.IncFrameDropped(metrics.DropNotRelevant)
		return
	}

	// regs is never mutated in place (Register/Deregister copy on write), so
	// it is safe to iterate without the lock.
	for _, reg := range regs {
		r.deliver(f, reg)
	}
}

// deliver hands a frame to one consumer. A panicking consumer is logged and
// skipped; it never takes down the route loop.
func (r *router) deliver(f frame.Frame, reg registration) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panics.Add(1)
			r.metrics.IncFrameDropped(metrics.DropPanic)
			r.logger.Error("consumer panicked",
				"channel", f.Channel,
				"consumer", reg.id,
				"panic", rec,
			)
		}
	}()

	reg.consumer.Ingest(f)
	r.routed.Add(1)
	r.metrics.IncFrameRouted()
}

// Register attaches a consumer.
func (r *router) Register(channel string, params frame.Params, c Consumer) Handle {
	h := Handle{Channel: channel, ID: uuid.New()}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.table[channel]
	next := make([]registration, len(existing), len(existing)+1)
	copy(next, existing)
	r.table[channel] = append(next, registration{id: h.ID, consumer: c})

	// Subscribe is a non-blocking enqueue; issuing it under the lock keeps
	// subscribe/unsubscribe intents in registry order.
	if len(existing) == 0 && r.subs != nil {
		r.subs.Subscribe(channel, params)
	}

	r.logger.Debug("consumer registered",
		"channel", channel,
		"consumer", h.ID,
		"consumers", len(existing)+1,
	)
	return h
}

// Deregister detaches a consumer.
func (r *router) Deregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.table[h.Channel]
	idx := -1
	for i, reg := range existing {
		if reg.id == h.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	if len(existing) == 1 {
		delete(r.table, h.Channel)
		if r.subs != nil {
			r.subs.Unsubscribe(h.Channel)
		}
		r.logger.Debug("last consumer left channel", "channel", h.Channel)
		return
	}

	next := make([]registration, 0, len(existing)-1)
	next = append(next, existing[:idx]...)
	next = append(next, existing[idx+1:]...)
	r.table[h.Channel] = next
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	channels := len(r.table)
	consumers := 0
	for _, regs := range r.table {
		consumers += len(regs)
	}
	r.mu.RUnlock()

	stats := RouterStats{
		FramesReceived: r.received.Load(),
		FramesRouted:   r.routed.Load(),
		NoConsumer:     r.noConsumer.Load(),
		NotRelevant:    r.notRelevant.Load(),
		ConsumerPanics: r.panics.Load(),
		Channels:       channels,
		Consumers:      consumers,
	}
	if r.input != nil {
		stats.InputBuffer = r.input.Stats()
	}
	return stats
}
