package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/merge"
	"github.com/rickgao/tokenfeed/internal/metrics"
	"github.com/rickgao/tokenfeed/internal/router"
)

// Errors
var (
	ErrStarted = errors.New("consumer already started")
	ErrClosed  = errors.New("consumer torn down")
)

// Phase is a consumer lifecycle phase.
type Phase int32

const (
	PhaseUninitialized Phase = iota
	PhaseLoading
	PhaseLive
	PhaseTornDown
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseLoading:
		return "loading"
	case PhaseLive:
		return "live"
	case PhaseTornDown:
		return "torn_down"
	default:
		return "unknown"
	}
}

// DecodeFunc turns a frame payload into records.
type DecodeFunc[T any] func(payload json.RawMessage) ([]T, error)

// BackfillFunc loads historical records. It must honor ctx.
type BackfillFunc[T any] func(ctx context.Context) ([]T, error)

// Config describes one stream consumer.
type Config[T any, K comparable] struct {
	Channel  string
	Params   frame.Params
	Policy   merge.Policy[T, K]
	Decode   DecodeFunc[T]
	Backfill BackfillFunc[T] // Optional

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Stream keeps a bounded, deduplicated collection of one channel's records,
// seeded by an optional backfill and updated by live frames.
//
// Items returns an immutable snapshot; every change publishes a new slice.
type Stream[T any, K comparable] struct {
	cfg     Config[T, K]
	router  router.Router
	logger  *slog.Logger
	metrics *metrics.Metrics

	inbox  *router.GrowableBuffer[frame.Frame]
	handle router.Handle

	// applyMu serializes every mutation of the view.
	applyMu sync.Mutex

	// mu guards lifecycle fields.
	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	backfillCancel context.CancelFunc
	backfillGen    uint64

	phase   atomic.Int32
	loading atomic.Bool
	view    atomic.Pointer[[]T]
	version atomic.Uint64
	err     atomic.Pointer[error]
	updates chan struct{}

	decodeErrors atomic.Int64
	framesMerged atomic.Int64

	wg sync.WaitGroup
}

// NewStream creates a consumer. Nothing happens until Start.
func NewStream[T any, K comparable](cfg Config[T, K], r router.Router) *Stream[T, K] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Stream[T, K]{
		cfg:     cfg,
		router:  r,
		logger:  logger.With("channel", cfg.Channel),
		metrics: cfg.Metrics,
		inbox:   router.NewGrowableBuffer[frame.Frame](16),
		updates: make(chan struct{}, 1),
	}
	empty := []T{}
	s.view.Store(&empty)
	return s
}

// Channel returns the consumer's channel.
func (s *Stream[T, K]) Channel() string {
	return s.cfg.Channel
}

// Start registers with the router and launches the backfill, if any.
func (s *Stream[T, K]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Phase() {
	case PhaseTornDown:
		return ErrClosed
	case PhaseUninitialized:
	default:
		return ErrStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.phase.Store(int32(PhaseLoading))

	s.wg.Add(1)
	go s.mailbox()

	s.handle = s.router.Register(s.cfg.Channel, s.cfg.Params, router.ConsumerFunc(s.ingest))

	if s.cfg.Backfill != nil {
		gen, bctx := s.beginBackfillLocked(s.ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runBackfill(bctx, gen)
		}()
	}

	s.logger.Debug("stream consumer started", "backfill", s.cfg.Backfill != nil)
	return nil
}

// Close deregisters the consumer, cancels any backfill and clears its state.
// Results that arrive afterwards are discarded. Close is idempotent.
func (s *Stream[T, K]) Close() {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	prev := Phase(s.phase.Swap(int32(PhaseTornDown)))
	if prev == PhaseTornDown {
		s.mu.Unlock()
		return
	}
	if s.backfillCancel != nil {
		s.backfillCancel()
		s.backfillCancel = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if s.handle.Valid() {
		s.router.Deregister(s.handle)
	}
	s.inbox.Reset()
	s.inbox.Close()

	empty := []T{}
	s.view.Store(&empty)
	s.loading.Store(false)
	close(s.updates)

	s.metrics.DeleteConsumer(s.cfg.Channel)
	s.logger.Debug("stream consumer torn down", "from", prev.String())
}

// Wait blocks until the consumer's goroutines exit. Call after Close.
func (s *Stream[T, K]) Wait() {
	s.wg.Wait()
}

// Refresh restarts the backfill in the background, cancelling one in flight.
func (s *Stream[T, K]) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Backfill == nil || s.ctx == nil || s.Phase() == PhaseTornDown {
		return
	}

	gen, bctx := s.beginBackfillLocked(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runBackfill(bctx, gen)
	}()
}

// Reload runs the backfill synchronously on the caller's goroutine,
// cancelling one in flight. It returns the backfill error, or ErrClosed.
func (s *Stream[T, K]) Reload(ctx context.Context) error {
	s.mu.Lock()
	if s.Phase() == PhaseTornDown {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cfg.Backfill == nil || s.ctx == nil {
		s.mu.Unlock()
		return nil
	}

	// Cancelled by either the caller or the consumer's own teardown.
	gen, bctx := s.beginBackfillLocked(ctx)
	stop := context.AfterFunc(s.ctx, s.backfillCancel)
	s.mu.Unlock()
	defer stop()

	return s.runBackfill(bctx, gen)
}

// beginBackfillLocked cancels the previous backfill and returns the new
// generation. s.mu must be held.
func (s *Stream[T, K]) beginBackfillLocked(parent context.Context) (uint64, context.Context) {
	if s.backfillCancel != nil {
		s.backfillCancel()
	}
	ctx, cancel := context.WithCancel(parent)
	s.backfillCancel = cancel
	s.backfillGen++
	s.loading.Store(true)
	return s.backfillGen, ctx
}

func (s *Stream[T, K]) runBackfill(ctx context.Context, gen uint64) error {
	items, err := s.cfg.Backfill(ctx)

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	closed := s.Phase() == PhaseTornDown
	superseded := gen != s.backfillGen
	if !closed && !superseded && s.backfillCancel != nil {
		s.backfillCancel()
		s.backfillCancel = nil
	}
	s.mu.Unlock()

	switch {
	case closed:
		s.logger.Debug("discarding backfill result after teardown", "generation", gen)
		return ErrClosed
	case superseded:
		s.logger.Debug("discarding superseded backfill result", "generation", gen)
		return context.Canceled
	}

	s.loading.Store(false)

	if err != nil {
		s.err.Store(&err)
		s.logger.Warn("backfill failed", "error", err)
		s.promoteLive()
		s.publishLocked(nil)
		return err
	}
	s.err.Store(nil)

	// A record the stream already delivered keeps its place unless the
	// historical copy is fresher by the policy's own rule.
	next := merge.Underlay(*s.view.Load(), items, s.cfg.Policy)
	s.promoteLive()
	s.publishLocked(next)

	s.logger.Debug("backfill applied", "records", len(items), "items", len(next))
	return nil
}

// ingest runs on the router goroutine; it only queues.
func (s *Stream[T, K]) ingest(f frame.Frame) {
	s.inbox.Send(f)
}

// mailbox drains queued frames and merges each drained batch once.
func (s *Stream[T, K]) mailbox() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.inbox.Ready():
			frames := s.inbox.DrainTo(0)
			if len(frames) == 0 {
				if s.inbox.Closed() {
					return
				}
				continue
			}
			s.applyFrames(frames)
		}
	}
}

func (s *Stream[T, K]) applyFrames(frames []frame.Frame) {
	var batch []T
	for _, f := range frames {
		if f.Error != "" {
			s.logger.Warn("channel error frame", "error", f.Error)
			continue
		}
		if !f.HasPayload() {
			continue
		}
		items, err := s.cfg.Decode(f.Payload)
		if err != nil {
			s.decodeErrors.Add(1)
			s.metrics.IncFrameDropped(metrics.DropDecodeError)
			s.logger.Warn("dropping undecodable payload", "error", err)
			continue
		}
		batch = append(batch, items...)
	}
	if len(batch) == 0 {
		return
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.Phase() == PhaseTornDown {
		return
	}

	next := merge.Merge(*s.view.Load(), batch, s.cfg.Policy)
	s.framesMerged.Add(int64(len(frames)))
	s.promoteLive()
	s.publishLocked(next)
}

func (s *Stream[T, K]) promoteLive() {
	s.phase.CompareAndSwap(int32(PhaseLoading), int32(PhaseLive))
}

// publishLocked stores next (nil keeps the current items), bumps the
// version and signals Updates. applyMu must be held.
func (s *Stream[T, K]) publishLocked(next []T) {
	if next != nil {
		s.view.Store(&next)
		s.metrics.SetConsumerItems(s.cfg.Channel, len(next))
	}
	s.version.Add(1)

	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Items returns the current collection. Callers must not modify it.
func (s *Stream[T, K]) Items() []T {
	return *s.view.Load()
}

// Len returns the number of records held.
func (s *Stream[T, K]) Len() int {
	return len(*s.view.Load())
}

// Loading reports whether a backfill is in flight.
func (s *Stream[T, K]) Loading() bool {
	return s.loading.Load()
}

// Err returns the last backfill error, cleared by a successful backfill.
func (s *Stream[T, K]) Err() error {
	if p := s.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Phase returns the lifecycle phase.
func (s *Stream[T, K]) Phase() Phase {
	return Phase(s.phase.Load())
}

// Version increases on every published change.
func (s *Stream[T, K]) Version() uint64 {
	return s.version.Load()
}

// Updates delivers a coalesced signal after each change. It is closed when
// the consumer is torn down.
func (s *Stream[T, K]) Updates() <-chan struct{} {
	return s.updates
}

// Stats contains runtime statistics.
type Stats struct {
	Channel      string
	Phase        Phase
	Items        int
	Loading      bool
	Version      uint64
	FramesMerged int64
	DecodeErrors int64
	Inbox        router.BufferStats
}

// Stats returns current statistics.
func (s *Stream[T, K]) Stats() Stats {
	return Stats{
		Channel:      s.cfg.Channel,
		Phase:        s.Phase(),
		Items:        s.Len(),
		Loading:      s.Loading(),
		Version:      s.Version(),
		FramesMerged: s.framesMerged.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Inbox:        s.inbox.Stats(),
	}
}
