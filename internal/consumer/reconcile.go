package consumer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/rickgao/tokenfeed/internal/connection"
)

// Reloader is a consumer that can re-run its backfill. Stream and Latest
// implement it.
type Reloader interface {
	Channel() string
	Reload(ctx context.Context) error
}

// StateWatcher publishes connection state changes.
type StateWatcher interface {
	Watch() (<-chan connection.StateChange, func())
}

// ReconcilerConfig holds reconciler configuration.
type ReconcilerConfig struct {
	Interval    time.Duration // Periodic reload; 0 = only after reconnects
	Concurrency int           // Max concurrent reloads (default: 4)
	Timeout     time.Duration // Per-reload timeout (default: 30s)
}

// DefaultReconcilerConfig returns sensible defaults.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Concurrency: 4,
		Timeout:     30 * time.Second,
	}
}

// Reconciler reloads attached consumers after the stream reconnects, so gaps
// that opened while it was down are backfilled.
type Reconciler struct {
	cfg     ReconcilerConfig
	watcher StateWatcher
	logger  *slog.Logger

	mu        sync.Mutex
	consumers map[uuid.UUID]Reloader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles   atomic.Int64
	reloaded atomic.Int64
	failed   atomic.Int64
}

// ReconcilerStats contains runtime statistics.
type ReconcilerStats struct {
	Consumers int
	Cycles    int64
	Reloaded  int64
	Failed    int64
}

// NewReconciler creates a Reconciler. watcher may be nil when only the
// interval is wanted.
func NewReconciler(cfg ReconcilerConfig, watcher StateWatcher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultReconcilerConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Reconciler{
		cfg:       cfg,
		watcher:   watcher,
		logger:    logger,
		consumers: make(map[uuid.UUID]Reloader),
	}
}

// Attach adds a consumer and returns a func that removes it.
func (r *Reconciler) Attach(c Reloader) func() {
	id := uuid.New()

	r.mu.Lock()
	r.consumers[id] = c
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.consumers, id)
		r.mu.Unlock()
	}
}

// Start begins watching.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	var changes <-chan connection.StateChange
	var stopWatch func()
	if r.watcher != nil {
		changes, stopWatch = r.watcher.Watch()
	}

	r.wg.Add(1)
	go r.run(changes, stopWatch)

	r.logger.Info("reconciler started",
		"interval", r.cfg.Interval,
		"concurrency", r.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the reconciler.
func (r *Reconciler) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) run(changes <-chan connection.StateChange, stopWatch func()) {
	defer r.wg.Done()
	if stopWatch != nil {
		defer stopWatch()
	}

	var tick <-chan time.Time
	if r.cfg.Interval > 0 {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// The first connect is covered by each consumer's own backfill.
	connectedBefore := false

	for {
		select {
		case <-r.ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			if change.To != connection.StateConnected {
				continue
			}
			if connectedBefore {
				r.ReloadAll(r.ctx, "reconnect")
			}
			connectedBefore = true
		case <-tick:
			r.ReloadAll(r.ctx, "interval")
		}
	}
}

// ReloadAll reloads every attached consumer with bounded concurrency.
func (r *Reconciler) ReloadAll(ctx context.Context, reason string) {
	start := time.Now()

	r.mu.Lock()
	targets := make([]Reloader, 0, len(r.consumers))
	for _, c := range r.consumers {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	r.cycles.Add(1)
	if len(targets) == 0 {
		r.logger.Debug("no consumers to reload", "reason", reason)
		return
	}

	var reloaded, failed atomic.Int64
	p := pool.New().WithMaxGoroutines(r.cfg.Concurrency)
	for _, c := range targets {
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			rctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
			defer cancel()

			if err := c.Reload(rctx); err != nil {
				if errors.Is(err, ErrClosed) || errors.Is(err, context.Canceled) {
					return
				}
				r.logger.Warn("failed to reload consumer",
					"channel", c.Channel(),
					"error", err,
				)
				failed.Add(1)
				return
			}
			reloaded.Add(1)
		})
	}
	p.Wait()

	r.reloaded.Add(reloaded.Load())
	r.failed.Add(failed.Load())

	r.logger.Info("reconcile cycle complete",
		"reason", reason,
		"consumers", len(targets),
		"reloaded", reloaded.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// Stats returns current statistics.
func (r *Reconciler) Stats() ReconcilerStats {
	r.mu.Lock()
	n := len(r.consumers)
	r.mu.Unlock()

	return ReconcilerStats{
		Consumers: n,
		Cycles:    r.cycles.Load(),
		Reloaded:  r.reloaded.Load(),
		Failed:    r.failed.Load(),
	}
}
