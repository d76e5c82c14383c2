package consumer

import (
	"context"
	"log/slog"

	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/merge"
	"github.com/rickgao/tokenfeed/internal/metrics"
	"github.com/rickgao/tokenfeed/internal/router"
)

// LatestConfig describes a single-value consumer.
type LatestConfig[T any] struct {
	Channel  string
	Params   frame.Params
	Decode   DecodeFunc[T]
	Backfill func(ctx context.Context) (T, bool, error) // Optional; false = no value

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Latest holds the most recent value of a channel, such as a price. The
// last live value received wins; a backfilled value only fills an empty
// slot.
type Latest[T any] struct {
	*Stream[T, struct{}]
}

// NewLatest creates a single-value consumer.
func NewLatest[T any](cfg LatestConfig[T], r router.Router) *Latest[T] {
	policy := merge.Policy[T, struct{}]{
		Key:      func(T) struct{} { return struct{}{} },
		Capacity: 1,
		// Non-nil so a backfill merges under the live value.
		Order: func(a, b T) bool { return false },
	}

	var backfill BackfillFunc[T]
	if cfg.Backfill != nil {
		backfill = func(ctx context.Context) ([]T, error) {
			v, ok, err := cfg.Backfill(ctx)
			if err != nil || !ok {
				return nil, err
			}
			return []T{v}, nil
		}
	}

	return &Latest[T]{NewStream(Config[T, struct{}]{
		Channel:  cfg.Channel,
		Params:   cfg.Params,
		Policy:   policy,
		Decode:   cfg.Decode,
		Backfill: backfill,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	}, r)}
}

// Value returns the current value, if any.
func (l *Latest[T]) Value() (T, bool) {
	items := l.Items()
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}
