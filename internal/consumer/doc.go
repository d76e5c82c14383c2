// Package consumer implements the Stream Consumers.
//
// A Stream owns one channel: it registers with the Channel Router, seeds
// itself from the Historical Fetcher and folds live frames into a bounded,
// deduplicated collection with the merge package. Live frames and backfill
// results pass through the same identity-key rule, so a record delivered by
// both collapses to one entry whatever order they arrive in.
//
// Lifecycle: uninitialized -> loading -> live -> torn_down. A consumer goes
// live on the first applied change, live frame or backfill. Close is final;
// results that land afterwards are discarded.
//
// The Reconciler reloads attached consumers after the stream reconnects.
package consumer
