// Package merge implements the bounded dedup/merge used by every stream
// consumer to fold new records into its collection.
//
// Merge never mutates its inputs. It always returns a freshly allocated
// slice, so callers holding the previous slice can detect change by identity.
package merge

import "sort"

// Policy describes how records of one kind are merged.
type Policy[T any, K comparable] struct {
	// Key returns the identity key of a record.
	Key func(T) K

	// Capacity bounds the result. Values < 1 mean unbounded.
	Capacity int

	// Order, if set, is a strict "a sorts before b" rule applied with a stable
	// sort after dedup. Nil keeps priority order (latest first).
	Order func(a, b T) bool

	// Fresher, if set, reports whether a is a strictly newer copy of the
	// same record than b. Only Underlay consults it.
	Fresher func(a, b T) bool
}

// Merge folds incoming into existing.
//
// incoming is in arrival order: later entries are fresher. The candidate
// list is incoming from last to first followed by existing, and only the
// first occurrence of each key survives. Within one batch the last record
// for a key therefore wins, and any incoming record beats an existing one
// with the same key. The result is truncated to p.Capacity from the tail.
func Merge[T any, K comparable](existing, incoming []T, p Policy[T, K]) []T {
	size := len(existing) + len(incoming)
	if p.Capacity > 0 && p.Order == nil && size > p.Capacity {
		size = p.Capacity
	}

	out := make([]T, 0, size)
	seen := make(map[K]struct{}, len(existing)+len(incoming))

	add := func(rec T) bool {
		k := p.Key(rec)
		if _, dup := seen[k]; dup {
			return true
		}
		seen[k] = struct{}{}
		out = append(out, rec)
		// Without a reordering step the tail can never move forward, so stop
		// once the collection is full.
		return p.Order != nil || p.Capacity < 1 || len(out) < p.Capacity
	}

	more := true
	for i := len(incoming) - 1; i >= 0 && more; i-- {
		more = add(incoming[i])
	}
	for i := 0; i < len(existing) && more; i++ {
		more = add(existing[i])
	}

	if p.Order != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return p.Order(out[i], out[j])
		})
		if p.Capacity > 0 && len(out) > p.Capacity {
			out = out[:p.Capacity:p.Capacity]
		}
	}

	return out
}

// MergeOne folds a single record into existing.
func MergeOne[T any, K comparable](existing []T, rec T, p Policy[T, K]) []T {
	return Merge(existing, []T{rec}, p)
}

// Underlay folds history, a snapshot in collection order, under view.
//
// view keeps its positions. A historical record whose key is already held
// replaces the held copy only when p.Fresher says it is newer; otherwise the
// held copy stays. Records with new keys are appended in history order, so
// with no p.Order they are the first to go when the result is truncated to
// p.Capacity.
func Underlay[T any, K comparable](view, history []T, p Policy[T, K]) []T {
	out := make([]T, 0, len(view)+len(history))
	pos := make(map[K]int, len(view)+len(history))

	place := func(rec T) {
		k := p.Key(rec)
		i, held := pos[k]
		if !held {
			pos[k] = len(out)
			out = append(out, rec)
			return
		}
		if p.Fresher != nil && p.Fresher(rec, out[i]) {
			out[i] = rec
		}
	}

	for _, rec := range view {
		place(rec)
	}
	for _, rec := range history {
		place(rec)
	}

	if p.Order != nil {
		sort.SliceStable(out, func(i, j int) bool {
			return p.Order(out[i], out[j])
		})
	}
	if p.Capacity > 0 && len(out) > p.Capacity {
		out = out[:p.Capacity:p.Capacity]
	}
	return out
}
