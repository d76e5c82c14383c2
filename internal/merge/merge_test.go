package merge

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"
)

type tx struct {
	Sig string
	T   int64
}

func txKey(r tx) string { return r.Sig }

func policy(capacity int) Policy[tx, string] {
	return Policy[tx, string]{Key: txKey, Capacity: capacity}
}

func TestMerge_UpdatedRecordMovesToFront(t *testing.T) {
	existing := []tx{{"A", 10}}
	incoming := []tx{{"B", 11}, {"A", 12}}

	got := Merge(existing, incoming, policy(2))

	require.Equal(t, []tx{{"A", 12}, {"B", 11}}, got)
}

func TestMerge_IncomingReplacesExisting(t *testing.T) {
	existing := []tx{{"X", 1}, {"K", 2}, {"Y", 3}}
	got := Merge(existing, []tx{{"K", 99}}, policy(10))

	count := 0
	for _, r := range got {
		if r.Sig == "K" {
			count++
			require.Equal(t, int64(99), r.T)
		}
	}
	require.Equal(t, 1, count)
	require.Equal(t, []tx{{"K", 99}, {"X", 1}, {"Y", 3}}, got)
}

func TestMerge_LastInBatchWins(t *testing.T) {
	got := Merge(nil, []tx{{"A", 1}, {"A", 2}, {"A", 3}}, policy(5))
	require.Equal(t, []tx{{"A", 3}}, got)
}

func TestMerge_TruncatesFromTail(t *testing.T) {
	existing := []tx{{"C", 3}, {"B", 2}, {"A", 1}}
	got := Merge(existing, []tx{{"D", 4}}, policy(3))
	require.Equal(t, []tx{{"D", 4}, {"C", 3}, {"B", 2}}, got)
}

func TestMerge_DoesNotMutateInputs(t *testing.T) {
	existing := []tx{{"A", 1}, {"B", 2}}
	incoming := []tx{{"B", 5}}
	snapshotExisting := append([]tx(nil), existing...)
	snapshotIncoming := append([]tx(nil), incoming...)

	got := Merge(existing, incoming, policy(2))
	got[0].T = -1

	require.Equal(t, snapshotExisting, existing)
	require.Equal(t, snapshotIncoming, incoming)
}

func TestMerge_AlwaysAllocates(t *testing.T) {
	existing := Merge(nil, []tx{{"A", 1}}, policy(2))
	again := Merge(existing, nil, policy(2))

	require.Equal(t, existing, again)
	again[0].T = 42
	require.Equal(t, int64(1), existing[0].T)
}

func TestMerge_Order(t *testing.T) {
	p := Policy[tx, string]{
		Key:      txKey,
		Capacity: 3,
		Order:    func(a, b tx) bool { return a.T > b.T },
	}

	// A late backfill of older records slots in behind live ones.
	live := Merge(nil, []tx{{"C", 30}, {"D", 40}}, p)
	got := Merge(live, []tx{{"B", 20}, {"A", 10}, {"C", 30}}, p)

	require.Equal(t, []tx{{"D", 40}, {"C", 30}, {"B", 20}}, got)
}

func TestMerge_Unbounded(t *testing.T) {
	got := Merge([]tx{{"A", 1}}, []tx{{"B", 2}, {"C", 3}}, policy(0))
	require.Len(t, got, 3)
}

func TestMergeOne(t *testing.T) {
	got := MergeOne([]tx{{"A", 1}}, tx{"B", 2}, policy(5))
	require.Equal(t, []tx{{"B", 2}, {"A", 1}}, got)
}

type holder struct {
	Wallet  string
	Balance int
	At      int64
}

func holderPolicy(capacity int, ordered bool) Policy[holder, string] {
	p := Policy[holder, string]{
		Key:      func(h holder) string { return h.Wallet },
		Capacity: capacity,
		Fresher:  func(a, b holder) bool { return a.At > b.At },
	}
	if ordered {
		p.Order = func(a, b holder) bool { return a.Balance > b.Balance }
	}
	return p
}

func TestUnderlay(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy[holder, string]
		view    []holder
		history []holder
		want    []holder
	}{
		{
			name:    "unordered view keeps its order and fills from history",
			policy:  Policy[holder, string]{Key: func(h holder) string { return h.Wallet }, Capacity: 3},
			view:    []holder{{"L", 1, 1}, {"N", 9, 9}},
			history: []holder{{"H3", 3, 3}, {"H2", 2, 2}, {"L", 7, 1}},
			want:    []holder{{"L", 1, 1}, {"N", 9, 9}, {"H3", 3, 3}},
		},
		{
			name:    "held copy wins without a freshness rule",
			policy:  Policy[holder, string]{Key: func(h holder) string { return h.Wallet }, Capacity: 5},
			view:    []holder{{"W", 100, 10}},
			history: []holder{{"W", 5, 20}},
			want:    []holder{{"W", 100, 10}},
		},
		{
			name:    "fresher history replaces held copy in place",
			policy:  holderPolicy(5, false),
			view:    []holder{{"A", 1, 1}, {"W", 100, 10}},
			history: []holder{{"W", 5, 20}},
			want:    []holder{{"A", 1, 1}, {"W", 5, 20}},
		},
		{
			name:    "staler history is ignored",
			policy:  holderPolicy(5, false),
			view:    []holder{{"W", 100, 10}},
			history: []holder{{"W", 5, 4}},
			want:    []holder{{"W", 100, 10}},
		},
		{
			name:    "equal freshness keeps held copy",
			policy:  holderPolicy(5, false),
			view:    []holder{{"W", 100, 10}},
			history: []holder{{"W", 5, 10}},
			want:    []holder{{"W", 100, 10}},
		},
		{
			name:    "ordered result is sorted then truncated",
			policy:  holderPolicy(3, true),
			view:    []holder{{"W", 100, 10}, {"X", 50, 10}},
			history: []holder{{"W", 5, 20}, {"Y", 70, 1}, {"Z", 60, 1}},
			want:    []holder{{"Y", 70, 1}, {"Z", 60, 1}, {"X", 50, 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := append([]holder(nil), tt.view...)
			history := append([]holder(nil), tt.history...)

			got := Underlay(view, history, tt.policy)

			require.Equal(t, tt.want, got)
			require.Equal(t, tt.view, view)
			require.Equal(t, tt.history, history)
		})
	}
}

func TestMerge_Properties(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	randomBatch := func(n int) []tx {
		out := make([]tx, n)
		for i := range out {
			out[i] = tx{Sig: fmt.Sprintf("s%d", rng.IntN(20)), T: rng.Int64N(1000)}
		}
		return out
	}

	for i := 0; i < 500; i++ {
		capacity := 1 + rng.IntN(15)
		ordered := i%2 == 0
		p := policy(capacity)
		if ordered {
			p.Order = func(a, b tx) bool { return a.T > b.T }
		}

		existing := Merge(nil, randomBatch(rng.IntN(30)), p)
		batch := randomBatch(rng.IntN(30))

		merged := Merge(existing, batch, p)

		require.LessOrEqual(t, len(merged), capacity)

		seen := map[string]bool{}
		for _, r := range merged {
			require.False(t, seen[r.Sig], "duplicate key %s", r.Sig)
			seen[r.Sig] = true
		}

		require.Equal(t, merged, Merge(merged, nil, p), "merge with empty batch must be idempotent")
	}
}
