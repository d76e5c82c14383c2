package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/merge"
	"github.com/rickgao/tokenfeed/internal/model"
	"github.com/rickgao/tokenfeed/internal/router"
)

const waitFor = 2 * time.Second
const tick = 2 * time.Millisecond

type recordingSubscriber struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSubscriber) Subscribe(channel string, params frame.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "subscribe:"+channel)
}

func (s *recordingSubscriber) Unsubscribe(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "unsubscribe:"+channel)
}

func (s *recordingSubscriber) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func txFrame(channel string, txs ...string) frame.Frame {
	payload := "["
	for i, tx := range txs {
		if i > 0 {
			payload += ","
		}
		payload += tx
	}
	payload += "]"
	return frame.Frame{Kind: frame.KindData, Channel: channel, Payload: []byte(payload)}
}

func tx(sig string, ts int64) string {
	return fmt.Sprintf(`{"signature":%q,"mint":"MINT","timestamp":%d}`, sig, ts)
}

func sigs(items []model.Transaction) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = fmt.Sprintf("%s@%d", it.Signature, it.Timestamp)
	}
	return out
}

// blockingBackfill returns items once released, ignoring cancellation.
type blockingBackfill struct {
	release chan struct{}
	done    chan struct{}
	items   []model.Transaction
	err     error
}

func newBlockingBackfill(items ...model.Transaction) *blockingBackfill {
	return &blockingBackfill{
		release: make(chan struct{}),
		done:    make(chan struct{}),
		items:   items,
	}
}

func (b *blockingBackfill) fn(ctx context.Context) ([]model.Transaction, error) {
	defer close(b.done)
	<-b.release
	return b.items, b.err
}

func newTxStream(t *testing.T, r router.Router, limit int, backfill BackfillFunc[model.Transaction]) *Stream[model.Transaction, string] {
	t.Helper()
	s := NewTransactions(Deps{Router: r, Limits: Limits{Transactions: limit}}, "MINT")
	s.cfg.Backfill = backfill
	return s
}

func TestStream_LiveWithoutBackfill(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	s := newTxStream(t, r, 0, nil)
	require.Equal(t, PhaseUninitialized, s.Phase())

	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	require.Equal(t, PhaseLoading, s.Phase())
	require.False(t, s.Loading())

	r.Route(txFrame("transactions:MINT", tx("A", 10), tx("B", 11)))

	require.Eventually(t, func() bool { return s.Len() == 2 }, waitFor, tick)
	require.Equal(t, []string{"B@11", "A@10"}, sigs(s.Items()))
	require.Equal(t, PhaseLive, s.Phase())
}

func TestStream_BatchScenario(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	s := newTxStream(t, r, 2, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	r.Route(txFrame("transactions:MINT", tx("A", 10)))
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, tick)

	r.Route(txFrame("transactions:MINT", tx("B", 11), tx("A", 12)))
	require.Eventually(t, func() bool {
		items := s.Items()
		return len(items) == 2 && items[0].Timestamp == 12
	}, waitFor, tick)
	require.Equal(t, []string{"A@12", "B@11"}, sigs(s.Items()))
}

func TestStream_BackfillAndLiveCollapse(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	bf := newBlockingBackfill(
		model.Transaction{Signature: "A", Timestamp: 10},
		model.Transaction{Signature: "B", Timestamp: 9},
	)
	s := newTxStream(t, r, 0, bf.fn)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	close(bf.release)
	require.Eventually(t, func() bool { return !s.Loading() && s.Len() == 2 }, waitFor, tick)

	// Same record re-delivered live.
	r.Route(txFrame("transactions:MINT", tx("A", 10)))
	v := s.Version()
	require.Eventually(t, func() bool { return s.Version() > v }, waitFor, tick)
	require.Equal(t, []string{"A@10", "B@9"}, sigs(s.Items()))
}

func TestStream_LiveBeforeBackfill(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	bf := newBlockingBackfill(
		model.Transaction{Signature: "C", Timestamp: 20, Wallet: "historical"},
		model.Transaction{Signature: "D", Timestamp: 5},
	)
	s := newTxStream(t, r, 0, bf.fn)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	require.True(t, s.Loading())

	r.Route(txFrame("transactions:MINT", `{"signature":"C","timestamp":20,"wallet":"live"}`))
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, tick)
	require.Equal(t, PhaseLive, s.Phase())
	require.True(t, s.Loading())

	close(bf.release)
	require.Eventually(t, func() bool { return !s.Loading() }, waitFor, tick)

	items := s.Items()
	require.Equal(t, []string{"C@20", "D@5"}, sigs(items))
	require.Equal(t, "live", items[0].Wallet)
}

func TestStream_CloseDuringPendingBackfill(t *testing.T) {
	subs := &recordingSubscriber{}
	r := router.NewRouter(router.Config{}, nil, subs, nil)
	bf := newBlockingBackfill(model.Transaction{Signature: "late", Timestamp: 1})
	s := newTxStream(t, r, 0, bf.fn)

	require.NoError(t, s.Start(context.Background()))
	require.True(t, s.Loading())

	s.Close()
	v := s.Version()

	close(bf.release)
	<-bf.done
	s.Wait()

	require.Equal(t, PhaseTornDown, s.Phase())
	require.Zero(t, s.Len())
	require.Equal(t, v, s.Version())
	require.False(t, s.Loading())
	require.NoError(t, s.Err())

	require.Equal(t, []string{"subscribe:transactions:MINT", "unsubscribe:transactions:MINT"}, subs.Calls())
	require.Zero(t, r.Stats().Consumers)

	// Frames racing the teardown are dropped by the router.
	r.Route(txFrame("transactions:MINT", tx("X", 2)))
	require.Zero(t, s.Len())
	require.EqualValues(t, 1, r.Stats().NoConsumer)

	_, open := <-s.Updates()
	require.False(t, open)
}

func TestStream_CancellableBackfill(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	started := make(chan struct{})
	var sawCancel bool
	var mu sync.Mutex

	s := newTxStream(t, r, 0, func(ctx context.Context) ([]model.Transaction, error) {
		close(started)
		<-ctx.Done()
		mu.Lock()
		sawCancel = true
		mu.Unlock()
		return nil, ctx.Err()
	})
	require.NoError(t, s.Start(context.Background()))
	<-started

	s.Close()
	s.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, sawCancel)
	require.NoError(t, s.Err())
}

func TestStream_BackfillError(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	boom := errors.New("indexer unavailable")
	s := newTxStream(t, r, 0, func(ctx context.Context) ([]model.Transaction, error) {
		return nil, boom
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool { return !s.Loading() }, waitFor, tick)
	require.ErrorIs(t, s.Err(), boom)
	require.Equal(t, PhaseLive, s.Phase())

	// Still live after a failed load.
	r.Route(txFrame("transactions:MINT", tx("A", 1)))
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, tick)
}

func TestStream_RefreshSupersedesPending(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)

	first := newBlockingBackfill(model.Transaction{Signature: "stale", Timestamp: 1})
	calls := 0
	var mu sync.Mutex
	s := newTxStream(t, r, 0, func(ctx context.Context) ([]model.Transaction, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return first.fn(ctx)
		}
		return []model.Transaction{{Signature: "fresh", Timestamp: 2}}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, waitFor, tick)

	s.Refresh()
	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, tick)

	close(first.release)
	<-first.done
	time.Sleep(10 * time.Millisecond)

	require.Equal(t, []string{"fresh@2"}, sigs(s.Items()))
	require.False(t, s.Loading())
}

func TestStream_Reload(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	s := newTxStream(t, r, 0, func(ctx context.Context) ([]model.Transaction, error) {
		return []model.Transaction{{Signature: "A", Timestamp: 1}}, nil
	})

	require.NoError(t, s.Reload(context.Background()), "reload before start is a no-op")
	require.Zero(t, s.Len())

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Reload(context.Background()))
	require.Equal(t, 1, s.Len())

	s.Close()
	require.ErrorIs(t, s.Reload(context.Background()), ErrClosed)
}

func TestStream_UnorderedBackfillKeepsLiveView(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	bf := newBlockingBackfill(
		model.Transaction{Signature: "H3", Timestamp: 3},
		model.Transaction{Signature: "H2", Timestamp: 2},
		model.Transaction{Signature: "L", Wallet: "historical", Timestamp: 1},
	)
	s := NewStream(Config[model.Transaction, string]{
		Channel:  "transactions:MINT",
		Policy:   merge.Policy[model.Transaction, string]{Key: model.Transaction.Key, Capacity: 3},
		Decode:   DecodeList[model.Transaction],
		Backfill: bf.fn,
	}, r)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	r.Route(txFrame("transactions:MINT",
		`{"signature":"N","timestamp":9}`,
		`{"signature":"L","wallet":"live","timestamp":1}`,
	))
	require.Eventually(t, func() bool { return s.Len() == 2 }, waitFor, tick)
	require.Equal(t, []string{"L@1", "N@9"}, sigs(s.Items()))

	close(bf.release)
	require.Eventually(t, func() bool { return !s.Loading() }, waitFor, tick)

	items := s.Items()
	require.Equal(t, []string{"L@1", "N@9", "H3@3"}, sigs(items))
	require.Equal(t, "live", items[0].Wallet)
}

func TestStream_Lifecycle(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	s := newTxStream(t, r, 0, nil)

	require.NoError(t, s.Start(context.Background()))
	require.ErrorIs(t, s.Start(context.Background()), ErrStarted)

	s.Close()
	s.Close()
	require.ErrorIs(t, s.Start(context.Background()), ErrClosed)
}

func TestStream_DropsBadPayloads(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	s := newTxStream(t, r, 0, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Close()

	r.Route(frame.Frame{Kind: frame.KindData, Channel: "transactions:MINT", Payload: []byte(`{"signature":`)})
	r.Route(frame.Frame{Kind: frame.KindData, Channel: "transactions:MINT", Error: "rate limited", Success: boolPtr(false)})
	r.Route(frame.Frame{Kind: frame.KindData, Channel: "transactions:MINT"})
	r.Route(txFrame("transactions:MINT", tx("", 3), tx("A", 4)))

	require.Eventually(t, func() bool { return s.Len() == 1 }, waitFor, tick)
	require.Equal(t, []string{"A@4"}, sigs(s.Items()))
	require.EqualValues(t, 1, s.Stats().DecodeErrors)
}

func TestStream_Updates(t *testing.T) {
	r := router.NewRouter(router.Config{}, nil, nil, nil)
	s := newTxStream(t, r, 0, nil)
	require.NoError(t, s.Start(context.Background()))

	r.Route(txFrame("transactions:MINT", tx("A", 1)))

	select {
	case <-s.Updates():
	case <-time.After(waitFor):
		t.Fatal("no update signal")
	}
	require.EqualValues(t, 1, s.Version())

	s.Close()
	s.Wait()
}

func TestPhase_String(t *testing.T) {
	require.Equal(t, "uninitialized", PhaseUninitialized.String())
	require.Equal(t, "loading", PhaseLoading.String())
	require.Equal(t, "live", PhaseLive.String())
	require.Equal(t, "torn_down", PhaseTornDown.String())
	require.Equal(t, "unknown", Phase(9).String())
}

func boolPtr(b bool) *bool { return &b }
