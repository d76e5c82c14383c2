package consumer

import (
	"context"
	"log/slog"

	json "github.com/goccy/go-json"

	"github.com/rickgao/tokenfeed/internal/api"
	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/merge"
	"github.com/rickgao/tokenfeed/internal/metrics"
	"github.com/rickgao/tokenfeed/internal/model"
	"github.com/rickgao/tokenfeed/internal/router"
)

// Default collection capacities.
const (
	DefaultTransactions = 100
	DefaultHolders      = 50
	DefaultTraders      = 50
	DefaultTracker      = 100
	DefaultPings        = 50
	DefaultCandles      = 500
)

// Limits overrides collection capacities. Zero fields use the defaults.
type Limits struct {
	Transactions int
	Holders      int
	Traders      int
	Tracker      int
	Pings        int
	Candles      int
}

func (l Limits) withDefaults() Limits {
	if l.Transactions <= 0 {
		l.Transactions = DefaultTransactions
	}
	if l.Holders <= 0 {
		l.Holders = DefaultHolders
	}
	if l.Traders <= 0 {
		l.Traders = DefaultTraders
	}
	if l.Tracker <= 0 {
		l.Tracker = DefaultTracker
	}
	if l.Pings <= 0 {
		l.Pings = DefaultPings
	}
	if l.Candles <= 0 {
		l.Candles = DefaultCandles
	}
	return l
}

// Deps are shared by every domain consumer. API may be nil, which disables
// backfill.
type Deps struct {
	Router  router.Router
	API     *api.Client
	Limits  Limits
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// NewTransactions follows swaps on a token, newest first.
func NewTransactions(d Deps, mint string) *Stream[model.Transaction, string] {
	limit := d.Limits.withDefaults().Transactions

	var backfill BackfillFunc[model.Transaction]
	if d.API != nil {
		backfill = func(ctx context.Context) ([]model.Transaction, error) {
			return d.API.Trades(ctx, mint, api.PageOptions{Limit: limit})
		}
	}

	return NewStream(Config[model.Transaction, string]{
		Channel: model.TransactionsChannel(mint),
		Policy: merge.Policy[model.Transaction, string]{
			Key:      model.Transaction.Key,
			Capacity: limit,
			Order:    func(a, b model.Transaction) bool { return a.Timestamp > b.Timestamp },
		},
		Decode:   Validated(DecodeList[model.Transaction], func(t model.Transaction) bool { return t.Signature != "" }),
		Backfill: backfill,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	}, d.Router)
}

// NewHolders follows the largest holders of a token by balance.
func NewHolders(d Deps, mint string) *Stream[model.Holder, string] {
	limit := d.Limits.withDefaults().Holders

	var backfill BackfillFunc[model.Holder]
	if d.API != nil {
		backfill = func(ctx context.Context) ([]model.Holder, error) {
			return d.API.Holders(ctx, mint, limit)
		}
	}

	return NewStream(Config[model.Holder, string]{
		Channel: model.HoldersChannel(mint),
		Policy: merge.Policy[model.Holder, string]{
			Key:      model.Holder.Key,
			Capacity: limit,
			Order:    func(a, b model.Holder) bool { return a.Balance.GreaterThan(b.Balance) },
			Fresher:  func(a, b model.Holder) bool { return a.UpdatedAt > b.UpdatedAt },
		},
		Decode:   Validated(DecodeList[model.Holder], func(h model.Holder) bool { return h.Wallet != "" }),
		Backfill: backfill,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	}, d.Router)
}

// NewTraders follows the top traders of a token by PnL.
func NewTraders(d Deps, mint string) *Stream[model.Trader, string] {
	limit := d.Limits.withDefaults().Traders

	var backfill BackfillFunc[model.Trader]
	if d.API != nil {
		backfill = func(ctx context.Context) ([]model.Trader, error) {
			return d.API.Traders(ctx, mint, limit)
		}
	}

	return NewStream(Config[model.Trader, string]{
		Channel: model.TradersChannel(mint),
		Policy: merge.Policy[model.Trader, string]{
			Key:      model.Trader.Key,
			Capacity: limit,
			Order:    func(a, b model.Trader) bool { return a.PnL.GreaterThan(b.PnL) },
			Fresher:  func(a, b model.Trader) bool { return a.UpdatedAt > b.UpdatedAt },
		},
		Decode:   Validated(DecodeList[model.Trader], func(t model.Trader) bool { return t.Wallet != "" }),
		Backfill: backfill,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	}, d.Router)
}

// NewCandles follows a token chart at one interval, newest bucket first.
// A live candle for an open bucket replaces the stored one. Volume only grows
// while a bucket is open, so a backfilled bucket with more volume is fresher.
func NewCandles(d Deps, mint, interval string) *Stream[model.Candle, int64] {
	limit := d.Limits.withDefaults().Candles

	var backfill BackfillFunc[model.Candle]
	if d.API != nil {
		backfill = func(ctx context.Context) ([]model.Candle, error) {
			return d.API.Candles(ctx, mint, interval, api.CandleOptions{Limit: limit})
		}
	}

	return NewStream(Config[model.Candle, int64]{
		Channel: model.CandlesChannel(mint, interval),
		Params:  frame.Params{"interval": interval},
		Policy: merge.Policy[model.Candle, int64]{
			Key:      model.Candle.Key,
			Capacity: limit,
			Order:    func(a, b model.Candle) bool { return a.Time > b.Time },
			Fresher:  func(a, b model.Candle) bool { return a.Volume.GreaterThan(b.Volume) },
		},
		Decode:   Validated(DecodeList[model.Candle], func(c model.Candle) bool { return c.Time > 0 }),
		Backfill: backfill,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	}, d.Router)
}

// NewWalletTracker follows swaps of a wallet-tracking group, newest first.
func NewWalletTracker(d Deps, group string) *Stream[model.TrackerEvent, model.TrackerKey] {
	limit := d.Limits.withDefaults().Tracker

	var backfill BackfillFunc[model.TrackerEvent]
	if d.API != nil {
		backfill = func(ctx context.Context) ([]model.TrackerEvent, error) {
			return d.API.TrackerEvents(ctx, group, api.PageOptions{Limit: limit})
		}
	}

	return NewStream(Config[model.TrackerEvent, model.TrackerKey]{
		Channel: model.WalletTrackerChannel(group),
		Policy: merge.Policy[model.TrackerEvent, model.TrackerKey]{
			Key:      model.TrackerEvent.Key,
			Capacity: limit,
			Order:    func(a, b model.TrackerEvent) bool { return a.Timestamp > b.Timestamp },
		},
		Decode: Validated(DecodeList[model.TrackerEvent], func(e model.TrackerEvent) bool {
			return e.Wallet != "" && e.Signature != ""
		}),
		Backfill: backfill,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	}, d.Router)
}

// NewDiscordPings follows token mentions from a Discord monitor group.
func NewDiscordPings(d Deps, group string) *Stream[model.Ping, string] {
	return newPings(d, model.SourceDiscord, model.DiscordMonitorChannel(group), group)
}

// NewTwitterPings follows token mentions from a Twitter monitor group.
func NewTwitterPings(d Deps, group string) *Stream[model.Ping, string] {
	return newPings(d, model.SourceTwitter, model.TwitterMonitorChannel(group), group)
}

func newPings(d Deps, source model.PingSource, channel, group string) *Stream[model.Ping, string] {
	limit := d.Limits.withDefaults().Pings

	var backfill BackfillFunc[model.Ping]
	if d.API != nil {
		backfill = func(ctx context.Context) ([]model.Ping, error) {
			return d.API.Pings(ctx, source, group, api.PageOptions{Limit: limit})
		}
	}

	decode := func(payload json.RawMessage) ([]model.Ping, error) {
		pings, err := DecodeList[model.Ping](payload)
		if err != nil {
			return nil, err
		}
		out := pings[:0]
		for _, p := range pings {
			if p.ID == "" {
				continue
			}
			if p.Source == "" {
				p.Source = source
			}
			out = append(out, p)
		}
		return out, nil
	}

	return NewStream(Config[model.Ping, string]{
		Channel: channel,
		Policy: merge.Policy[model.Ping, string]{
			Key:      model.Ping.Key,
			Capacity: limit,
			Order:    func(a, b model.Ping) bool { return a.Timestamp > b.Timestamp },
		},
		Decode:   decode,
		Backfill: backfill,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	}, d.Router)
}

// NewPrice follows the latest price tick of a token.
func NewPrice(d Deps, mint string) *Latest[model.PriceTick] {
	return NewLatest(LatestConfig[model.PriceTick]{
		Channel: model.PriceChannel(mint),
		Decode:  DecodeList[model.PriceTick],
		Logger:  d.Logger,
		Metrics: d.Metrics,
	}, d.Router)
}
