package main

import (
	"context"

	"github.com/rickgao/tokenfeed/internal/config"
	"github.com/rickgao/tokenfeed/internal/consumer"
)

// streamConsumer is the lifecycle shared by Stream and Latest.
type streamConsumer interface {
	consumer.Reloader
	Start(ctx context.Context) error
	Close()
	Wait()
	Stats() consumer.Stats
}

// buildConsumers creates one consumer per configured channel.
func buildConsumers(cfg config.ConsumersConfig, d consumer.Deps) []streamConsumer {
	var out []streamConsumer
	for _, mint := range cfg.Mints {
		out = append(out,
			consumer.NewTransactions(d, mint),
			consumer.NewHolders(d, mint),
			consumer.NewTraders(d, mint),
			consumer.NewPrice(d, mint),
		)
		for _, interval := range cfg.CandleIntervals {
			out = append(out, consumer.NewCandles(d, mint, interval))
		}
	}
	for _, group := range cfg.TrackerGroups {
		out = append(out, consumer.NewWalletTracker(d, group))
	}
	for _, group := range cfg.DiscordGroups {
		out = append(out, consumer.NewDiscordPings(d, group))
	}
	for _, group := range cfg.TwitterGroups {
		out = append(out, consumer.NewTwitterPings(d, group))
	}
	return out
}
