package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/rickgao/tokenfeed/internal/model"
)

// Resource labels.
const (
	ResourceCandles  = "candles"
	ResourceTrades   = "trades"
	ResourceMetadata = "metadata"
	ResourceHolders  = "holders"
	ResourceTraders  = "traders"
	ResourceTracker  = "wallet_tracker"
	ResourcePings    = "pings"
)

func pageQuery(opts PageOptions) url.Values {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Before != "" {
		query.Set("before", opts.Before)
	}
	return query
}

// Candles fetches OHLCV buckets for a token.
func (c *Client) Candles(ctx context.Context, mint, interval string, opts CandleOptions) ([]model.Candle, error) {
	query := url.Values{}
	query.Set("interval", interval)
	if opts.From > 0 {
		query.Set("from", strconv.FormatInt(opts.From, 10))
	}
	if opts.To > 0 {
		query.Set("to", strconv.FormatInt(opts.To, 10))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	return fetchData[[]model.Candle](ctx, c, Request{
		Resource: ResourceCandles,
		Path:     "/tokens/" + url.PathEscape(mint) + "/candles",
		Query:    query,
	})
}

// Trades fetches recent swaps for a token, newest first.
func (c *Client) Trades(ctx context.Context, mint string, opts PageOptions) ([]model.Transaction, error) {
	return fetchData[[]model.Transaction](ctx, c, Request{
		Resource: ResourceTrades,
		Path:     "/tokens/" + url.PathEscape(mint) + "/trades",
		Query:    pageQuery(opts),
	})
}

// Metadata fetches static token information.
func (c *Client) Metadata(ctx context.Context, mint string) (*model.TokenMetadata, error) {
	md, err := fetchData[*model.TokenMetadata](ctx, c, Request{
		Resource: ResourceMetadata,
		Path:     "/tokens/" + url.PathEscape(mint),
	})
	if err != nil {
		return nil, err
	}
	if md == nil {
		return &model.TokenMetadata{Mint: mint}, nil
	}
	return md, nil
}

// Holders fetches the largest holders of a token.
func (c *Client) Holders(ctx context.Context, mint string, limit int) ([]model.Holder, error) {
	return fetchData[[]model.Holder](ctx, c, Request{
		Resource: ResourceHolders,
		Path:     "/tokens/" + url.PathEscape(mint) + "/holders",
		Query:    pageQuery(PageOptions{Limit: limit}),
	})
}

// Traders fetches the top traders of a token.
func (c *Client) Traders(ctx context.Context, mint string, limit int) ([]model.Trader, error) {
	return fetchData[[]model.Trader](ctx, c, Request{
		Resource: ResourceTraders,
		Path:     "/tokens/" + url.PathEscape(mint) + "/traders",
		Query:    pageQuery(PageOptions{Limit: limit}),
	})
}

// TrackerEvents fetches recent swaps of a wallet-tracker group.
func (c *Client) TrackerEvents(ctx context.Context, group string, opts PageOptions) ([]model.TrackerEvent, error) {
	return fetchData[[]model.TrackerEvent](ctx, c, Request{
		Resource: ResourceTracker,
		Path:     "/wallet-tracker/" + url.PathEscape(group) + "/trades",
		Query:    pageQuery(opts),
	})
}

// Pings fetches recent mentions from a monitor feed.
func (c *Client) Pings(ctx context.Context, source model.PingSource, group string, opts PageOptions) ([]model.Ping, error) {
	return fetchData[[]model.Ping](ctx, c, Request{
		Resource: ResourcePings,
		Path:     "/monitors/" + url.PathEscape(string(source)) + "/" + url.PathEscape(group) + "/pings",
		Query:    pageQuery(opts),
	})
}
