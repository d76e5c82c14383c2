package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tokenfeed/internal/model"
)

// envelopeServer answers every request with body and records the last
// request URL.
func envelopeServer(t *testing.T, body string, lastURL *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*lastURL = r.URL.String()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestCandles(t *testing.T) {
	var got string
	server := envelopeServer(t, `{"success":true,"data":[
		{"time":1700000000000,"open":"1.5","high":"2","low":"1","close":"1.75","volume":"1000"},
		{"time":1700000060000,"open":"1.75","high":"1.8","low":"1.7","close":"1.7","volume":"20"}
	]}`, &got)
	defer server.Close()

	c := NewClient(server.URL, "")
	candles, err := c.Candles(context.Background(), "MINT", "1m", CandleOptions{From: 1, To: 2, Limit: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "/tokens/MINT/candles?from=1&interval=1m&limit=500&to=2"
	if got != want {
		t.Errorf("url = %q, want %q", got, want)
	}
	if len(candles) != 2 {
		t.Fatalf("len(candles) = %d, want 2", len(candles))
	}
	if candles[0].Time != 1700000000000 {
		t.Errorf("Time = %d, want 1700000000000", candles[0].Time)
	}
	if !candles[0].Close.Equal(decimal.RequireFromString("1.75")) {
		t.Errorf("Close = %s, want 1.75", candles[0].Close)
	}
}

func TestTrades(t *testing.T) {
	var got string
	server := envelopeServer(t, `{"success":true,"data":[
		{"signature":"sig1","mint":"MINT","wallet":"W1","side":"buy","token_amount":"10","sol_amount":"0.5","price_usd":"0.01","timestamp":12}
	]}`, &got)
	defer server.Close()

	c := NewClient(server.URL, "")
	trades, err := c.Trades(context.Background(), "MINT", PageOptions{Limit: 100, Before: "sig0"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/tokens/MINT/trades?before=sig0&limit=100" {
		t.Errorf("url = %q", got)
	}
	if len(trades) != 1 || trades[0].Key() != "sig1" || trades[0].Side != model.SideBuy {
		t.Errorf("trades = %+v", trades)
	}
}

func TestMetadata(t *testing.T) {
	t.Run("decodes object", func(t *testing.T) {
		var got string
		server := envelopeServer(t, `{"success":true,"data":{"mint":"MINT","name":"Token","symbol":"TKN","decimals":6,"supply":"1000000000"}}`, &got)
		defer server.Close()

		c := NewClient(server.URL, "")
		md, err := c.Metadata(context.Background(), "MINT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "/tokens/MINT" {
			t.Errorf("url = %q, want /tokens/MINT", got)
		}
		if md.Symbol != "TKN" || md.Decimals != 6 {
			t.Errorf("metadata = %+v", md)
		}
	})

	t.Run("null data", func(t *testing.T) {
		var got string
		server := envelopeServer(t, `{"success":true,"data":null}`, &got)
		defer server.Close()

		c := NewClient(server.URL, "")
		md, err := c.Metadata(context.Background(), "MINT")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if md == nil || md.Mint != "MINT" {
			t.Errorf("metadata = %+v, want empty record for MINT", md)
		}
	})
}

func TestHoldersAndTraders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.String()
		switch r.URL.Path {
		case "/tokens/MINT/holders":
			w.Write([]byte(`{"success":true,"data":[{"wallet":"W1","balance":"5","percentage":"1.5"}]}`))
		case "/tokens/MINT/traders":
			w.Write([]byte(`{"success":true,"data":[{"wallet":"W2","pnl_usd":"-3.25","trades":4}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "")

	holders, err := c.Holders(context.Background(), "MINT", 50)
	if err != nil {
		t.Fatalf("Holders: %v", err)
	}
	if got != "/tokens/MINT/holders?limit=50" {
		t.Errorf("url = %q", got)
	}
	if len(holders) != 1 || holders[0].Wallet != "W1" {
		t.Errorf("holders = %+v", holders)
	}

	traders, err := c.Traders(context.Background(), "MINT", 0)
	if err != nil {
		t.Fatalf("Traders: %v", err)
	}
	if got != "/tokens/MINT/traders" {
		t.Errorf("url = %q", got)
	}
	if len(traders) != 1 || !traders[0].PnL.Equal(decimal.RequireFromString("-3.25")) {
		t.Errorf("traders = %+v", traders)
	}
}

func TestMonitorFeeds(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Path
		switch r.URL.Path {
		case "/wallet-tracker/alpha/trades":
			w.Write([]byte(`{"success":true,"data":[{"wallet":"W","signature":"S","side":"sell","timestamp":1}]}`))
		case "/monitors/twitter/alpha/pings":
			w.Write([]byte(`{"success":true,"data":[{"id":"p1","source":"twitter","mint":"MINT","timestamp":2}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(1, time.Millisecond))

	events, err := c.TrackerEvents(context.Background(), "alpha", PageOptions{})
	if err != nil {
		t.Fatalf("TrackerEvents: %v", err)
	}
	if len(events) != 1 || events[0].Key() != (model.TrackerKey{Wallet: "W", Signature: "S"}) {
		t.Errorf("events = %+v", events)
	}

	pings, err := c.Pings(context.Background(), model.SourceTwitter, "alpha", PageOptions{Limit: 50})
	if err != nil {
		t.Fatalf("Pings: %v", err)
	}
	if got != "/monitors/twitter/alpha/pings" {
		t.Errorf("path = %q", got)
	}
	if len(pings) != 1 || pings[0].Source != model.SourceTwitter {
		t.Errorf("pings = %+v", pings)
	}

	if _, err := c.Pings(context.Background(), model.SourceDiscord, "alpha", PageOptions{}); err == nil {
		t.Error("expected error for unknown feed")
	}
}
