package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/rickgao/tokenfeed/internal/config"
	"github.com/rickgao/tokenfeed/internal/connection"
	"github.com/rickgao/tokenfeed/internal/consumer"
	"github.com/rickgao/tokenfeed/internal/router"
)

type fakeConn struct{ stats connection.ManagerStats }

func (f fakeConn) Stats() connection.ManagerStats { return f.stats }

func TestHealthHandler(t *testing.T) {
	rtr := router.NewRouter(router.Config{}, nil, nil, nil)
	consumers := buildConsumers(config.ConsumersConfig{
		Mints:           []string{"MINT"},
		CandleIntervals: []string{"1m", "5m"},
		DiscordGroups:   []string{"alpha"},
	}, consumer.Deps{Router: rtr})

	tests := []struct {
		state      connection.State
		wantStatus string
		wantCode   int
	}{
		{connection.StateConnected, "healthy", http.StatusOK},
		{connection.StateReconnecting, "degraded", http.StatusOK},
		{connection.StateDisconnected, "unhealthy", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			h := healthHandler(fakeConn{connection.ManagerStats{State: tt.state}}, rtr, consumers)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}

			var body struct {
				Status    string                    `json:"status"`
				Consumers map[string]consumerHealth `json:"consumers"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if len(body.Consumers) != 7 {
				t.Errorf("consumers = %d, want 7", len(body.Consumers))
			}
			if c := body.Consumers["candles:MINT:5m"]; c.Phase != "uninitialized" {
				t.Errorf("candles phase = %q, want uninitialized", c.Phase)
			}
		})
	}
}

func TestManagerConfig(t *testing.T) {
	got := managerConfig(config.StreamConfig{
		PingInterval:       5 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxExp:    3,
		ControlRate:        2.5,
		ControlBurst:       4,
	})
	if got.Client.PingInterval != 5*time.Second {
		t.Errorf("Client.PingInterval = %v, want 5s", got.Client.PingInterval)
	}
	if got.ReconnectBaseDelay != time.Second || got.ReconnectMaxExp != 3 {
		t.Errorf("reconnect = %v/%d, want 1s/3", got.ReconnectBaseDelay, got.ReconnectMaxExp)
	}
	if got.ControlRate != 2.5 || got.ControlBurst != 4 {
		t.Errorf("control = %v/%d, want 2.5/4", got.ControlRate, got.ControlBurst)
	}
	if got.FrameBufferSize != connection.DefaultManagerConfig().FrameBufferSize {
		t.Errorf("FrameBufferSize = %d, want default", got.FrameBufferSize)
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.log")
	logger, closeLog, err := newLogger(config.LoggingConfig{
		Level:  "warn",
		Format: "text",
		File:   config.LogFileConfig{Path: path, MaxSizeMB: 1},
	})
	if err != nil {
		t.Fatalf("newLogger failed: %v", err)
	}
	defer closeLog()

	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be disabled at warn level")
	}

	if _, _, err := newLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Error("expected error for bad level")
	}
}
