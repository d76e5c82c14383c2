// streamtest connects to the token stream and prints every frame received on
// the requested channels.
// Usage: go run ./cmd/streamtest --config configs/tokenfeed.yaml --channels transactions:MINT,price:MINT
//
// The auth token is read from the config (api.auth_token or
// api.auth_token_path), which supports ${VAR} expansion.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/rickgao/tokenfeed/internal/auth"
	"github.com/rickgao/tokenfeed/internal/config"
	"github.com/rickgao/tokenfeed/internal/connection"
	"github.com/rickgao/tokenfeed/internal/frame"
	"github.com/rickgao/tokenfeed/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/tokenfeed.yaml", "path to config file")
	channels := flag.String("channels", "", "comma-separated channels to subscribe to")
	verbose := flag.Bool("verbose", false, "print full payload JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	_ = godotenv.Load()

	cfg, err := config.Read(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var subs []string
	for _, ch := range strings.Split(*channels, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			subs = append(subs, ch)
		}
	}
	if len(subs) == 0 {
		logger.Error("no channels given; use --channels")
		os.Exit(1)
	}

	token, err := auth.LoadToken(cfg.API.AuthToken, cfg.API.AuthTokenPath)
	if err != nil {
		logger.Error("failed to load auth token", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connCfg := connection.DefaultManagerConfig()
	connCfg.HeartbeatTimeout = cfg.Stream.HeartbeatTimeout
	connMgr := connection.NewManager(connCfg, logger)
	rtr := router.NewRouter(router.Config{}, connMgr.Frames(), connMgr, logger)

	if err := rtr.Start(ctx); err != nil {
		logger.Error("failed to start router", "error", err)
		os.Exit(1)
	}
	for _, ch := range subs {
		rtr.Register(ch, nil, router.ConsumerFunc(func(f frame.Frame) {
			printFrame(f, *verbose)
		}))
	}

	watch, stopWatch := connMgr.Watch()
	defer stopWatch()
	go func() {
		for change := range watch {
			logger.Info("connection state", "from", change.From, "to", change.To, "error", change.Err)
		}
	}()

	logger.Info("starting connection manager", "url", cfg.Stream.URL, "channels", subs)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}
	connMgr.Connect(cfg.Stream.URL, token)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				connStats := connMgr.Stats()
				routerStats := rtr.Stats()
				logger.Info("stats",
					"state", connStats.State,
					"frames", connStats.FramesReceived,
					"pings", connStats.PingsReceived,
					"decode_errors", connStats.DecodeErrors,
					"routed", routerStats.FramesRouted,
					"not_relevant", routerStats.NotRelevant,
					"buffered", routerStats.InputBuffer.Count,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printFrame(f frame.Frame, verbose bool) {
	ts := f.ReceivedAt.Format(time.TimeOnly)
	switch {
	case f.Error != "":
		fmt.Printf("[%s] %s ERROR %s\n", ts, f.Channel, f.Error)
	case !f.HasPayload():
		fmt.Printf("[%s] %s (no data)\n", ts, f.Channel)
	case verbose:
		var v any
		if err := json.Unmarshal(f.Payload, &v); err != nil {
			fmt.Printf("[%s] %s %s\n", ts, f.Channel, f.Payload)
			return
		}
		data, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("[%s] %s\n%s\n", ts, f.Channel, data)
	default:
		fmt.Printf("[%s] %s %d bytes\n", ts, f.Channel, len(f.Payload))
	}
}
