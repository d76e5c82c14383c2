package main

import (
	"net/http"

	json "github.com/goccy/go-json"

	"github.com/rickgao/tokenfeed/internal/connection"
	"github.com/rickgao/tokenfeed/internal/router"
	"github.com/rickgao/tokenfeed/internal/version"
)

type statsSource interface {
	Stats() connection.ManagerStats
}

type routerStatsSource interface {
	Stats() router.RouterStats
}

type consumerHealth struct {
	Phase   string `json:"phase"`
	Items   int    `json:"items"`
	Loading bool   `json:"loading"`
}

// healthHandler reports the connection state and every consumer's size.
// It answers 503 only when the stream is not trying to connect.
func healthHandler(conn statsSource, rtr routerStatsSource, consumers []streamConsumer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs := conn.Stats()
		rs := rtr.Stats()

		health := struct {
			Status     string                    `json:"status"`
			Build      version.Info              `json:"build"`
			Connection map[string]any            `json:"connection"`
			Router     map[string]any            `json:"router"`
			Consumers  map[string]consumerHealth `json:"consumers"`
		}{
			Status: "healthy",
			Build:  version.Get(),
			Connection: map[string]any{
				"state":         cs.State.String(),
				"reconnects":    cs.Reconnects,
				"subscriptions": cs.Subscriptions,
				"frames":        cs.FramesReceived,
				"decode_errors": cs.DecodeErrors,
			},
			Router: map[string]any{
				"routed":      rs.FramesRouted,
				"no_consumer": rs.NoConsumer,
				"panics":      rs.ConsumerPanics,
				"buffered":    rs.InputBuffer.Count,
			},
			Consumers: make(map[string]consumerHealth, len(consumers)),
		}

		for _, c := range consumers {
			st := c.Stats()
			health.Consumers[st.Channel] = consumerHealth{
				Phase:   st.Phase.String(),
				Items:   st.Items,
				Loading: st.Loading,
			}
		}

		switch cs.State {
		case connection.StateConnected:
		case connection.StateConnecting, connection.StateReconnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}
