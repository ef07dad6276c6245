package main

import (
	"encoding/json"
	"net/http"

	"github.com/rickgao/tcp-relay/internal/hub"
	"github.com/rickgao/tcp-relay/internal/relay"
	"github.com/rickgao/tcp-relay/internal/sink"
	"github.com/rickgao/tcp-relay/internal/version"
)

// createHealthHandler creates the HTTP handler for health, debug and
// metrics endpoints.
func createHealthHandler(server *relay.Server, dispatcher *sink.Dispatcher, dashboard *hub.Hub, metricsHandler http.Handler, metricsPath string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string         `json:"status"`
			Version    version.Info   `json:"version"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Version:    version.Get(),
			Components: make(map[string]any),
		}

		// Check relay listener
		status := server.Status()
		health.Components["relay"] = map[string]any{
			"state":   server.State().String(),
			"clients": status.ConnectedCount,
		}
		if !status.Running {
			health.Status = "unhealthy"
		}

		// Check sink dispatcher
		ds := dispatcher.Stats()
		health.Components["sink"] = map[string]any{
			"sinks":       ds.SinkCount,
			"queue_depth": ds.Queue.Depth,
			"dropped":     ds.Dropped,
		}
		if ds.Panics > 0 && health.Status == "healthy" {
			health.Status = "degraded"
		}

		health.Components["hub"] = map[string]any{
			"subscribers": dashboard.Stats().Subscribers,
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/clients", func(w http.ResponseWriter, r *http.Request) {
		ids := server.ClientIDs()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"count":      len(ids),
			"clients":    ids,
			"dashboards": dashboard.Subscribers(),
		})
	})

	mux.Handle(metricsPath, metricsHandler)

	return mux
}
