package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/tcp-relay/internal/config"
	"github.com/rickgao/tcp-relay/internal/hub"
	"github.com/rickgao/tcp-relay/internal/relay"
	"github.com/rickgao/tcp-relay/internal/sink"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("", 0)
	if err != nil {
		t.Fatalf("loadConfig defaults: %v", err)
	}
	if cfg.Relay.Port != config.DefaultRelayPort {
		t.Errorf("Relay.Port = %d, want %d", cfg.Relay.Port, config.DefaultRelayPort)
	}

	cfg, err = loadConfig("", 6000)
	if err != nil {
		t.Fatalf("loadConfig override: %v", err)
	}
	if cfg.Relay.Port != 6000 {
		t.Errorf("Relay.Port = %d, want 6000", cfg.Relay.Port)
	}

	path := filepath.Join(t.TempDir(), "relayd.yaml")
	os.WriteFile(path, []byte("relay:\n  port: 7000\nlog:\n  format: json\n"), 0o600)
	cfg, err = loadConfig(path, 0)
	if err != nil {
		t.Fatalf("loadConfig file: %v", err)
	}
	if cfg.Relay.Port != 7000 || cfg.Log.Format != "json" {
		t.Errorf("loaded config = %+v", cfg.Relay)
	}

	if _, err := loadConfig("", 70000); err == nil {
		t.Error("loadConfig with out-of-range port should fail")
	}

	// The --port override is applied before validation, so it can replace a
	// file port that collides with the hub.
	clash := filepath.Join(t.TempDir(), "clash.yaml")
	os.WriteFile(clash, []byte("relay:\n  port: 9000\nhub:\n  port: 9000\n"), 0o600)
	if _, err := loadConfig(clash, 0); err == nil {
		t.Error("loadConfig with relay.port == hub.port should fail")
	}
	cfg, err = loadConfig(clash, 6001)
	if err != nil {
		t.Fatalf("loadConfig clash with override: %v", err)
	}
	if cfg.Relay.Port != 6001 {
		t.Errorf("Relay.Port = %d, want 6001", cfg.Relay.Port)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "client_id", "10.0.0.1:1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record written at warn level")
	}
	if !strings.Contains(out, `"client_id":"10.0.0.1:1"`) {
		t.Errorf("json output = %q", out)
	}

	if _, err := newLogger(config.LogConfig{Level: "loud"}, &buf); err == nil {
		t.Error("newLogger with bad level should fail")
	}
}

func TestHealthHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := sink.NewDispatcher(sink.DefaultDispatcherConfig(), logger)
	server := relay.NewServer(relay.Config{Bind: "127.0.0.1"}, d, logger)
	dashboard := hub.New(hub.DefaultConfig(), server, nil, logger)

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok_metric 1\n")
	})
	h := createHealthHandler(server, d, dashboard, metricsHandler, "/metrics")

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		return rec
	}

	if rec := get("/health"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health before start = %d, want 503", rec.Code)
	}

	if err := server.Start(0); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer server.Stop()

	conn, err := net.Dial("tcp", server.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for server.Status().ConnectedCount == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	rec := get("/health")
	if rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}
	var health struct {
		Status     string                    `json:"status"`
		Components map[string]map[string]any `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "healthy" || health.Components["relay"]["clients"] != float64(1) {
		t.Errorf("health = %+v", health)
	}

	var clients struct {
		Count   int      `json:"count"`
		Clients []string `json:"clients"`
	}
	json.Unmarshal(get("/debug/clients").Body.Bytes(), &clients)
	if clients.Count != 1 || clients.Clients[0] != conn.LocalAddr().String() {
		t.Errorf("/debug/clients = %+v", clients)
	}

	if body := get("/metrics").Body.String(); body != "ok_metric 1\n" {
		t.Errorf("/metrics = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	dashboard.Close(ctx)
}
