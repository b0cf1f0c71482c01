package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"apps-script-proxy/internal/client"
	"apps-script-proxy/internal/config"
	"apps-script-proxy/internal/metrics"
	"apps-script-proxy/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(destinationURL string) *config.Config {
	return &config.Config{
		Destination: config.DestinationConfig{URL: destinationURL},
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:   5,
			IdleConnections:  2,
			MaxResponseBytes: 1 << 20,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// newTestEcho assembles the production route table against cfg.
func newTestEcho(cfg *config.Config) *echo.Echo {
	logger := discardLogger()
	m := metrics.New()
	c := client.NewDestinationClient(cfg, logger, m)
	f := service.NewForwarder(c, cfg, logger, m)

	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler(logger)
	RegisterRoutes(e, cfg, m, NewRelayHandler(f, logger), NewHealthHandler(cfg, "test"))
	return e
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	destination := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer destination.Close()

	e := newTestEcho(testConfig(destination.URL))

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"GET /healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", http.StatusOK},
		{"POST /api/apps-script", http.MethodPost, RelayPath, http.StatusOK},
		{"GET /api/apps-script is not routed", http.MethodGet, RelayPath, http.StatusMethodNotAllowed},
		{"GET /metrics", http.MethodGet, "/metrics", http.StatusOK},
		{"GET /unknown", http.MethodGet, "/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRegisterRoutes_Metrics(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		path       string
		wantStatus int
	}{
		{name: "enabled", enabled: true, path: "/metrics", wantStatus: http.StatusOK},
		{name: "custom path", enabled: true, path: "/internal/metrics", wantStatus: http.StatusOK},
		{name: "disabled", enabled: false, path: "/metrics", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("")
			cfg.Metrics = config.MetricsConfig{Enabled: tt.enabled, Path: tt.path}
			e := newTestEcho(cfg)

			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, http.NoBody))

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && !strings.Contains(rec.Body.String(), "go_goroutines") {
				t.Error("metrics body missing runtime collectors")
			}
		})
	}
}
