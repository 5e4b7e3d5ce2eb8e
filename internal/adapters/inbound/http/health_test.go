package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/archon-research/dca/internal/testutil"
)

type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		ready        bool
		healthy      bool
		shuttingDown bool
		wantCode     int
		wantStatus   string
	}{
		{"ready", "/health/ready", true, true, false, http.StatusOK, "ready"},
		{"not ready", "/health/ready", false, true, false, http.StatusServiceUnavailable, "not_ready"},
		{"ready while shutting down", "/health/ready", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
		{"live", "/health/live", true, true, false, http.StatusOK, "healthy"},
		{"stale sweeps", "/health/live", true, false, false, http.StatusServiceUnavailable, "unhealthy"},
		{"combined ok", "/health", true, true, false, http.StatusOK, "ok"},
		{"combined degraded", "/health", false, true, false, http.StatusServiceUnavailable, "degraded"},
		{"combined shutting down", "/health", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var shuttingDown atomic.Bool
			shuttingDown.Store(tt.shuttingDown)
			hh := NewHealthHandler(&mockHealthChecker{ready: tt.ready, healthy: tt.healthy}, &shuttingDown, testutil.DiscardLogger())
			server := NewServer(ServerConfig{Addr: ":0", Logger: testutil.DiscardLogger()}, hh)

			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tt.wantCode)
			}
			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %q", resp["status"], tt.wantStatus)
			}
		})
	}
}

func TestServer_MountsAllRoutes(t *testing.T) {
	hh := NewHealthHandler(&mockHealthChecker{ready: true, healthy: true}, nil, testutil.DiscardLogger())
	api := NewHandler(nil, &mockSweeper{}, HandlerConfig{Token: token}, testutil.DiscardLogger())
	server := NewServer(ServerConfig{}, hh, api)

	for _, path := range []string{"/health", "/v1/sweep"} {
		method := http.MethodGet
		if path == "/v1/sweep" {
			method = http.MethodPost
		}
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s %s = %d", method, path, w.Code)
		}
	}
}
