package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/outpostdb/outpost/internal/config"
	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/waiterreg"
)

func newTestServer(apiKey string) (*Server, http.Handler) {
	m := metrics.New()
	s := NewServer(nil, nil, m, waiterreg.New(), config.ListenConfig{APIKey: apiKey})

	mr := mux.NewRouter()
	mr.Use(s.authMiddleware)
	mr.HandleFunc("/status", s.statusHandler).Methods("GET")
	mr.HandleFunc("/health", s.healthHandler).Methods("GET")
	mr.HandleFunc("/pools", s.poolsHandler).Methods("GET")
	mr.HandleFunc("/notify/{session_id}", s.notifyHandler).Methods("POST")
	mr.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	return s, mr
}

func TestNotifyHandlerDeliversToWaiter(t *testing.T) {
	s, mr := newTestServer("")

	waiter, err := s.Waiters.Register("abc123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	body := `{"host":"h--1.db","port":5432,"dbname":"d","user":"u"}`
	req := httptest.NewRequest("POST", "/notify/abc123", strings.NewReader(body))
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := waiter.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if info.Host != "h--1.db" || info.User != "u" {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestNotifyHandlerUnknownSession(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("POST", "/notify/does-not-exist", strings.NewReader(`{"host":"h"}`))
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestPoolsEndpointWithNilPools(t *testing.T) {
	_, mr := newTestServer("")

	req := httptest.NewRequest("GET", "/pools", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.TrimSpace(rr.Body.String()) != "{}" {
		t.Errorf("expected empty object with nil pools, got %s", rr.Body.String())
	}
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer test-secret-key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with missing token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with invalid token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareHealthAndMetricsExempt(t *testing.T) {
	_, handler := newTestServer("test-secret-key")

	for _, path := range []string{"/health", "/metrics"} {
		req := httptest.NewRequest("GET", path, nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code == http.StatusUnauthorized {
			t.Errorf("%s should not require auth, got 401", path)
		}
	}
}

func TestAuthMiddlewareNoKeyConfigured(t *testing.T) {
	_, handler := newTestServer("")

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 when no API key configured, got %d", rr.Code)
	}
}
