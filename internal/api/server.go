// Package api is the ambient admin/metrics HTTP surface: process
// status, liveness, and a Prometheus scrape endpoint. It carries no
// domain logic of its own — spec.md treats the listener and its
// surrounding HTTP concerns as an external collaborator — but the
// teacher's gorilla/mux + promhttp shape is kept for this ambient
// concern, with go-chi/httprate fronting it (a direct pack dependency
// whose HTTP-middleware shape fits this surface, unlike the core's
// non-HTTP per-endpoint limiters in internal/credentials).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"runtime"
	"time"

	"github.com/go-chi/httprate"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/outpostdb/outpost/internal/computepool"
	"github.com/outpostdb/outpost/internal/config"
	"github.com/outpostdb/outpost/internal/connectmech"
	"github.com/outpostdb/outpost/internal/domain"
	"github.com/outpostdb/outpost/internal/metrics"
	"github.com/outpostdb/outpost/internal/waiterreg"
)

// Server is the admin/metrics HTTP server. It also exposes the one
// inbound surface the control plane uses: the console-redirect
// callback that completes a parked waiter with the resolved backend.
type Server struct {
	NativePool *computepool.Pool[*connectmech.NativeConn]
	HTTP2Pool  *computepool.Pool[*connectmech.HTTP2Conn]
	Metrics    *metrics.Collector
	Waiters    *waiterreg.Registry
	ListenCfg  config.ListenConfig

	httpServer *http.Server
	startTime  time.Time
}

// NewServer builds an admin server around the core's shared pools,
// waiter registry, and metrics collector.
func NewServer(nativePool *computepool.Pool[*connectmech.NativeConn], http2Pool *computepool.Pool[*connectmech.HTTP2Conn], m *metrics.Collector, waiters *waiterreg.Registry, lc config.ListenConfig) *Server {
	return &Server{
		NativePool: nativePool,
		HTTP2Pool:  http2Pool,
		Metrics:    m,
		Waiters:    waiters,
		ListenCfg:  lc,
		startTime:  time.Now(),
	}
}

// Start starts the HTTP admin server.
func (s *Server) Start(port int) error {
	r := mux.NewRouter()
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Use(s.authMiddleware)

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/pools", s.poolsHandler).Methods("GET")
	r.HandleFunc("/notify/{session_id}", s.notifyHandler).Methods("POST")
	r.Handle("/metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})).Methods("GET")

	addr := fmt.Sprintf("%s:%d", s.ListenCfg.APIBind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("admin server listening", slog.String("addr", addr))

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", slog.String("err", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// authMiddleware requires "Authorization: Bearer <APIKey>" on every
// route except the ones a load balancer or scraper hits unauthenticated.
// No key configured disables the check entirely.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ListenCfg.APIKey == "" || r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix || auth[len(prefix):] != s.ListenCfg.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// notifyRequest is the control plane's console-redirect callback body.
type notifyRequest struct {
	Host       string                `json:"host"`
	Port       uint16                `json:"port"`
	DBName     string                `json:"dbname"`
	User       string                `json:"user"`
	Password   string                `json:"password"`
	AllowedIPs []string              `json:"allowed_ips"`
	Aux        domain.MetricsAuxInfo `json:"aux"`
	Error      string                `json:"error"`
}

func (s *Server) notifyHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := domain.SessionID(mux.Vars(r)["session_id"])

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if req.Error != "" {
		s.Waiters.NotifyError(sessionID, fmt.Errorf("%s", req.Error))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	prefixes := make([]netip.Prefix, 0, len(req.AllowedIPs))
	for _, raw := range req.AllowedIPs {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid allowed_ips entry %q", raw), http.StatusBadRequest)
			return
		}
		prefixes = append(prefixes, p)
	}

	delivered := s.Waiters.Notify(sessionID, domain.DatabaseInfo{
		Host:       req.Host,
		Port:       req.Port,
		DBName:     req.DBName,
		User:       req.User,
		Password:   req.Password,
		AllowedIPs: prefixes,
		Aux:        req.Aux,
	})
	s.Metrics.WaiterNotified(delivered)

	if !delivered {
		http.Error(w, "unknown or already-consumed session id", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// poolsHandler reports the process-wide native and HTTP/2 pool
// occupancy, the operator-facing counterpart to the per-key Stats each
// connect mechanism consults internally.
func (s *Server) poolsHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]computepool.Stats{}
	if s.NativePool != nil {
		resp["native"] = s.NativePool.AggregateStats()
	}
	if s.HTTP2Pool != nil {
		resp["http2"] = s.HTTP2Pool.AggregateStats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"listen": map[string]int{
			"postgres_port": s.ListenCfg.PostgresPort,
			"api_port":      s.ListenCfg.APIPort,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
