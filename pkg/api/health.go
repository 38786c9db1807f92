package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/paramd/pkg/metrics"
)

// WorkspaceStatus reports workspace occupancy for readiness checks
type WorkspaceStatus interface {
	Capacity() uint32
	Used() uint32
	Count() int
}

// HealthServer serves /health, /ready and /metrics over HTTP
type HealthServer struct {
	workspace WorkspaceStatus
	version   string
	mux       *http.ServeMux

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// HealthResponse is the body of /health
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	Components map[string]string `json:"components,omitempty"`
}

// ReadyResponse is the body of /ready
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// NewHealthServer creates a health server. ws may be nil until the
// workspace exists, in which case the service reports not ready.
func NewHealthServer(ws WorkspaceStatus, version string) *HealthServer {
	hs := &HealthServer{
		workspace: ws,
		version:   version,
		mux:       http.NewServeMux(),
	}
	hs.mux.HandleFunc("/health", getOnly(hs.healthHandler))
	hs.mux.HandleFunc("/ready", getOnly(hs.readyHandler))
	hs.mux.Handle("/metrics", metrics.Handler())
	return hs
}

// Start serves on addr until Shutdown
func (hs *HealthServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      hs.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	hs.mu.Lock()
	if hs.closed {
		hs.mu.Unlock()
		return nil
	}
	hs.server = server
	hs.mu.Unlock()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server. A server shut down before Start never
// serves.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.mu.Lock()
	server := hs.server
	hs.closed = true
	hs.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}

func getOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// healthHandler is the liveness check. It fails only when a registered
// component reports itself unhealthy.
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := metrics.GetHealth()

	code := http.StatusOK
	if health.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, HealthResponse{
		Status:     health.Status,
		Timestamp:  health.Timestamp,
		Version:    hs.version,
		Uptime:     health.Uptime,
		Components: health.Components,
	})
}

// readyHandler reports whether the workspace is mapped and every critical
// component is ready
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	readiness := metrics.GetReadiness()
	checks := readiness.Components
	ready := readiness.Status == "ready"
	message := readiness.Message

	if hs.workspace != nil {
		checks["workspace"] = fmt.Sprintf("%d parameters, %d/%d slots",
			hs.workspace.Count(), hs.workspace.Used(), hs.workspace.Capacity())
	} else {
		checks["workspace"] = "not initialized"
		ready = false
		message = "Workspace not initialized"
	}

	resp := ReadyResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}
	code := http.StatusOK
	if !ready {
		resp.Status = "not ready"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
