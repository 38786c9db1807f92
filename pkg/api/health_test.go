package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cuemby/paramd/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorkspace struct{}

func (fakeWorkspace) Capacity() uint32 { return 4096 }
func (fakeWorkspace) Used() uint32     { return 128 }
func (fakeWorkspace) Count() int       { return 3 }

// registerCritical marks every critical component healthy for one test
func registerCritical(t *testing.T) {
	t.Helper()
	for _, name := range metrics.CriticalComponents {
		metrics.RegisterComponent(name, true, "")
	}
	t.Cleanup(func() {
		for _, name := range metrics.CriticalComponents {
			metrics.UnregisterComponent(name)
		}
	})
}

func serve(hs *HealthServer, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	hs.GetHandler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthServerRoutes(t *testing.T) {
	hs := NewHealthServer(nil, "test")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{http.MethodGet, "/ready", http.StatusServiceUnavailable},
		{http.MethodPut, "/ready", http.StatusMethodNotAllowed},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/nonexistent", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, serve(hs, tt.method, tt.path).Code)
		})
	}
}

func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil, "v1.2.3")

	w := serve(hs, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "v1.2.3", resp.Version)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHealthHandlerUnhealthyComponent(t *testing.T) {
	metrics.RegisterComponent("journal", false, "disk full")
	t.Cleanup(func() { metrics.UnregisterComponent("journal") })

	w := serve(NewHealthServer(nil, "test"), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unhealthy: disk full", resp.Components["journal"])
}

func TestReadyHandlerNoWorkspace(t *testing.T) {
	registerCritical(t)

	w := serve(NewHealthServer(nil, "test"), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, "not initialized", resp.Checks["workspace"])
	assert.NotEmpty(t, resp.Message)
}

func TestReadyHandlerWaitsForComponents(t *testing.T) {
	w := serve(NewHealthServer(fakeWorkspace{}, "test"), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Contains(t, resp.Checks, "security")
	assert.Contains(t, resp.Checks, "watcher")
}

func TestReadyHandlerReady(t *testing.T) {
	registerCritical(t)

	w := serve(NewHealthServer(fakeWorkspace{}, "test"), http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "3 parameters, 128/4096 slots", resp.Checks["workspace"])
	assert.Equal(t, "ready", resp.Checks["security"])
	assert.Equal(t, "ready", resp.Checks["watcher"])
}

func TestHealthServerConcurrency(t *testing.T) {
	hs := NewHealthServer(fakeWorkspace{}, "test")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Equal(t, http.StatusOK, serve(hs, http.MethodGet, "/health").Code)
		}()
		go func() {
			defer wg.Done()
			code := serve(hs, http.MethodGet, "/ready").Code
			assert.Contains(t, []int{http.StatusOK, http.StatusServiceUnavailable}, code)
		}()
	}
	wg.Wait()
}

func TestHealthServerShutdown(t *testing.T) {
	hs := NewHealthServer(nil, "test")
	assert.NoError(t, hs.Shutdown(context.Background()))
	// a server shut down before it started never serves
	assert.NoError(t, hs.Start("127.0.0.1:0"))
}
