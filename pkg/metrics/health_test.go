package metrics

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// resetHealth gives a test a fresh registry
func resetHealth(t *testing.T) {
	t.Helper()
	old := registry
	registry = newHealthRegistry()
	t.Cleanup(func() { registry = old })
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		register   func()
		wantStatus string
		wantStates map[string]string
	}{
		{
			name:       "no components",
			register:   func() {},
			wantStatus: "healthy",
			wantStates: map[string]string{},
		},
		{
			name: "all healthy",
			register: func() {
				RegisterComponent("workspace", true, "")
				RegisterComponent("watcher", true, "")
			},
			wantStatus: "healthy",
			wantStates: map[string]string{"workspace": "healthy", "watcher": "healthy"},
		},
		{
			name: "one unhealthy",
			register: func() {
				RegisterComponent("workspace", true, "")
				RegisterComponent("watcher", false, "socket closed")
			},
			wantStatus: "unhealthy",
			wantStates: map[string]string{"workspace": "healthy", "watcher": "unhealthy: socket closed"},
		},
		{
			name: "failing probe",
			register: func() {
				RegisterProbe("security", func() error { return errors.New("label: backend missing") })
			},
			wantStatus: "unhealthy",
			wantStates: map[string]string{"security": "unhealthy: label: backend missing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth(t)
			SetVersion("v-test")
			tt.register()

			health := GetHealth()
			assert.Equal(t, tt.wantStatus, health.Status)
			assert.Equal(t, tt.wantStates, health.Components)
			assert.Equal(t, "v-test", health.Version)
			assert.NotEmpty(t, health.Uptime)
		})
	}
}

func TestGetReadiness(t *testing.T) {
	resetHealth(t)

	readiness := GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "not registered", readiness.Components["workspace"])
	assert.Contains(t, readiness.Message, "workspace")

	for _, name := range CriticalComponents {
		RegisterComponent(name, true, "")
	}
	readiness = GetReadiness()
	assert.Equal(t, "ready", readiness.Status)
	assert.Empty(t, readiness.Message)

	RegisterComponent("watcher", false, "listen failed")
	readiness = GetReadiness()
	assert.Equal(t, "not_ready", readiness.Status)
	assert.Equal(t, "not ready: listen failed", readiness.Components["watcher"])

	// non-critical components do not affect readiness
	RegisterComponent("watcher", true, "")
	RegisterComponent("collector", false, "stopped")
	assert.Equal(t, "ready", GetReadiness().Status)
}

func TestProbeIsReevaluated(t *testing.T) {
	resetHealth(t)
	for _, name := range CriticalComponents {
		RegisterComponent(name, true, "")
	}

	var probeErr error = errors.New("policy not loaded")
	RegisterProbe("security", func() error { return probeErr })
	assert.Equal(t, "not_ready", GetReadiness().Status)

	probeErr = nil
	assert.Equal(t, "ready", GetReadiness().Status)

	UnregisterComponent("security")
	assert.Equal(t, "not registered", GetReadiness().Components["security"])
}
