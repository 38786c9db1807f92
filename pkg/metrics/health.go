package metrics

import (
	"sort"
	"sync"
	"time"
)

// HealthStatus is the aggregated state of the registered components
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy"/"unhealthy" or "ready"/"not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// Probe reports the current health of a component; nil means healthy
type Probe func() error

// CriticalComponents must be registered and healthy for readiness
var CriticalComponents = []string{"workspace", "security", "watcher"}

type component struct {
	healthy bool
	message string
	updated time.Time
	probe   Probe
}

// evaluate runs the probe, if any, outside the registry lock
func (c component) evaluate() (bool, string) {
	if c.probe == nil {
		return c.healthy, c.message
	}
	if err := c.probe(); err != nil {
		return false, err.Error()
	}
	return true, ""
}

type healthRegistry struct {
	mu         sync.RWMutex
	components map[string]component
	startTime  time.Time
	version    string
}

var registry = newHealthRegistry()

func newHealthRegistry() *healthRegistry {
	return &healthRegistry{
		components: make(map[string]component),
		startTime:  time.Now(),
	}
}

// SetVersion sets the version string for health responses
func SetVersion(version string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.version = version
}

// RegisterComponent records a component's state. Calling it again updates
// the state and replaces any probe.
func RegisterComponent(name string, healthy bool, message string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = component{
		healthy: healthy,
		message: message,
		updated: time.Now(),
	}
}

// RegisterProbe registers a component whose state is computed by probe on
// every health query
func RegisterProbe(name string, probe Probe) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.components[name] = component{probe: probe, updated: time.Now()}
}

// UnregisterComponent removes a component
func UnregisterComponent(name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.components, name)
}

func (r *healthRegistry) snapshot() (map[string]component, time.Time, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	components := make(map[string]component, len(r.components))
	for name, c := range r.components {
		components[name] = c
	}
	return components, r.startTime, r.version
}

// GetHealth returns the state of every registered component
func GetHealth() HealthStatus {
	components, start, version := registry.snapshot()

	status := HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(components)),
		Version:    version,
		Uptime:     time.Since(start).String(),
	}

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		healthy, message := components[name].evaluate()
		if healthy {
			status.Components[name] = "healthy"
			continue
		}
		status.Status = "unhealthy"
		status.Components[name] = "unhealthy: " + message
		if status.Message == "" {
			status.Message = name + " unhealthy"
		}
	}
	return status
}

// GetReadiness reports whether every critical component is registered and
// healthy
func GetReadiness() HealthStatus {
	components, start, version := registry.snapshot()

	status := HealthStatus{
		Status:     "ready",
		Timestamp:  time.Now(),
		Components: make(map[string]string, len(CriticalComponents)),
		Version:    version,
		Uptime:     time.Since(start).String(),
	}

	for _, name := range CriticalComponents {
		comp, ok := components[name]
		if !ok {
			status.Status = "not_ready"
			status.Components[name] = "not registered"
			if status.Message == "" {
				status.Message = "waiting for " + name + " initialization"
			}
			continue
		}
		if healthy, message := comp.evaluate(); !healthy {
			status.Status = "not_ready"
			status.Components[name] = "not ready: " + message
			if status.Message == "" {
				status.Message = "waiting for " + name
			}
			continue
		}
		status.Components[name] = "ready"
	}
	return status
}
