package tools

import (
	"context"
	"encoding/json"
	"time"
)

// HealthProbe reports the liveness of one dependency.
type HealthProbe struct {
	Name  string
	Check func(ctx context.Context) error
}

// ConnectionTools is the manage_connection manager: runtime introspection
// over the server's dependencies and tool surface.
type ConnectionTools struct {
	version      string
	started      time.Time
	probes       []HealthProbe
	capabilities func() []Capability
}

// NewConnectionTools wires the connection manager. capabilities is
// usually the owning dispatcher's Capabilities method.
func NewConnectionTools(version string, probes []HealthProbe, capabilities func() []Capability) *ConnectionTools {
	return &ConnectionTools{
		version:      version,
		started:      nowFunc(),
		probes:       probes,
		capabilities: capabilities,
	}
}

// Manager implements Provider.
func (t *ConnectionTools) Manager() Manager {
	return Manager{
		Name:        "manage_connection",
		Description: "Server health and capability introspection",
		Actions: []Action{
			{
				Name:        "health_check",
				Description: "Probe the server's dependencies",
				Params:      map[string]interface{}{},
				Handler:     t.healthCheck,
			},
			{
				Name:        "capabilities",
				Description: "List the registered tools and their actions",
				Params:      map[string]interface{}{},
				Handler:     t.listCapabilities,
			},
		},
	}
}

func (t *ConnectionTools) healthCheck(ctx context.Context, _ json.RawMessage) (*Result, error) {
	checks := make(map[string]string, len(t.probes))
	healthy := true
	for _, probe := range t.probes {
		if err := probe.Check(ctx); err != nil {
			checks[probe.Name] = err.Error()
			healthy = false
			continue
		}
		checks[probe.Name] = "ok"
	}
	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	return &Result{Data: map[string]interface{}{
		"status":         status,
		"checks":         checks,
		"version":        t.version,
		"uptime_seconds": int64(nowFunc().Sub(t.started).Seconds()),
	}}, nil
}

func (t *ConnectionTools) listCapabilities(ctx context.Context, _ json.RawMessage) (*Result, error) {
	return &Result{Data: map[string]interface{}{
		"version": t.version,
		"tools":   t.capabilities(),
	}}, nil
}
