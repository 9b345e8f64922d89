// Package component defines the Discoverable interface and lifecycle types
// shared by the console's long-running components.
package component

import (
	"time"
)

// Discoverable defines the interface for components that can be discovered
// and inspected by the management layer.
//
// Components implementing this interface include:
// - Consumer components: supervised broker subscription loops
// - The correlator and per-channel ingest pipelines
// - The HTTP gateway
type Discoverable interface {
	// Meta returns basic component information
	Meta() Metadata

	// Health returns current health status
	Health() HealthStatus
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "consumer", "ingest", "correlator", "gateway"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus reports component health for monitoring
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastError  string        `json:"last_error,omitempty"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics reports data flow through a component
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
