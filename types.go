package xstream

import "time"

// PoolStats describes the observer pool.
type PoolStats struct {
	Dropped      uint64 // queue full
	Processed    uint64
	Panicked     uint64 // observer calls that panicked
	ActiveEvents int    // queued, not yet dispatched
	Workers      int
	BufferSize   int
}

// Metrics defines observable telemetry for the router.
type Metrics struct {
	Published           uint64 // top-level publishes accepted
	Delivered           uint64 // subscriber invocations
	Republished         uint64 // replies routed to another channel
	Failures            uint64 // subscriber failures, cycles included
	Cycles              uint64
	EventsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates router health for readiness probes.
type HealthStatus struct {
	Status    string    `json:"status"` // "healthy", "degraded", "unhealthy"
	Metrics   Metrics   `json:"metrics"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
}
