package xstream

import "context"

// Publisher is the narrow surface collaborators need to push envelopes into a pipeline.
type Publisher interface {
	Publish(ctx context.Context, channel string, env Envelope) error
}

// HealthChecker provides health status for readiness probes.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API represents the complete xstream router surface.
type API interface {
	Publisher
	HealthChecker
	CreateChannel(name string, dir Direction, opts ...ChannelOption) (*Channel, error)
	Subscribe(channel string, sub Subscriber) error
	PublishBatch(ctx context.Context, channel string, envs ...Envelope) error
	Close(ctx context.Context) error
	GetMetrics() Metrics
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}
