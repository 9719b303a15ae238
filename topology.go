package xstream

import "fmt"

// Topology is a declarative router layout: channels, their destinations and
// the registered stages subscribed to them. It replaces annotation-driven
// binding with an explicit configuration step.
type Topology struct {
	Channels []ChannelSpec `koanf:"channels"`
}

// ChannelSpec declares one channel.
type ChannelSpec struct {
	Name        string           `koanf:"name"`
	Direction   string           `koanf:"direction"`
	Destination string           `koanf:"destination"`
	Subscribers []SubscriberSpec `koanf:"subscribers"`
}

// SubscriberSpec names a registered stage and its config.
type SubscriberSpec struct {
	Stage  string         `koanf:"stage"`
	Config map[string]any `koanf:"config"`
}

// Apply creates every channel first, then attaches subscribers, so stage
// configs may reference channels declared later in the list.
func (t Topology) Apply(r *Router) error {
	created := make([]*Channel, 0, len(t.Channels))
	for _, spec := range t.Channels {
		dir, err := ParseDirection(spec.Direction)
		if err != nil {
			return fmt.Errorf("channel %q: %w", spec.Name, err)
		}
		ch, err := r.CreateChannel(spec.Name, dir, WithDestination(spec.Destination))
		if err != nil {
			return err
		}
		created = append(created, ch)
	}

	for i, spec := range t.Channels {
		for _, ss := range spec.Subscribers {
			sub, err := NewStage(ss.Stage, ss.Config)
			if err != nil {
				return fmt.Errorf("channel %q: %w", spec.Name, err)
			}
			if err := created[i].RegisterSubscriber(sub); err != nil {
				return err
			}
		}
	}

	for _, spec := range t.Channels {
		for _, ss := range spec.Subscribers {
			if target, ok := ss.Config["target"].(string); ok && target != "" {
				if _, exists := r.Channel(target); !exists {
					return fmt.Errorf("%w: channel %q: stage %q targets unknown channel %q",
						ErrConfiguration, spec.Name, ss.Stage, target)
				}
			}
		}
	}
	return nil
}
