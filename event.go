package xstream

import "time"

// EventType enumerates router lifecycle events for the Observer pattern.
type EventType string

const (
	PublishStart    EventType = "publish_start"
	PublishDone     EventType = "publish_done"
	Deliver         EventType = "deliver"
	Republish       EventType = "republish"
	SubscriberError EventType = "subscriber_error"
	Cycle           EventType = "cycle"
)

// Event carries telemetry for observers.
type Event struct {
	Type        EventType
	Channel     string
	Destination string
	Target      string // re-publish target, Republish and Cycle only
	Depth       int
	Duration    time.Duration
	Err         error
}
