// Package stage provides the reference pipeline stages built on xstream.Router.
//
// A transform stage subscribes to an input channel, derives a new payload and
// replies on a fixed output channel, keeping the incoming headers and storing
// the original payload under HeaderRawValue. A sink stage is terminal: it
// emits a Record through an Emitter and produces no further output.
//
// Both stages are registered with the xstream stage registry on import:
//
//	transform.reverse   config: target (string, required)
//	sink.log            config: none
//
// Example topology:
//
//	xstream.Topology{Channels: []xstream.ChannelSpec{
//	    {Name: "output", Direction: "output", Destination: "raw"},
//	    {Name: "processorInput", Direction: "input", Destination: "raw",
//	        Subscribers: []xstream.SubscriberSpec{{Stage: "transform.reverse",
//	            Config: map[string]any{"target": "processorOutput"}}}},
//	    {Name: "processorOutput", Direction: "output", Destination: "reversed"},
//	    {Name: "sinkInput", Direction: "input", Destination: "reversed",
//	        Subscribers: []xstream.SubscriberSpec{{Stage: "sink.log"}}},
//	}}
package stage
