package stage

import (
	"errors"
	"fmt"

	"github.com/trickstertwo/xstream"
)

const (
	ReverseStageName = "transform.reverse"
	LogSinkStageName = "sink.log"
)

func init() {
	must(xstream.RegisterStage(ReverseStageName, func(cfg map[string]any) (xstream.Subscriber, error) {
		target, _ := cfg["target"].(string)
		if target == "" {
			return nil, errors.New("config: target required")
		}
		return NewReverse(target), nil
	}))
	must(xstream.RegisterStage(LogSinkStageName, func(map[string]any) (xstream.Subscriber, error) {
		return NewSink(LogEmitter{}), nil
	}))
}

func must(err error) {
	if err != nil {
		panic(fmt.Errorf("xstream/stage: failed to register stage: %w", err))
	}
}

// RegisterSink registers a sink stage under name that emits through em.
// Services use it to bind sinks to emitters that cannot come from a config file.
func RegisterSink(name string, em Emitter) error {
	if em == nil {
		return errors.New("emitter must not be nil")
	}
	return xstream.RegisterStage(name, func(map[string]any) (xstream.Subscriber, error) {
		return NewSink(em), nil
	})
}
