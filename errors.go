package xstream

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration reports an invalid topology setup. Fatal at startup.
	ErrConfiguration = errors.New("xstream: invalid configuration")
	// ErrDuplicateChannel is returned when a channel name is created twice.
	ErrDuplicateChannel = errors.New("xstream: duplicate channel")
	// ErrUnknownChannel is returned when publishing to a name that was never created.
	ErrUnknownChannel = errors.New("xstream: unknown channel")
	// ErrPipelineCycle aborts a re-publish chain that went deeper than the router allows.
	ErrPipelineCycle = errors.New("xstream: re-publish depth exceeded")
	// ErrSubscriberFailure matches every *SubscriberFailure.
	ErrSubscriberFailure = errors.New("xstream: subscriber failed")
	// ErrSubscriberPanic is the cause recorded when a subscriber panics.
	ErrSubscriberPanic = errors.New("xstream: subscriber panic")
	// ErrTimeout is reported when a publish deadline expires before the chain completes.
	ErrTimeout = errors.New("xstream: publish timed out")
	// ErrRouterClosed is returned by Publish after Close.
	ErrRouterClosed = errors.New("xstream: router is closed")

	ErrObserverPoolShutdownTimeout = errors.New("xstream: observer pool shutdown timeout")
)

// SubscriberFailure describes one failed delivery inside a publish chain.
type SubscriberFailure struct {
	Channel     string            // input channel the subscriber is attached to
	Destination string            // destination the envelope was published on
	Subscriber  int               // registration index within Channel
	Depth       int               // 0 for the top-level publish
	Headers     map[string]string // envelope headers at the time of failure
	Err         error
}

func (f *SubscriberFailure) Error() string {
	return fmt.Sprintf("subscriber %d on channel %q (depth %d): %v", f.Subscriber, f.Channel, f.Depth, f.Err)
}

func (f *SubscriberFailure) Unwrap() error { return f.Err }

func (f *SubscriberFailure) Is(target error) bool { return target == ErrSubscriberFailure }

// PublishError aggregates every failure of a single top-level publish.
type PublishError struct {
	Channel  string
	Failures []*SubscriberFailure
}

func (e *PublishError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "xstream: publish on %q: %d failure(s)", e.Channel, len(e.Failures))
	for _, f := range e.Failures {
		sb.WriteString("; ")
		sb.WriteString(f.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *PublishError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
