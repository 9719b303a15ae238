package stage

import (
	"context"
	"unicode/utf8"

	"github.com/trickstertwo/xstream"
)

// HeaderRawValue carries the payload as it was before the transform ran.
const HeaderRawValue = "rawValue"

// Transform derives a new payload from the old one.
type Transform func(payload string) string

// NewTransform returns a subscriber that replies on target with fn(payload).
// Incoming headers are kept and HeaderRawValue is set to the original payload.
// The input envelope is never modified.
func NewTransform(target string, fn Transform) xstream.Subscriber {
	return func(_ context.Context, env xstream.Envelope) (*xstream.Reply, error) {
		out := env.WithPayload(fn(env.Payload())).WithHeader(HeaderRawValue, env.Payload())
		return xstream.SendTo(target, out), nil
	}
}

// NewReverse is the reference transform: character-order reversal of the payload.
func NewReverse(target string) xstream.Subscriber {
	return NewTransform(target, Reverse)
}

// Reverse reverses s by UTF-8 sequence so multi-byte characters stay intact.
// Bytes that are not valid UTF-8 are moved one at a time and kept as is, so
// the result always has the same bytes as s.
func Reverse(s string) string {
	out := make([]byte, len(s))
	end := len(out)
	for len(s) > 0 {
		_, size := utf8.DecodeRuneInString(s)
		end -= size
		copy(out[end:], s[:size])
		s = s[size:]
	}
	return string(out)
}
