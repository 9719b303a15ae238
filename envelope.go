package xstream

import (
	"sort"
	"strings"
)

// Envelope is the unit traveling through the pipeline: a payload plus string headers.
// It is immutable; every With* method returns a new Envelope and leaves the receiver untouched.
type Envelope struct {
	payload string
	headers map[string]string
}

// NewEnvelope wraps payload with a copy of headers. A nil header map is allowed.
func NewEnvelope(payload string, headers map[string]string) Envelope {
	return Envelope{payload: payload, headers: cloneHeaders(headers, 0)}
}

// Payload returns the message body.
func (e Envelope) Payload() string { return e.payload }

// Headers returns a copy of the header map (never nil).
func (e Envelope) Headers() map[string]string { return cloneHeaders(e.headers, 0) }

// Header looks up a single header. Keys are case-sensitive.
func (e Envelope) Header(key string) (string, bool) {
	v, ok := e.headers[key]
	return v, ok
}

// Len reports the number of headers.
func (e Envelope) Len() int { return len(e.headers) }

// WithHeader returns a copy of e with key set to value.
func (e Envelope) WithHeader(key, value string) Envelope {
	h := cloneHeaders(e.headers, 1)
	h[key] = value
	return Envelope{payload: e.payload, headers: h}
}

// WithHeaders returns a copy of e with every entry of extra set, overwriting existing keys.
func (e Envelope) WithHeaders(extra map[string]string) Envelope {
	if len(extra) == 0 {
		return e
	}
	h := cloneHeaders(e.headers, len(extra))
	for k, v := range extra {
		h[k] = v
	}
	return Envelope{payload: e.payload, headers: h}
}

// WithPayload returns a copy of e carrying payload and the same headers.
func (e Envelope) WithPayload(payload string) Envelope {
	// headers are never written after construction, sharing the map is safe
	return Envelope{payload: payload, headers: e.headers}
}

// String renders the envelope for logs: payload followed by headers in key order.
func (e Envelope) String() string {
	var sb strings.Builder
	sb.WriteString(e.payload)
	if len(e.headers) > 0 {
		sb.WriteString(" ")
		sb.WriteString(formatHeaders(e.headers))
	}
	return sb.String()
}

func cloneHeaders(src map[string]string, extra int) map[string]string {
	dst := make(map[string]string, len(src)+extra)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// formatHeaders renders headers as {k=v, ...} with stable ordering.
func formatHeaders(h map[string]string) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(h[k])
	}
	sb.WriteByte('}')
	return sb.String()
}
