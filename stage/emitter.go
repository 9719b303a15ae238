package stage

import (
	"context"
	"errors"
	"sync"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xstream"
)

// LogEmitter writes each record as a structured log line. A nil Logger falls
// back to the router logger found in ctx, then to xlog.Default().
type LogEmitter struct {
	Logger *xlog.Logger
}

func (e LogEmitter) Emit(ctx context.Context, rec Record) error {
	lg := e.Logger
	if lg == nil {
		if l, ok := xstream.LoggerFromContext(ctx); ok {
			lg = l
		} else {
			lg = xlog.Default()
		}
	}
	lg.With(
		xlog.Str("channel", rec.Channel),
		xlog.Str("payload", rec.Payload),
		xlog.Str("raw_value", rec.RawValue),
	).Info().Msg("Message is " + rec.Payload + ", Raw Value is " + rec.RawValue)
	return nil
}

// MemoryEmitter keeps every record in memory. Safe for concurrent use.
type MemoryEmitter struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemoryEmitter) Emit(_ context.Context, rec Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

// Records returns a snapshot of everything emitted so far.
func (m *MemoryEmitter) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Len reports the number of records emitted.
func (m *MemoryEmitter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Reset drops all records.
func (m *MemoryEmitter) Reset() {
	m.mu.Lock()
	m.records = nil
	m.mu.Unlock()
}

// MultiEmitter fans a record out to every emitter. All emitters run; their
// errors are joined.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ctx context.Context, rec Record) error {
	var errs []error
	for _, em := range m {
		if em == nil {
			continue
		}
		if err := em.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
