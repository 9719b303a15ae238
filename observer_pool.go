package xstream

import (
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool runs observers on background goroutines so a slow observer
// never stalls a publish chain. Events that do not fit in the queue are
// dropped and counted.
type ObserverPool struct {
	queue   chan pooledEvent
	workers int
	wg      sync.WaitGroup

	// mu orders Notify sends against the queue being closed.
	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	processed atomic.Uint64
	panicked  atomic.Uint64
}

type pooledEvent struct {
	event     Event
	observers []Observer
}

// NewObserverPool starts workers goroutines draining a queue of bufferSize
// events. Non-positive values fall back to 4 workers and 1000 slots.
func NewObserverPool(workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}

	op := &ObserverPool{
		queue:   make(chan pooledEvent, bufferSize),
		workers: workers,
	}
	op.wg.Add(workers)
	for range workers {
		go op.run()
	}
	return op
}

// Notify queues e for observers. The slice is retained, so callers pass a
// snapshot. Never blocks.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	op.mu.RLock()
	defer op.mu.RUnlock()
	if op.closed {
		return
	}
	select {
	case op.queue <- pooledEvent{event: e, observers: observers}:
	default:
		op.dropped.Add(1)
	}
}

func (op *ObserverPool) run() {
	defer op.wg.Done()
	for pe := range op.queue {
		for _, obs := range pe.observers {
			op.call(obs, pe.event)
		}
		op.processed.Add(1)
	}
}

func (op *ObserverPool) call(obs Observer, e Event) {
	defer func() {
		if recover() != nil {
			op.panicked.Add(1)
		}
	}()
	obs.OnEvent(e)
}

// Close stops accepting events and waits up to timeout for queued ones to be
// delivered. Idempotent.
func (op *ObserverPool) Close(timeout time.Duration) error {
	op.mu.Lock()
	if op.closed {
		op.mu.Unlock()
		return nil
	}
	op.closed = true
	close(op.queue)
	op.mu.Unlock()

	done := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrObserverPoolShutdownTimeout
	}
}

// Stats returns current pool statistics.
func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		Panicked:     op.panicked.Load(),
		ActiveEvents: len(op.queue),
		Workers:      op.workers,
		BufferSize:   cap(op.queue),
	}
}
