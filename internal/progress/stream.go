package progress

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/glyphmap/tilesync/internal/logger"
)

// DefaultBuffer is the number of events queued between producer and writer.
const DefaultBuffer = 64

// Emitter accepts events from a producer. Emit returns false once nobody is
// listening any more; producers should then stop scheduling new work.
type Emitter interface {
	Emit(Event) bool
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event) bool

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) bool { return f(e) }

// Stream is a single-producer, single-consumer ordered event channel. The
// consumer going away cancels the stream's context, which is the producer's
// signal to stop.
type Stream struct {
	id     string
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// NewStream creates a stream whose lifetime is bounded by parent.
func NewStream(parent context.Context, buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(logger.WithTraceID(parent, id))
	return &Stream{
		id:     id,
		events: make(chan Event, buffer),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID identifies the stream in logs.
func (s *Stream) ID() string { return s.id }

// Context is cancelled when the consumer disconnects.
func (s *Stream) Context() context.Context { return s.ctx }

// Events is the consumer side. It is closed after the producer finishes.
func (s *Stream) Events() <-chan Event { return s.events }

// Emit queues an event in order, blocking while the buffer is full. It
// returns false without queueing when the consumer is gone or the stream is
// closed.
func (s *Stream) Emit(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return false
	}
	select {
	case s.events <- e:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close ends the producer side. It is safe to call more than once.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}

// Cancel signals that the consumer has gone away.
func (s *Stream) Cancel() { s.cancel() }

// Start runs produce in its own goroutine and closes the stream when it
// returns. A panicking producer ends the stream with an error event.
func Start(parent context.Context, buffer int, produce func(ctx context.Context, em Emitter)) *Stream {
	s := NewStream(parent, buffer)
	go func() {
		defer s.Close()
		defer func() {
			if r := recover(); r != nil {
				s.Emit(Failure(fmt.Sprintf("internal error: %v", r)))
			}
		}()
		produce(s.ctx, s)
	}()
	return s
}
