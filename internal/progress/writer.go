package progress

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/glyphmap/tilesync/internal/errors"
	"github.com/glyphmap/tilesync/internal/logger"
)

const (
	// DefaultWriteTimeout bounds a single event write to a slow client.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultHeartbeat is the interval of keep-alive comments on idle streams.
	DefaultHeartbeat = 15 * time.Second
)

var heartbeatFrame = []byte(": keepalive\n\n")

// Writer renders events onto an HTTP response as server-sent events.
type Writer struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
	heartbeat    time.Duration
	log          logger.Logger
	onSent       func(Event)
	started      bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithWriteTimeout sets the per-event write deadline.
func WithWriteTimeout(d time.Duration) WriterOption {
	return func(w *Writer) { w.writeTimeout = d }
}

// WithHeartbeat sets the keep-alive interval; zero disables it.
func WithHeartbeat(d time.Duration) WriterOption {
	return func(w *Writer) { w.heartbeat = d }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) WriterOption {
	return func(w *Writer) { w.log = l }
}

// OnSent registers a callback run after each event is flushed.
func OnSent(fn func(Event)) WriterOption {
	return func(w *Writer) { w.onSent = fn }
}

// NewWriter wraps w. Headers are sent on the first write.
func NewWriter(w http.ResponseWriter, opts ...WriterOption) *Writer {
	sw := &Writer{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: DefaultWriteTimeout,
		heartbeat:    DefaultHeartbeat,
	}
	for _, opt := range opts {
		opt(sw)
	}
	if sw.log == nil {
		sw.log = logger.Global().Module("progress")
	}
	return sw
}

func (sw *Writer) start() {
	if sw.started {
		return
	}
	sw.started = true
	h := sw.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	sw.w.WriteHeader(http.StatusOK)
}

func (sw *Writer) writeFrame(frame []byte) error {
	sw.start()
	if sw.writeTimeout > 0 {
		// not every ResponseWriter supports deadlines
		if err := sw.rc.SetWriteDeadline(time.Now().Add(sw.writeTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			sw.log.Debug("failed to set SSE write deadline", logger.Error(err))
		}
	}
	if _, err := sw.w.Write(frame); err != nil {
		return errors.New(fmt.Errorf("failed to write SSE frame: %w", err)).
			Category(errors.CategoryStream).
			Component("progress").
			Build()
	}
	if err := sw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return errors.New(fmt.Errorf("failed to flush SSE frame: %w", err)).
			Category(errors.CategoryStream).
			Component("progress").
			Build()
	}
	return nil
}

// Write sends one event and flushes it.
func (sw *Writer) Write(e Event) error {
	if err := sw.writeFrame(e.Encode()); err != nil {
		return err
	}
	if sw.onSent != nil {
		sw.onSent(e)
	}
	return nil
}

// Pump writes events in order until the channel closes, ctx is done or a
// write fails. Idle periods are filled with heartbeat comments. It returns
// nil when the producer finished normally.
func (sw *Writer) Pump(ctx context.Context, events <-chan Event) error {
	sw.start()
	if err := sw.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}

	var tick <-chan time.Time
	if sw.heartbeat > 0 {
		t := time.NewTicker(sw.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := sw.Write(e); err != nil {
				return err
			}
		case <-tick:
			if err := sw.writeFrame(heartbeatFrame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Serve pumps a stream to w and cancels the stream if the client goes away
// or a write fails, so the producer stops scheduling new work.
func Serve(ctx context.Context, w http.ResponseWriter, s *Stream, opts ...WriterOption) error {
	defer s.Cancel()
	return NewWriter(w, opts...).Pump(ctx, s.Events())
}
