package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/comicden/recotrack/config"
	"github.com/comicden/recotrack/internal/domain/model"
	"github.com/comicden/recotrack/internal/service"
)

const (
	// sseEventName is the named event clients subscribe to.
	sseEventName = "progress"
	// sseRetryHint tells the browser how long to wait before reconnecting.
	sseRetryHint = 3 * time.Second
	// sseKeepAliveInterval paces comment lines that keep proxies from
	// timing out an idle stream.
	sseKeepAliveInterval = 15 * time.Second
	// sseBufferSize bounds the per-channel event buffer. A consumer that
	// falls this far behind is treated as disconnected.
	sseBufferSize = 16
)

var (
	errStreamClosed     = errors.New("stream channel closed")
	errStreamBufferFull = errors.New("stream channel buffer full")
)

// sseChannel adapts an SSE response to the service delivery channel contract.
// Send is called from producer goroutines; the stream handler goroutine owns
// the response writer and drains the buffer.
type sseChannel struct {
	events    chan model.ProgressEvent
	done      chan struct{}
	closeOnce sync.Once
}

func newSSEChannel() *sseChannel {
	return &sseChannel{
		events: make(chan model.ProgressEvent, sseBufferSize),
		done:   make(chan struct{}),
	}
}

// Send queues the event for delivery. It never blocks: a full buffer means
// the consumer is not keeping up and the channel reports a transport failure.
func (c *sseChannel) Send(event model.ProgressEvent) error {
	select {
	case c.events <- event:
		return nil
	case <-c.done:
		return errStreamClosed
	default:
		return errStreamBufferFull
	}
}

// Close is idempotent and unblocks the stream handler.
func (c *sseChannel) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// StreamHandlers provides the SSE streaming endpoint.
type StreamHandlers struct {
	Svc      *service.ProgressService
	Registry *service.SessionRegistry
	Config   config.ProgressConfig
	// Optional: structured logger for request-scoped logging
	Logger *slog.Logger
}

func (h *StreamHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stream handles HTTP requests to open a live event stream for a session.
// The connection stays open until the session finalizes, the channel times
// out, the client disconnects, or a newer stream replaces this one.
func (h *StreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("session id is required")},
		)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "streaming_unsupported",
			Err:     errors.New("response writer does not support streaming"),
		})
		return
	}

	ch := newSSEChannel()
	if err := h.Svc.OpenChannel(r.Context(), sessionID, ch); err != nil {
		WriteAppError(w, err)
		return
	}
	defer h.teardown(sessionID, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", sseRetryHint.Milliseconds()); err != nil {
		return
	}
	flusher.Flush()

	ctx := r.Context()
	if h.Config.ChannelTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.ChannelTimeout)
		defer cancel()
	}

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger().DebugContext(r.Context(), "stream closing",
				"session_id", sessionID, "reason", ctx.Err())
			return

		case <-ch.done:
			// The service finalized the session or a newer stream replaced
			// this one. Flush anything still buffered before ending.
			h.drain(w, flusher, ch)
			return

		case event := <-ch.events:
			if err := writeSSEEvent(w, flusher, event); err != nil {
				return
			}

		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// teardown releases the channel. Deregistration is conditional so a
// replacement channel registered in the meantime is left alone.
func (h *StreamHandlers) teardown(sessionID string, ch *sseChannel) {
	h.Registry.Deregister(sessionID, ch)
	ch.Close()
}

func (h *StreamHandlers) drain(w io.Writer, flusher http.Flusher, ch *sseChannel) {
	for {
		select {
		case event := <-ch.events:
			if err := writeSSEEvent(w, flusher, event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func writeSSEEvent(w io.Writer, flusher http.Flusher, event model.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", sseEventName, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
