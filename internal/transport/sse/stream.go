package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"narrator-server/internal/models"
)

const (
	// Liveness heartbeat period for long-lived turn streams.
	pingPeriod = 15 * time.Second
	// Short delay before closing so buffered events are not lost to
	// client-side batching.
	flushDelay = 200 * time.Millisecond
)

// Stream is one long-lived server-to-client event channel writing named
// JSON events as `event:`/`data:` line pairs. Writes are serialized; the
// orchestrator and its detached generation goroutines all emit through the
// same stream.
type Stream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	logger  *zap.Logger
	closed  bool

	pingStop chan struct{}
	pingDone chan struct{}
}

// NewStream prepares w for server-sent events and starts the heartbeat.
// The returned stream must be closed with Close once the turn ends.
func NewStream(w http.ResponseWriter, logger *zap.Logger) (*Stream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := &Stream{
		w:        w,
		flusher:  flusher,
		logger:   logger.Named("SSEStream"),
		pingStop: make(chan struct{}),
		pingDone: make(chan struct{}),
	}
	go s.pingLoop()
	return s, nil
}

// Emit writes one named event with a JSON payload. Emitting on a closed
// stream is a silent no-op so detached goroutines can race with shutdown.
func (s *Stream) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal event payload", zap.String("event", event), zap.Error(err))
		return fmt.Errorf("marshal %s payload: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("write %s event: %w", event, err)
	}
	s.flusher.Flush()
	return nil
}

// Close stops the heartbeat and, after a short flush delay, marks the
// stream closed. Safe to call once.
func (s *Stream) Close() {
	close(s.pingStop)
	<-s.pingDone

	time.Sleep(flushDelay)

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Stream) pingLoop() {
	defer close(s.pingDone)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.Emit(models.EventPing, models.PingPayload{Timestamp: time.Now().UTC()}); err != nil {
				s.logger.Debug("Ping failed, client likely gone", zap.Error(err))
				return
			}
		case <-s.pingStop:
			return
		}
	}
}
