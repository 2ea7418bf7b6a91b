package transport

import (
	"errors"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// sseStream frames hub events as Server-Sent Events. The mutex serializes
// the hub's writer goroutine against Close, so once Close returns the
// ResponseWriter is never touched again.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

var errStreamClosed = errors.New("stream closed")

func (s *sseStream) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := &sseStream{w: w, flusher: flusher}
	sub := h.hub.Subscribe(stream)
	h.logger.Debug("sse subscriber connected", zap.String("remote", r.RemoteAddr))

	select {
	case <-r.Context().Done():
		h.hub.Unsubscribe(sub)
	case <-sub.Done():
	}
	h.logger.Debug("sse subscriber disconnected", zap.String("remote", r.RemoteAddr))
}
