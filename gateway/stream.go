package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/firestige/Otus/correlator"
)

// handlePacketStream serves a Server-Sent Events stream of live packets for
// one channel. The subscription queue is bounded; a client that stops
// reading is evicted and sees its stream end.
func (s *Server) handlePacketStream(w http.ResponseWriter, r *http.Request) {
	channel, ok := s.trimChannel(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid channel")
		return
	}
	if s.packetHub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}

	sub := s.packetHub.Subscribe(channel)
	defer s.packetHub.Unsubscribe(sub)

	serveSSE(w, r, sub.C(), s.heartbeat, s.logger)
}

// handleResponseStream serves an SSE stream of every command response the
// fleet emits, matched or not.
func (s *Server) handleResponseStream(w http.ResponseWriter, r *http.Request) {
	if s.responseHub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "streaming unavailable")
		return
	}

	sub := s.responseHub.Subscribe(correlator.StreamKey)
	defer s.responseHub.Unsubscribe(sub)

	serveSSE(w, r, sub.C(), s.heartbeat, s.logger)
}

// serveSSE pumps items from a subscription channel to the client as SSE
// data events, emitting a comment heartbeat when the stream is idle for the
// heartbeat interval. Returns when the client disconnects or the channel
// closes (unsubscribed or evicted).
func serveSSE[T any](w http.ResponseWriter, r *http.Request, ch <-chan T,
	heartbeat time.Duration, logger *slog.Logger) {

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	timer := time.NewTimer(heartbeat)
	defer timer.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case item, open := <-ch:
			if !open {
				// Unsubscribed or evicted for not keeping up.
				return
			}
			data, err := json.Marshal(item)
			if err != nil {
				logger.Warn("sse encode failed", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			resetTimer(timer, heartbeat)

		case <-timer.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
			timer.Reset(heartbeat)
		}
	}
}

// resetTimer safely resets a timer that has not fired
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
