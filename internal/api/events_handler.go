package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mattjoyce/studiobridge/internal/events"
)

const sseKeepAlive = 15 * time.Second

// handleEvents streams hub events as Server-Sent Events. Retained events
// newer than Last-Event-ID are replayed first. ?type= limits the stream to
// event types with that prefix, e.g. ?type=call. for dispatcher traffic.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	prefix := r.URL.Query().Get("type")

	// Subscribe before the snapshot so nothing published in between is lost.
	live, cancel := s.events.Subscribe(prefix)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sent := parseLastEventID(r.Header.Get("Last-Event-ID"))
	send := func(ev events.Event) bool {
		if ev.ID <= sent {
			return true
		}
		if err := writeSSE(w, ev); err != nil {
			return false
		}
		sent = ev.ID
		return true
	}

	for _, ev := range s.events.SnapshotSince(sent, prefix) {
		if !send(ev) {
			return
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				// Hub closed during shutdown.
				return
			}
			if !send(ev) {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// parseLastEventID returns 0 for anything that is not a non-negative id.
func parseLastEventID(v string) int64 {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeSSE(w io.Writer, ev events.Event) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, ev.Data)
	return err
}
