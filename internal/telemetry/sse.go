package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FormatSSE writes e in text/event-stream framing: an id line (omitted for
// id 0), an event line and a data line holding the JSON payload, followed
// by a blank line.
func FormatSSE(w io.Writer, e Event) error {
	data := e.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	var b strings.Builder
	if e.ID > 0 {
		fmt.Fprintf(&b, "id: %d\n", e.ID)
	}
	fmt.Fprintf(&b, "event: %s\n", e.Type)
	fmt.Fprintf(&b, "data: %s\n\n", payload)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	return nil
}

// SSESink writes events to an HTTP response and flushes after each one.
type SSESink struct {
	w            io.Writer
	flusher      http.Flusher
	rc           *http.ResponseController
	writeTimeout time.Duration
}

// NewSSESink wraps w. Flushing is skipped when w cannot flush. When w is an
// http.ResponseWriter and writeTimeout is positive, each event write must
// finish within writeTimeout.
func NewSSESink(w io.Writer, writeTimeout time.Duration) *SSESink {
	s := &SSESink{w: w, writeTimeout: writeTimeout}
	if f, ok := w.(http.Flusher); ok {
		s.flusher = f
	}
	if rw, ok := w.(http.ResponseWriter); ok && writeTimeout > 0 {
		s.rc = http.NewResponseController(rw)
	}
	return s
}

// WriteEvent implements Sink.
func (s *SSESink) WriteEvent(e Event) error {
	if s.rc != nil {
		err := s.rc.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err != nil && !errors.Is(err, http.ErrNotSupported) {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}
	if err := FormatSSE(s.w, e); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// ParseLastEventID parses a resume token. Absent or malformed values are 0.
func ParseLastEventID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// OptionsFromRequest reads the resume token from the Last-Event-ID header
// (or the lastEventId query parameter) and the scope from the radio query
// parameter.
func OptionsFromRequest(r *http.Request) SubscribeOptions {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	return SubscribeOptions{
		LastEventID: ParseLastEventID(raw),
		Radio:       r.URL.Query().Get("radio"),
	}
}

// ServeSSE streams telemetry to one HTTP client until it disconnects or
// the hub stops.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sub, err := h.Subscribe(r.Context(), NewSSESink(w, h.config.HeartbeatTimeout), OptionsFromRequest(r))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrHubStopped) {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		http.Error(w, err.Error(), status)
		return
	}
	_ = sub.Wait()
}
