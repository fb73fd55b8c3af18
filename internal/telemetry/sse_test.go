package telemetry

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSSE(t *testing.T) {
	var b strings.Builder
	require.NoError(t, FormatSSE(&b, Event{ID: 7, Type: EventPowerChanged, Data: map[string]interface{}{"powerDbm": 25}}))
	assert.Equal(t, "id: 7\nevent: powerChanged\ndata: {\"powerDbm\":25}\n\n", b.String())

	b.Reset()
	require.NoError(t, FormatSSE(&b, Event{Type: EventReady}))
	assert.Equal(t, "event: ready\ndata: {}\n\n", b.String())
}

type deadlineWriter struct {
	*httptest.ResponseRecorder
	deadlines []time.Time
	err       error
}

func (w *deadlineWriter) SetWriteDeadline(d time.Time) error {
	w.deadlines = append(w.deadlines, d)
	return w.err
}

func TestSSESinkBoundsEachWrite(t *testing.T) {
	w := &deadlineWriter{ResponseRecorder: httptest.NewRecorder()}
	sink := NewSSESink(w, 45*time.Second)

	before := time.Now()
	require.NoError(t, sink.WriteEvent(Event{ID: 1, Type: EventState}))
	require.NoError(t, sink.WriteEvent(Event{ID: 2, Type: EventState}))

	require.Len(t, w.deadlines, 2)
	for _, d := range w.deadlines {
		assert.WithinDuration(t, before.Add(45*time.Second), d, 5*time.Second)
	}
	assert.Contains(t, w.Body.String(), "id: 2\n")

	// a connection that cannot take a deadline is not written to
	w.err = errors.New("use of closed network connection")
	assert.Error(t, sink.WriteEvent(Event{ID: 3, Type: EventState}))
	assert.NotContains(t, w.Body.String(), "id: 3\n")
}

func TestSSESinkWithoutDeadlineSupport(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, NewSSESink(rec, time.Second).WriteEvent(Event{ID: 1, Type: EventState}))
	assert.True(t, rec.Flushed)

	var b strings.Builder
	require.NoError(t, NewSSESink(&b, time.Second).WriteEvent(Event{ID: 1, Type: EventState}))
	assert.Contains(t, b.String(), "event: state")
}

func TestParseLastEventID(t *testing.T) {
	assert.Equal(t, int64(42), ParseLastEventID("42"))
	assert.Equal(t, int64(42), ParseLastEventID(" 42 "))
	assert.Equal(t, int64(0), ParseLastEventID("abc"))
	assert.Equal(t, int64(0), ParseLastEventID("-3"))
	assert.Equal(t, int64(0), ParseLastEventID(""))
}

func TestOptionsFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/telemetry?radio=r1&lastEventId=5", nil)
	assert.Equal(t, SubscribeOptions{LastEventID: 5, Radio: "r1"}, OptionsFromRequest(r))

	r.Header.Set("Last-Event-ID", "9")
	assert.Equal(t, int64(9), OptionsFromRequest(r).LastEventID)
}

// readSSE collects frames until n events with an event line were seen.
func readSSE(t *testing.T, sc *bufio.Scanner, n int) []string {
	t.Helper()
	var frames []string
	var cur []string
	for len(frames) < n && sc.Scan() {
		line := sc.Text()
		if line == "" {
			frames = append(frames, strings.Join(cur, "\n"))
			cur = nil
			continue
		}
		cur = append(cur, line)
	}
	require.Len(t, frames, n, "stream ended early: %v", sc.Err())
	return frames
}

func TestServeSSEResume(t *testing.T) {
	h := NewHub(testTiming())
	defer h.Stop()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeSSE))
	defer srv.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.PublishRadio("r1", Event{Type: EventPowerChanged, Data: map[string]interface{}{"powerDbm": 10 + i}}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"?radio=r1", nil)
	require.NoError(t, err)
	req.Header.Set("Last-Event-ID", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	sc := bufio.NewScanner(resp.Body)
	frames := readSSE(t, sc, 3)
	assert.True(t, strings.HasPrefix(frames[0], "event: ready\n"), frames[0])
	assert.Equal(t, "id: 2\nevent: powerChanged\ndata: {\"powerDbm\":11}", frames[1])
	assert.Equal(t, "id: 3\nevent: powerChanged\ndata: {\"powerDbm\":12}", frames[2])

	require.NoError(t, h.PublishRadio("r1", Event{Type: EventFault, Data: map[string]interface{}{"code": "BUSY"}}))
	frames = readSSE(t, sc, 1)
	assert.Equal(t, "id: 4\nevent: fault\ndata: {\"code\":\"BUSY\"}", frames[0])

	cancel()
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeSSEAfterStop(t *testing.T) {
	h := NewHub(testTiming())
	h.Stop()

	rec := httptest.NewRecorder()
	h.ServeSSE(rec, httptest.NewRequest(http.MethodGet, "/telemetry", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServeWebSocket(t *testing.T) {
	h := NewHub(testTiming())
	defer h.Stop()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWebSocket))
	defer srv.Close()

	require.NoError(t, h.PublishRadio("r1", Event{Type: EventState}))
	require.NoError(t, h.PublishRadio("r1", Event{Type: EventChannelChanged, Data: map[string]interface{}{"frequencyMhz": 2437.0}}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?radio=r1&lastEventId=1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var ready, replayed Event
	require.NoError(t, conn.ReadJSON(&ready))
	assert.Equal(t, EventReady, ready.Type)

	require.NoError(t, conn.ReadJSON(&replayed))
	assert.Equal(t, int64(2), replayed.ID)
	assert.Equal(t, EventChannelChanged, replayed.Type)
	assert.Equal(t, "r1", replayed.Radio)
	assert.Equal(t, 2437.0, replayed.Data["frequencyMhz"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
