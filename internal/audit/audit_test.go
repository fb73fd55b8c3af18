package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/controlplane/internal/config"
)

func sampleEntry(radioID, action, outcome string) Entry {
	return Entry{
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Actor:     "operator",
		RadioID:   radioID,
		Action:    action,
		Params:    map[string]interface{}{"powerDbm": 25.0},
		Outcome:   outcome,
		LatencyMs: LatencyMillis(1500 * time.Microsecond),
	}
}

func TestActorFromContext(t *testing.T) {
	assert.Equal(t, UnknownActor, ActorFromContext(context.Background()))
	assert.Equal(t, UnknownActor, ActorFromContext(WithActor(context.Background(), "")))
	assert.Equal(t, "alice", ActorFromContext(WithActor(context.Background(), "alice")))
}

func TestLatencyRoundTrip(t *testing.T) {
	e := Entry{LatencyMs: LatencyMillis(250 * time.Millisecond)}
	assert.Equal(t, 250.0, e.LatencyMs)
	assert.Equal(t, 250*time.Millisecond, e.Latency())
}

func TestFileLoggerWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	l, err := NewFileLogger(config.AuditConfig{File: path, MaxSizeMB: 1}, nil)
	require.NoError(t, err)

	l.LogAction(context.Background(), sampleEntry("r1", "setPower", OutcomeSuccess))
	l.LogAction(context.Background(), sampleEntry("r2", "setChannel", "INVALID_RANGE"))
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var got []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "setPower", got[0].Action)
	assert.Equal(t, OutcomeSuccess, got[0].Outcome)
	assert.Equal(t, "INVALID_RANGE", got[1].Outcome)
	assert.Equal(t, 1.5, got[1].LatencyMs)
}

func TestFileLoggerRequiresPath(t *testing.T) {
	_, err := NewFileLogger(config.AuditConfig{}, nil)
	assert.Error(t, err)
}

func TestSQLiteStoreRecent(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	s.LogAction(ctx, sampleEntry("r1", "setPower", OutcomeSuccess))
	s.LogAction(ctx, sampleEntry("r2", "setPower", "BUSY"))
	s.LogAction(ctx, sampleEntry("r1", "setChannel", "UNAVAILABLE"))

	all, err := s.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "setChannel", all[0].Action, "newest first")
	assert.Equal(t, 25.0, all[0].Params["powerDbm"])
	assert.True(t, all[0].Timestamp.Equal(sampleEntry("", "", "").Timestamp))

	r1, err := s.Recent(ctx, "r1", 10)
	require.NoError(t, err)
	require.Len(t, r1, 2)
	for _, e := range r1 {
		assert.Equal(t, "r1", e.RadioID)
	}

	limited, err := s.Recent(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStoreSurvivesCancelledContext(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.LogAction(ctx, sampleEntry("r1", "selectRadio", OutcomeSuccess))

	got, err := s.Recent(context.Background(), "r1", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSinksKeepNonFiniteParams(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	fl, err := NewFileLogger(config.AuditConfig{File: path}, nil)
	require.NoError(t, err)
	store, err := NewSQLiteStore(filepath.Join(dir, "audit.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	params := map[string]interface{}{"powerDbm": math.Inf(1), "frequencyMhz": math.NaN(), "note": "x"}
	e := sampleEntry("r1", "setPower", "INVALID_RANGE")
	e.Params = params
	Multi(fl, store).LogAction(context.Background(), e)
	require.NoError(t, fl.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var line Entry
	require.NoError(t, json.Unmarshal(raw, &line))
	assert.Equal(t, "+Inf", line.Params["powerDbm"])
	assert.Equal(t, "NaN", line.Params["frequencyMhz"])
	assert.Equal(t, "x", line.Params["note"])

	rows, err := store.Recent(context.Background(), "r1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "+Inf", rows[0].Params["powerDbm"])

	assert.True(t, math.IsInf(params["powerDbm"].(float64), 1), "caller's params are left alone")
}

func TestMultiSkipsNilAndFansOut(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi(a, nil, b)
	m.LogAction(context.Background(), sampleEntry("r1", "setPower", OutcomeSuccess))

	assert.Len(t, a.Entries(), 1)
	assert.Len(t, b.Entries(), 1)
}

func TestRecorderRecent(t *testing.T) {
	r := &Recorder{}
	for _, id := range []string{"r1", "r2", "r1", "r1"} {
		r.LogAction(context.Background(), sampleEntry(id, "setPower", OutcomeSuccess))
	}

	got, err := r.Recent(context.Background(), "r1", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = r.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}
