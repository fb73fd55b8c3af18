package command

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/adapter/fake"
	"github.com/radio-control/controlplane/internal/adapter/silvusmock"
	"github.com/radio-control/controlplane/internal/audit"
	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/radio"
	"github.com/radio-control/controlplane/internal/telemetry"
)

type published struct {
	radioID string
	event   telemetry.Event
}

type eventLog struct {
	mu     sync.Mutex
	events []published
}

func (l *eventLog) PublishRadio(radioID string, e telemetry.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, published{radioID, e})
	return nil
}

func (l *eventLog) all() []published {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]published(nil), l.events...)
}

type harness struct {
	o       *Orchestrator
	manager *radio.Manager
	radio   *fake.Adapter
	audit   *audit.Recorder
	events  *eventLog
}

func testTiming() *config.TimingConfig {
	t := config.DefaultTiming()
	return &t
}

func newHarness(t *testing.T, timing *config.TimingConfig) *harness {
	t.Helper()
	if timing == nil {
		timing = testTiming()
	}

	m := radio.NewManager(timing, nil)
	f := fake.New("r1")
	require.NoError(t, m.LoadCapabilities(context.Background(), radio.Info{ID: "r1"}, f))

	h := &harness{manager: m, radio: f, audit: &audit.Recorder{}, events: &eventLog{}}
	o, err := NewOrchestrator(m, timing, WithPublisher(h.events), WithAudit(h.audit))
	require.NoError(t, err)
	h.o = o
	return h
}

func (h *harness) onlyAudit(t *testing.T) audit.Entry {
	t.Helper()
	entries := h.audit.Entries()
	require.Len(t, entries, 1)
	return entries[0]
}

func TestNewOrchestratorRequiresManager(t *testing.T) {
	_, err := NewOrchestrator(nil, testTiming())
	assert.Error(t, err)

	_, err = NewOrchestrator(radio.NewManager(testTiming(), nil), nil)
	assert.Error(t, err)
}

func TestSetPowerSuccess(t *testing.T) {
	h := newHarness(t, nil)
	ctx := audit.WithActor(context.Background(), "alice")

	require.NoError(t, h.o.SetPower(ctx, "r1", 25))

	calls := h.radio.CallsTo(fake.MethodSetPower)
	require.Len(t, calls, 1)
	assert.Equal(t, 25.0, calls[0].Value)

	e := h.onlyAudit(t)
	assert.Equal(t, ActionSetPower, e.Action)
	assert.Equal(t, "r1", e.RadioID)
	assert.Equal(t, audit.OutcomeSuccess, e.Outcome)
	assert.Equal(t, "alice", e.Actor)
	assert.Equal(t, 25.0, e.Params["powerDbm"])
	assert.GreaterOrEqual(t, e.LatencyMs, 0.0)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].radioID)
	assert.Equal(t, telemetry.EventPowerChanged, events[0].event.Type)
	assert.Equal(t, "r1", events[0].event.Data["radioId"])
	assert.Equal(t, 25.0, events[0].event.Data["powerDbm"])
}

func TestSetPowerOutOfRange(t *testing.T) {
	for _, dBm := range []float64{-1, 39.5, 50, math.NaN()} {
		h := newHarness(t, nil)

		err := h.o.SetPower(context.Background(), "r1", dBm)
		require.Error(t, err)
		assert.Equal(t, adapter.CodeInvalidRange, adapter.CodeOf(err), "dBm=%v", dBm)
		assert.True(t, errors.Is(err, adapter.ErrInvalidRange))

		assert.Empty(t, h.radio.CallsTo(fake.MethodSetPower))
		assert.Equal(t, "INVALID_RANGE", h.onlyAudit(t).Outcome)
		assert.Empty(t, h.events.all(), "validation failures publish nothing")
	}
}

func TestNonFinitePowerIsAuditedDurably(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	fl, err := audit.NewFileLogger(config.AuditConfig{File: path}, nil)
	require.NoError(t, err)
	store, err := audit.NewSQLiteStore(filepath.Join(dir, "audit.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	timing := testTiming()
	m := radio.NewManager(timing, nil)
	require.NoError(t, m.LoadCapabilities(context.Background(), radio.Info{ID: "r1"}, fake.New("r1")))
	o, err := NewOrchestrator(m, timing, WithAudit(audit.Multi(fl, store)))
	require.NoError(t, err)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.True(t, errors.Is(o.SetPower(context.Background(), "r1", v), adapter.ErrInvalidRange))
	}
	require.NoError(t, fl.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(raw)), "\n"), 3)

	rows, err := store.Recent(context.Background(), "r1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "-Inf", rows[0].Params["powerDbm"])
	assert.Equal(t, "INVALID_RANGE", rows[0].Outcome)
}

func TestSetPowerBoundsAccepted(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.SetPower(context.Background(), "r1", 0))
	require.NoError(t, h.o.SetPower(context.Background(), "r1", 39))
	assert.Len(t, h.radio.CallsTo(fake.MethodSetPower), 2)
}

func TestSetPowerBusyAdapter(t *testing.T) {
	timing := testTiming()
	m := radio.NewManager(timing, nil)
	mock := silvusmock.New("s1", nil)
	require.NoError(t, m.LoadCapabilities(context.Background(), radio.Info{ID: "s1"}, mock))
	mock.SetFaultMode(silvusmock.FaultBusy)

	rec, events := &audit.Recorder{}, &eventLog{}
	o, err := NewOrchestrator(m, timing, WithAudit(rec), WithPublisher(events))
	require.NoError(t, err)

	err = o.SetPower(context.Background(), "s1", 25)
	require.Error(t, err)
	assert.Equal(t, adapter.CodeBusy, adapter.CodeOf(err))
	assert.NotContains(t, err.Error(), "RF_BUSY", "vendor text stays in the cause")

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "BUSY", entries[0].Outcome)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, telemetry.EventFault, got[0].event.Type)
	assert.Equal(t, "BUSY", got[0].event.Data["code"])
	assert.Equal(t, "s1", got[0].event.Data["radioId"])
	assert.NotContains(t, got[0].event.Data["message"], "RF_BUSY")
}

func TestAdapterFaultsAreNormalized(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want adapter.Code
	}{
		{"busy token", errors.New("device BUSY"), adapter.CodeBusy},
		{"offline token", errors.New("radio OFFLINE"), adapter.CodeUnavailable},
		{"range token", errors.New("OUT_OF_RANGE: 12"), adapter.CodeInvalidRange},
		{"unknown", errors.New("segfault in firmware"), adapter.CodeInternal},
		{"already coded", adapter.New(adapter.CodeUnavailable, "link down"), adapter.CodeUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.radio.FailWith(fake.MethodSetFrequency, tt.err)

			err := h.o.SetChannel(context.Background(), "r1", 2437)
			assert.Equal(t, tt.want, adapter.CodeOf(err))
			assert.Equal(t, string(tt.want), h.onlyAudit(t).Outcome)

			events := h.events.all()
			require.Len(t, events, 1)
			assert.Equal(t, telemetry.EventFault, events[0].event.Type)
			assert.Equal(t, string(tt.want), events[0].event.Data["code"])
			assert.Equal(t, ActionSetChannel, events[0].event.Data["action"])
		})
	}
}

func TestSetChannelByIndex(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.o.SetChannelByIndex(context.Background(), "r1", 6))

	calls := h.radio.CallsTo(fake.MethodSetFrequency)
	require.Len(t, calls, 1)
	assert.Equal(t, 2437.0, calls[0].Value)

	e := h.onlyAudit(t)
	assert.Equal(t, ActionSetChannel, e.Action)
	assert.Equal(t, 6, e.Params["channelIndex"])
	assert.Equal(t, 2437.0, e.Params["frequencyMhz"])

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.EventChannelChanged, events[0].event.Type)
	assert.Equal(t, 2437.0, events[0].event.Data["frequencyMhz"])
	assert.Equal(t, 6, events[0].event.Data["channelIndex"])
}

func TestSetChannelByIndexInvalid(t *testing.T) {
	tests := []struct {
		index  int
		reason string
	}{
		{0, "indexNotPositive"},
		{-3, "indexNotPositive"},
		{12, "channelNotFound"},
	}
	for _, tt := range tests {
		h := newHarness(t, nil)

		err := h.o.SetChannelByIndex(context.Background(), "r1", tt.index)
		require.Error(t, err)
		assert.Equal(t, adapter.CodeInvalidRange, adapter.CodeOf(err))
		e := adapter.AsError(err)
		require.NotNil(t, e)
		assert.Equal(t, tt.reason, e.Details["reason"])

		assert.Empty(t, h.radio.CallsTo(fake.MethodSetFrequency))
		assert.Equal(t, "INVALID_RANGE", h.onlyAudit(t).Outcome)
		assert.Empty(t, h.events.all())
	}
}

func TestSetChannelValidation(t *testing.T) {
	for _, freq := range []float64{0, -5, 99.9, 6000.1, math.NaN(), math.Inf(1)} {
		h := newHarness(t, nil)
		err := h.o.SetChannel(context.Background(), "r1", freq)
		assert.Equal(t, adapter.CodeInvalidRange, adapter.CodeOf(err), "freq=%v", freq)
		assert.Empty(t, h.radio.CallsTo(fake.MethodSetFrequency))
		assert.Empty(t, h.events.all())
	}
}

func TestSetChannelDerivesIndex(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.o.SetChannel(context.Background(), "r1", 2437))
	require.NoError(t, h.o.SetChannel(context.Background(), "r1", 2415))

	events := h.events.all()
	require.Len(t, events, 2)
	assert.Equal(t, 6, events[0].event.Data["channelIndex"])
	assert.Equal(t, 0, events[1].event.Data["channelIndex"], "off-table frequency")
}

func TestUnknownRadio(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	assert.Equal(t, adapter.CodeNotFound, adapter.CodeOf(h.o.SetPower(ctx, "nope", 10)))
	assert.Equal(t, adapter.CodeNotFound, adapter.CodeOf(h.o.SetChannel(ctx, "nope", 2437)))
	assert.Equal(t, adapter.CodeNotFound, adapter.CodeOf(h.o.SetChannelByIndex(ctx, "nope", 1)))
	assert.Equal(t, adapter.CodeNotFound, adapter.CodeOf(h.o.SelectRadio(ctx, "nope")))
	_, err := h.o.GetState(ctx, "nope")
	assert.Equal(t, adapter.CodeNotFound, adapter.CodeOf(err))

	entries := h.audit.Entries()
	require.Len(t, entries, 5)
	for _, e := range entries {
		assert.Equal(t, "NOT_FOUND", e.Outcome)
	}
	assert.Empty(t, h.events.all())
}

func TestMissingAdapterIsUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.manager.Register(radio.Info{ID: "bare", Model: "Unknown-Radio"}))

	err := h.o.SetPower(context.Background(), "bare", 10)
	assert.Equal(t, adapter.CodeUnavailable, adapter.CodeOf(err))
	assert.Equal(t, "UNAVAILABLE", h.onlyAudit(t).Outcome)

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.EventFault, events[0].event.Type)
}

func TestSelectRadio(t *testing.T) {
	h := newHarness(t, nil)
	second := fake.New("r2", fake.WithState(12, 2462))
	require.NoError(t, h.manager.LoadCapabilities(context.Background(), radio.Info{ID: "r2"}, second))
	require.Equal(t, "r1", h.manager.Active())

	require.NoError(t, h.o.SelectRadio(context.Background(), "r2"))
	assert.Equal(t, "r2", h.manager.Active())

	events := h.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.EventState, events[0].event.Type)
	assert.Equal(t, "r2", events[0].event.Data["radioId"])
	assert.Equal(t, 12.0, events[0].event.Data["powerDbm"])

	assert.Equal(t, adapter.CodeBadRequest, adapter.CodeOf(h.o.SelectRadio(context.Background(), "")))
}

func TestSelectRadioDeadAdapterKeepsActive(t *testing.T) {
	h := newHarness(t, nil)
	second := fake.New("r2")
	require.NoError(t, h.manager.LoadCapabilities(context.Background(), radio.Info{ID: "r2"}, second))
	second.FailWith(fake.MethodGetState, errors.New("NOT_READY"))

	err := h.o.SelectRadio(context.Background(), "r2")
	assert.Equal(t, adapter.CodeUnavailable, adapter.CodeOf(err))
	assert.Equal(t, "r1", h.manager.Active())
}

func TestGetStateRefreshesCache(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.o.SetPower(context.Background(), "r1", 33))

	state, err := h.o.GetState(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, 33.0, state.PowerDbm)

	r, err := h.manager.GetRadio("r1")
	require.NoError(t, err)
	require.NotNil(t, r.State)
	assert.Equal(t, 33.0, r.State.PowerDbm)
	assert.Equal(t, radio.StatusOnline, r.Status)

	entries := h.audit.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, ActionGetState, entries[1].Action)
	assert.Len(t, h.events.all(), 1, "reads publish nothing")
}

func TestCommandTimeoutIsUnavailable(t *testing.T) {
	timing := testTiming()
	timing.CommandTimeoutSetPower = 20 * time.Millisecond
	h := newHarness(t, timing)
	h.radio.SetLatency(time.Second)

	start := time.Now()
	err := h.o.SetPower(context.Background(), "r1", 10)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, adapter.CodeUnavailable, adapter.CodeOf(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, "UNAVAILABLE", h.onlyAudit(t).Outcome)
}

func TestCommandsOnOneRadioAreSerialized(t *testing.T) {
	h := newHarness(t, nil)
	h.radio.SetLatency(5 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, h.o.SetPower(context.Background(), "r1", float64(i)))
			} else {
				assert.NoError(t, h.o.SetChannelByIndex(context.Background(), "r1", i))
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, h.radio.MaxConcurrent())
	assert.Len(t, h.audit.Entries(), 8)
}

func TestLaneWaitTimeoutIsBusy(t *testing.T) {
	timing := testTiming()
	timing.CommandTimeoutSetChannel = 2 * time.Second
	timing.CommandTimeoutSetPower = 30 * time.Millisecond
	h := newHarness(t, timing)
	h.radio.SetLatency(200 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- h.o.SetChannel(context.Background(), "r1", 2437) }()
	require.Eventually(t, func() bool {
		return len(h.radio.CallsTo(fake.MethodSetFrequency)) == 1
	}, time.Second, time.Millisecond)

	err := h.o.SetPower(context.Background(), "r1", 10)
	assert.Equal(t, adapter.CodeBusy, adapter.CodeOf(err))
	assert.Equal(t, "commandInProgress", adapter.AsError(err).Details["reason"])
	assert.Empty(t, h.radio.CallsTo(fake.MethodSetPower))

	require.NoError(t, <-done)
}

func TestOneAuditEntryPerCall(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_ = h.o.SetPower(ctx, "r1", 10)
	_ = h.o.SetPower(ctx, "r1", 99)
	_ = h.o.SetChannel(ctx, "r1", 2412)
	_ = h.o.SetChannelByIndex(ctx, "r1", 40)
	_ = h.o.SelectRadio(ctx, "r1")
	_, _ = h.o.GetState(ctx, "r1")
	h.radio.FailWith("", errors.New("BUSY"))
	_ = h.o.SetPower(ctx, "r1", 10)

	outcomes := []string{}
	for _, e := range h.audit.Entries() {
		outcomes = append(outcomes, e.Outcome)
		assert.Equal(t, audit.UnknownActor, e.Actor)
	}
	assert.Equal(t, []string{"SUCCESS", "INVALID_RANGE", "SUCCESS", "INVALID_RANGE", "SUCCESS", "SUCCESS", "BUSY"}, outcomes)
}

func TestNilSinksAreNoOps(t *testing.T) {
	timing := testTiming()
	m := radio.NewManager(timing, nil)
	require.NoError(t, m.LoadCapabilities(context.Background(), radio.Info{ID: "r1"}, fake.New("r1")))

	o, err := NewOrchestrator(m, timing)
	require.NoError(t, err)
	assert.NoError(t, o.SetPower(context.Background(), "r1", 10))
	assert.Error(t, o.SetPower(context.Background(), "r1", 100))
}

func TestEventsReachHubBuffer(t *testing.T) {
	timing := testTiming()
	hub := telemetry.NewHub(timing)
	defer hub.Stop()

	m := radio.NewManager(timing, nil)
	require.NoError(t, m.LoadCapabilities(context.Background(), radio.Info{ID: "r1"}, fake.New("r1")))
	o, err := NewOrchestrator(m, timing, WithPublisher(hub))
	require.NoError(t, err)

	require.NoError(t, o.SetPower(context.Background(), "r1", 10))
	require.NoError(t, o.SetChannelByIndex(context.Background(), "r1", 3))
	require.Error(t, o.SetPower(context.Background(), "r1", 45))

	buf, ok := hub.Buffer("r1")
	require.True(t, ok)
	events := buf.GetEventsAfter(0)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].ID)
	assert.Equal(t, telemetry.EventPowerChanged, events[0].Type)
	assert.Equal(t, int64(2), events[1].ID)
	assert.Equal(t, telemetry.EventChannelChanged, events[1].Type)
}
