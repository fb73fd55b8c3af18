package radio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/controlplane/internal/adapter/fake"
	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/telemetry"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingPublisher) PublishRadio(radioID string, e telemetry.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Radio = radioID
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) snapshot() []telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Event(nil), r.events...)
}

func TestBackoffProgression(t *testing.T) {
	timing := config.DefaultTiming()
	timing.ProbeRecoveringInitial = 5 * time.Second
	timing.ProbeRecoveringBackoff = 2
	timing.ProbeRecoveringMax = 15 * time.Second
	timing.ProbeOfflineInitial = 10 * time.Second
	timing.ProbeOfflineBackoff = 3
	timing.ProbeOfflineMax = 60 * time.Second

	b := newBackoff(&timing)
	assert.Equal(t, timing.ProbeNormalInterval, b.interval)

	steps := []struct {
		state    probeState
		interval time.Duration
	}{
		{probeRecovering, 5 * time.Second},
		{probeRecovering, 10 * time.Second},
		{probeRecovering, 15 * time.Second},
		{probeOffline, 10 * time.Second},
		{probeOffline, 30 * time.Second},
		{probeOffline, 60 * time.Second},
		{probeOffline, 60 * time.Second},
	}
	for i, step := range steps {
		b.failure()
		assert.Equal(t, step.state, b.state, "step %d", i)
		assert.Equal(t, step.interval, b.interval, "step %d", i)
	}

	b.success()
	assert.Equal(t, probeNormal, b.state)
	assert.Equal(t, timing.ProbeNormalInterval, b.interval)
}

func TestProbeOncePublishesOnStatusChange(t *testing.T) {
	m := newTestManager(nil)
	f := fake.New("r1")
	require.NoError(t, m.LoadCapabilities(context.Background(), Info{ID: "r1"}, f))

	pub := &recordingPublisher{}
	p := NewProber(m, m.timing, pub, nil)
	ctx := context.Background()

	assert.Equal(t, StatusOnline, p.ProbeOnce(ctx, "r1"))
	assert.Empty(t, pub.snapshot(), "no change, no event")

	f.FailWith("", errors.New("REBOOT"))
	assert.Equal(t, StatusRecovering, p.ProbeOnce(ctx, "r1"))
	assert.Equal(t, m.timing.ProbeRecoveringInitial, p.Interval("r1"))

	f.ClearFaults()
	assert.Equal(t, StatusOnline, p.ProbeOnce(ctx, "r1"))

	events := pub.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, telemetry.EventState, events[0].Type)
	assert.Equal(t, "recovering", events[0].Data["status"])
	assert.Equal(t, "UNAVAILABLE", events[0].Data["code"])
	assert.Equal(t, "online", events[1].Data["status"])
	assert.Equal(t, 2412.0, events[1].Data["frequencyMhz"])
}

func TestProbeYieldsToHeldLane(t *testing.T) {
	m := newTestManager(nil)
	m.timing.CommandTimeoutGetState = 20 * time.Millisecond
	f := fake.New("r1")
	require.NoError(t, m.LoadCapabilities(context.Background(), Info{ID: "r1"}, f))
	reads := len(f.CallsTo(fake.MethodGetState))

	pub := &recordingPublisher{}
	p := NewProber(m, m.timing, pub, nil)

	release, err := m.Acquire(context.Background(), "r1")
	require.NoError(t, err)
	f.FailWith("", errors.New("OFFLINE"))

	assert.Equal(t, StatusOnline, p.ProbeOnce(context.Background(), "r1"))
	assert.Len(t, f.CallsTo(fake.MethodGetState), reads, "adapter untouched while a command holds the lane")
	assert.Empty(t, pub.snapshot())
	r, err := m.GetRadio("r1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, r.Status)

	release()
	assert.Equal(t, StatusRecovering, p.ProbeOnce(context.Background(), "r1"))
	assert.Len(t, f.CallsTo(fake.MethodGetState), reads+1)
}

func TestProbeRecoversCapabilities(t *testing.T) {
	m := newTestManager(nil)
	f := fake.New("r1")
	f.FailWith(fake.MethodProfiles, errors.New("NOT_READY"))
	require.Error(t, m.LoadCapabilities(context.Background(), Info{ID: "r1"}, profileOnly{f}))

	f.ClearFaults()
	p := NewProber(m, m.timing, nil, nil)
	assert.Equal(t, StatusOnline, p.ProbeOnce(context.Background(), "r1"))

	_, ok := m.FrequencyFor("r1", 1)
	assert.True(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	timing := config.DefaultTiming()
	timing.ProbeNormalInterval = 5 * time.Millisecond
	m := NewManager(&timing, nil)
	f := fake.New("r1")
	require.NoError(t, m.LoadCapabilities(context.Background(), Info{ID: "r1"}, f))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewProber(m, &timing, nil, nil).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(f.CallsTo(fake.MethodGetState)) >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
}
