package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/logging"
	"github.com/radio-control/controlplane/internal/telemetry"
)

// errLaneHeld marks a probe that gave way to a command on the same radio.
var errLaneHeld = errors.New("radio lane held")

// Publisher receives radio-scoped telemetry events.
type Publisher interface {
	PublishRadio(radioID string, event telemetry.Event) error
}

type probeState int

const (
	probeNormal probeState = iota
	probeRecovering
	probeOffline
)

func (s probeState) status() Status {
	switch s {
	case probeRecovering:
		return StatusRecovering
	case probeOffline:
		return StatusOffline
	default:
		return StatusOnline
	}
}

// backoff tracks one radio's probe cadence.
//
// A failure while normal enters recovering at the recovering initial
// interval. Each further failure multiplies the interval by the recovering
// backoff; a failure once the recovering max has been reached enters
// offline, which backs off the same way up to its own max. Any success
// returns to normal.
type backoff struct {
	timing   *config.TimingConfig
	state    probeState
	interval time.Duration
}

func newBackoff(timing *config.TimingConfig) *backoff {
	return &backoff{timing: timing, state: probeNormal, interval: timing.ProbeNormalInterval}
}

func (b *backoff) success() {
	b.state = probeNormal
	b.interval = b.timing.ProbeNormalInterval
}

func (b *backoff) failure() {
	t := b.timing
	switch b.state {
	case probeNormal:
		b.state = probeRecovering
		b.interval = t.ProbeRecoveringInitial
	case probeRecovering:
		if b.interval >= t.ProbeRecoveringMax {
			b.state = probeOffline
			b.interval = t.ProbeOfflineInitial
			return
		}
		b.interval = grow(b.interval, t.ProbeRecoveringBackoff, t.ProbeRecoveringMax)
	case probeOffline:
		b.interval = grow(b.interval, t.ProbeOfflineBackoff, t.ProbeOfflineMax)
	}
}

func grow(d time.Duration, factor float64, max time.Duration) time.Duration {
	next := time.Duration(float64(d) * factor)
	if next > max {
		return max
	}
	return next
}

// Prober polls every registered radio with GetState.
type Prober struct {
	manager *Manager
	timing  *config.TimingConfig
	pub     Publisher
	log     *logging.Logger

	mu     sync.Mutex
	states map[string]*backoff
}

// NewProber creates a prober. pub may be nil.
func NewProber(manager *Manager, timing *config.TimingConfig, pub Publisher, log *logging.Logger) *Prober {
	if log == nil {
		log = logging.Discard()
	}
	return &Prober{
		manager: manager,
		timing:  timing,
		pub:     pub,
		log:     log.Component("prober"),
		states:  make(map[string]*backoff),
	}
}

// Run probes every radio known at start until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range p.manager.IDs() {
		wg.Add(1)
		go func(radioID string) {
			defer wg.Done()
			p.loop(ctx, radioID)
		}(id)
	}
	wg.Wait()
}

func (p *Prober) loop(ctx context.Context, radioID string) {
	timer := time.NewTimer(p.tracker(radioID).interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			p.ProbeOnce(ctx, radioID)
			timer.Reset(p.Interval(radioID))
		}
	}
}

func (p *Prober) tracker(radioID string) *backoff {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.states[radioID]
	if !ok {
		b = newBackoff(p.timing)
		p.states[radioID] = b
	}
	return b
}

// Interval returns the delay before the next probe of radioID.
func (p *Prober) Interval(radioID string) time.Duration {
	b := p.tracker(radioID)
	p.mu.Lock()
	defer p.mu.Unlock()
	return b.interval
}

// ProbeOnce reads the radio's state once and applies the result. It returns
// the radio's status afterwards. A probe that cannot take the radio's lane
// before its timeout changes nothing.
func (p *Prober) ProbeOnce(ctx context.Context, radioID string) Status {
	b := p.tracker(radioID)

	state, err := p.read(ctx, radioID)
	if errors.Is(err, errLaneHeld) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return b.state.status()
	}

	p.mu.Lock()
	if err != nil {
		b.failure()
	} else {
		b.success()
	}
	status := b.state.status()
	p.mu.Unlock()

	prev, _ := p.manager.GetRadio(radioID)
	if err == nil {
		_ = p.manager.UpdateState(radioID, state)
		if prev != nil && prev.Status != StatusOnline && len(prev.Capabilities.Channels) == 0 {
			if rerr := p.manager.RefreshCapabilities(ctx, radioID); rerr != nil {
				p.log.Warn("capability refresh failed", logging.Fields{"radio": radioID, "error": rerr})
			}
		}
	} else {
		_, _ = p.manager.UpdateStatus(radioID, status)
	}

	if prev == nil || prev.Status == status {
		return status
	}

	p.log.Info("radio status changed", logging.Fields{"radio": radioID, "from": prev.Status, "to": status})
	if p.pub != nil {
		data := map[string]interface{}{"radioId": radioID, "status": string(status)}
		if err != nil {
			data["code"] = string(adapter.CodeOf(err))
		}
		if state != nil {
			data["powerDbm"] = state.PowerDbm
			data["frequencyMhz"] = state.FrequencyMhz
		}
		if perr := p.pub.PublishRadio(radioID, telemetry.Event{Type: telemetry.EventState, Data: data}); perr != nil {
			p.log.Warn("state event not published", logging.Fields{"radio": radioID, "error": perr})
		}
	}
	return status
}

func (p *Prober) read(ctx context.Context, radioID string) (*adapter.RadioState, error) {
	a, err := p.manager.Adapter(radioID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timing.CommandTimeoutGetState)
	defer cancel()

	release, err := p.manager.Acquire(ctx, radioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errLaneHeld, err)
	}
	defer release()

	state, err := a.GetState(ctx)
	if err != nil {
		return nil, adapter.NormalizeFor(adapter.VendorOf(a), err, nil)
	}
	return state, nil
}
