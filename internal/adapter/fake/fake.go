// Package fake provides a deterministic radio adapter for tests and
// local development. It records every call and can inject failures and
// latency per method.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/radio-control/controlplane/internal/adapter"
)

// Model is the model name reported for fake radios.
const Model = "Fake-Radio-Test"

// Method names used for fault injection and call recording.
const (
	MethodGetState     = "GetState"
	MethodSetPower     = "SetPower"
	MethodSetFrequency = "SetFrequency"
	MethodProfiles     = "SupportedFrequencyProfiles"
)

// Call is one recorded adapter invocation.
type Call struct {
	Method string
	Value  float64
}

// Adapter implements adapter.IRadioAdapter in memory.
type Adapter struct {
	radioID string

	mu           sync.Mutex
	powerDbm     float64
	frequencyMhz float64
	minPower     float64
	maxPower     float64
	channels     []adapter.Channel
	faults       map[string]error
	latency      time.Duration
	calls        []Call

	inFlight    int
	maxInFlight int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithChannels replaces the default 2.4 GHz channel table.
func WithChannels(channels []adapter.Channel) Option {
	return func(a *Adapter) {
		a.channels = append([]adapter.Channel(nil), channels...)
	}
}

// WithState sets the initial power and frequency.
func WithState(powerDbm, frequencyMhz float64) Option {
	return func(a *Adapter) {
		a.powerDbm = powerDbm
		a.frequencyMhz = frequencyMhz
	}
}

// WithPowerRange sets the accepted power range in dBm.
func WithPowerRange(min, max float64) Option {
	return func(a *Adapter) {
		a.minPower = min
		a.maxPower = max
	}
}

// DefaultChannels is the 2.4 GHz table: index i maps to 2412 + 5*(i-1) MHz.
func DefaultChannels() []adapter.Channel {
	channels := make([]adapter.Channel, 11)
	for i := range channels {
		channels[i] = adapter.Channel{Index: i + 1, FrequencyMhz: 2412.0 + 5.0*float64(i)}
	}
	return channels
}

// New creates a fake adapter for radioID.
func New(radioID string, opts ...Option) *Adapter {
	a := &Adapter{
		radioID:      radioID,
		powerDbm:     20,
		frequencyMhz: 2412.0,
		minPower:     0,
		maxPower:     39,
		channels:     DefaultChannels(),
		faults:       make(map[string]error),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RadioID returns the radio this adapter was created for.
func (a *Adapter) RadioID() string { return a.radioID }

// VendorID selects the generic error table.
func (a *Adapter) VendorID() string { return adapter.VendorGeneric }

// GetState returns the current radio state.
func (a *Adapter) GetState(ctx context.Context) (*adapter.RadioState, error) {
	done, err := a.enter(ctx, MethodGetState, 0)
	defer done()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return &adapter.RadioState{PowerDbm: a.powerDbm, FrequencyMhz: a.frequencyMhz}, nil
}

// SetPower sets the transmit power in dBm.
func (a *Adapter) SetPower(ctx context.Context, dBm float64) error {
	done, err := a.enter(ctx, MethodSetPower, dBm)
	defer done()
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if dBm < a.minPower || dBm > a.maxPower {
		return fmt.Errorf("INVALID_RANGE: power %.1f outside [%.0f, %.0f]", dBm, a.minPower, a.maxPower)
	}
	a.powerDbm = dBm
	return nil
}

// SetFrequency sets the transmit frequency in MHz.
func (a *Adapter) SetFrequency(ctx context.Context, frequencyMhz float64) error {
	done, err := a.enter(ctx, MethodSetFrequency, frequencyMhz)
	defer done()
	if err != nil {
		return err
	}

	if frequencyMhz < 100 || frequencyMhz > 6000 {
		return fmt.Errorf("OUT_OF_RANGE: frequency %.1f outside [100, 6000]", frequencyMhz)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.frequencyMhz = frequencyMhz
	return nil
}

// SupportedFrequencyProfiles returns one profile covering the channel table.
func (a *Adapter) SupportedFrequencyProfiles(ctx context.Context) ([]adapter.FrequencyProfile, error) {
	done, err := a.enter(ctx, MethodProfiles, 0)
	defer done()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	freqs := make([]float64, len(a.channels))
	for i, ch := range a.channels {
		freqs[i] = ch.FrequencyMhz
	}
	return []adapter.FrequencyProfile{{Frequencies: freqs, Bandwidth: 20.0, AntennaMask: 1}}, nil
}

// GetBandPlan returns a copy of the channel table.
func (a *Adapter) GetBandPlan() []adapter.Channel {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]adapter.Channel(nil), a.channels...)
}

// enter records the call, applies latency and returns any injected fault.
// The returned func must always be called.
func (a *Adapter) enter(ctx context.Context, method string, value float64) (func(), error) {
	a.mu.Lock()
	a.calls = append(a.calls, Call{Method: method, Value: value})
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	latency := a.latency
	fault := a.faults[method]
	if fault == nil {
		fault = a.faults[""]
	}
	a.mu.Unlock()

	done := func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		return done, err
	}
	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return done, ctx.Err()
		}
	}
	return done, fault
}

// FailWith makes method return err until cleared. An empty method
// applies to every method without a specific fault.
func (a *Adapter) FailWith(method string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[method] = err
}

// ClearFaults removes every injected fault.
func (a *Adapter) ClearFaults() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults = make(map[string]error)
}

// SetLatency delays every call by d, honouring context cancellation.
func (a *Adapter) SetLatency(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
}

// Calls returns a copy of the recorded calls.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallsTo returns the recorded calls for one method.
func (a *Adapter) CallsTo(method string) []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Call
	for _, c := range a.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// MaxConcurrent reports the highest number of calls seen in flight at once.
func (a *Adapter) MaxConcurrent() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxInFlight
}
