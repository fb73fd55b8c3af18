// Package silvusmock provides a Silvus-like simulated adapter.
//
// It speaks in Silvus error tokens, validates frequencies against its band
// plan and can simulate the soft-boot blackout that follows a frequency
// change on real hardware.
package silvusmock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/radio-control/controlplane/internal/adapter"
)

// DefaultModel is reported when no model is configured.
const DefaultModel = "SilvusMock-Test"

// Fault modes.
const (
	FaultNone         = ""
	FaultBusy         = "ReturnBusy"
	FaultUnavailable  = "ReturnUnavailable"
	FaultInvalidRange = "ReturnInvalidRange"
	FaultInternal     = "ReturnInternal"
)

// SilvusMock implements adapter.IRadioAdapter with Silvus-like behaviour.
type SilvusMock struct {
	radioID string
	model   string
	now     func() time.Time

	mu              sync.RWMutex
	powerDbm        float64
	frequencyMhz    float64
	channelIndex    int
	bandPlan        []adapter.Channel
	lastCommandTime time.Time
	softBoot        time.Duration
	bootUntil       time.Time
	faultMode       string

	minPower float64
	maxPower float64
}

// Option configures a SilvusMock.
type Option func(*SilvusMock)

// WithModel overrides the reported model.
func WithModel(model string) Option {
	return func(s *SilvusMock) { s.model = model }
}

// WithSoftBoot makes every successful frequency change take the radio
// offline for d.
func WithSoftBoot(d time.Duration) Option {
	return func(s *SilvusMock) { s.softBoot = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SilvusMock) { s.now = now }
}

// DefaultBandPlan is used when no band plan is supplied.
func DefaultBandPlan() []adapter.Channel {
	return []adapter.Channel{
		{Index: 1, FrequencyMhz: 2412.0},
		{Index: 2, FrequencyMhz: 2417.0},
		{Index: 3, FrequencyMhz: 2422.0},
		{Index: 4, FrequencyMhz: 2427.0},
		{Index: 5, FrequencyMhz: 2432.0},
	}
}

// New creates a SilvusMock for radioID. A nil band plan selects DefaultBandPlan.
func New(radioID string, bandPlan []adapter.Channel, opts ...Option) *SilvusMock {
	if len(bandPlan) == 0 {
		bandPlan = DefaultBandPlan()
	}

	s := &SilvusMock{
		radioID:  radioID,
		model:    DefaultModel,
		now:      time.Now,
		powerDbm: 20,
		bandPlan: append([]adapter.Channel(nil), bandPlan...),
		minPower: 0,
		maxPower: 39,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.frequencyMhz = s.bandPlan[0].FrequencyMhz
	s.channelIndex = s.bandPlan[0].Index
	s.lastCommandTime = s.now()
	return s
}

func (s *SilvusMock) RadioID() string  { return s.radioID }
func (s *SilvusMock) Model() string    { return s.model }
func (s *SilvusMock) VendorID() string { return adapter.VendorSilvus }

// GetState returns the current radio state.
func (s *SilvusMock) GetState(ctx context.Context) (*adapter.RadioState, error) {
	if err := s.check(ctx, "GetState"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return &adapter.RadioState{PowerDbm: s.powerDbm, FrequencyMhz: s.frequencyMhz}, nil
}

// SetPower sets the transmit power in dBm.
func (s *SilvusMock) SetPower(ctx context.Context, dBm float64) error {
	if err := s.check(ctx, "SetPower"); err != nil {
		return err
	}
	if dBm < s.minPower || dBm > s.maxPower {
		return fmt.Errorf("TX_POWER_OUT_OF_RANGE: %.1f dBm not in [%.0f, %.0f]", dBm, s.minPower, s.maxPower)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.powerDbm = dBm
	s.lastCommandTime = s.now()
	return nil
}

// SetFrequency sets the transmit frequency in MHz. The frequency must be
// in the band plan.
func (s *SilvusMock) SetFrequency(ctx context.Context, frequencyMhz float64) error {
	if err := s.check(ctx, "SetFrequency"); err != nil {
		return err
	}
	if frequencyMhz < 100 || frequencyMhz > 6000 {
		return fmt.Errorf("FREQUENCY_OUT_OF_RANGE: %.1f MHz", frequencyMhz)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := 0
	for _, ch := range s.bandPlan {
		if ch.FrequencyMhz == frequencyMhz {
			index = ch.Index
			break
		}
	}
	if index == 0 {
		return fmt.Errorf("INVALID_FREQUENCY: %.1f MHz not in band plan", frequencyMhz)
	}

	s.frequencyMhz = frequencyMhz
	s.channelIndex = index
	s.lastCommandTime = s.now()
	if s.softBoot > 0 {
		s.bootUntil = s.lastCommandTime.Add(s.softBoot)
	}
	return nil
}

// SupportedFrequencyProfiles returns frequency profiles based on the band plan.
func (s *SilvusMock) SupportedFrequencyProfiles(ctx context.Context) ([]adapter.FrequencyProfile, error) {
	if err := s.check(ctx, "SupportedFrequencyProfiles"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	freqs := make([]float64, len(s.bandPlan))
	for i, ch := range s.bandPlan {
		freqs[i] = ch.FrequencyMhz
	}
	return []adapter.FrequencyProfile{{Frequencies: freqs, Bandwidth: 20.0, AntennaMask: 1}}, nil
}

// GetBandPlan returns a copy of the band plan.
func (s *SilvusMock) GetBandPlan() []adapter.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]adapter.Channel(nil), s.bandPlan...)
}

// SetFaultMode sets the fault injection mode.
func (s *SilvusMock) SetFaultMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faultMode = mode
}

// ChannelIndex returns the band-plan index of the current frequency.
func (s *SilvusMock) ChannelIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channelIndex
}

// LastCommandTime returns the time of the last successful set command.
func (s *SilvusMock) LastCommandTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCommandTime
}

// check applies cancellation, fault injection and the soft-boot window.
func (s *SilvusMock) check(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	mode := s.faultMode
	booting := !s.bootUntil.IsZero() && s.now().Before(s.bootUntil)
	s.mu.RUnlock()

	switch mode {
	case FaultBusy:
		return fmt.Errorf("RF_BUSY: %s rejected", operation)
	case FaultUnavailable:
		return fmt.Errorf("NODE_UNAVAILABLE: %s rejected", operation)
	case FaultInvalidRange:
		return fmt.Errorf("PARAMETER_OUT_OF_RANGE: %s rejected", operation)
	case FaultInternal:
		return fmt.Errorf("rpc failure during %s", operation)
	}
	if booting {
		return fmt.Errorf("SOFT_BOOT_IN_PROGRESS: %s rejected", operation)
	}
	return nil
}
