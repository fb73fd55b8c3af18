package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/config"
	"github.com/radio-control/controlplane/internal/telemetry"
)

// Transmit power limits accepted by every radio, in dBm.
const (
	MinPowerDbm = 0
	MaxPowerDbm = 39
)

// Status is a radio's lifecycle status.
type Status string

const (
	StatusOnline     Status = "online"
	StatusRecovering Status = "recovering"
	StatusOffline    Status = "offline"
)

// Capabilities are loaded once per radio.
type Capabilities struct {
	MinPowerDbm float64                    `json:"minPowerDbm"`
	MaxPowerDbm float64                    `json:"maxPowerDbm"`
	Channels    []adapter.Channel          `json:"channels"`
	Profiles    []adapter.FrequencyProfile `json:"profiles,omitempty"`
}

// Radio represents a single radio with its capabilities and current state.
type Radio struct {
	ID           string              `json:"id"`
	Model        string              `json:"model"`
	Band         string              `json:"band,omitempty"`
	Status       Status              `json:"status"`
	Capabilities *Capabilities       `json:"capabilities"`
	State        *adapter.RadioState `json:"state"`
	LastSeen     time.Time           `json:"lastSeen,omitempty"`
}

// RadioList represents the response format for GET /radios.
type RadioList struct {
	ActiveRadioID string  `json:"activeRadioId"`
	Items         []Radio `json:"items"`
}

// Info identifies a radio being registered.
type Info struct {
	ID    string
	Model string
	Band  string
	// Channels, when set, take precedence over every other channel source.
	Channels []adapter.Channel
}

type modeler interface {
	Model() string
}

// Manager manages radio inventory, capabilities and active selection.
type Manager struct {
	timing   *config.TimingConfig
	bandPlan *config.BandPlan
	now      func() time.Time

	mu            sync.RWMutex
	radios        map[string]*Radio
	order         []string
	adapters      map[string]adapter.IRadioAdapter
	activeRadioID string

	lanesMu sync.Mutex
	lanes   map[string]chan struct{}
}

// NewManager creates a radio manager. bandPlan may be nil.
func NewManager(timing *config.TimingConfig, bandPlan *config.BandPlan) *Manager {
	return &Manager{
		timing:   timing,
		bandPlan: bandPlan,
		now:      time.Now,
		radios:   make(map[string]*Radio),
		adapters: make(map[string]adapter.IRadioAdapter),
		lanes:    make(map[string]chan struct{}),
	}
}

// Acquire takes the radio's lane, which admits one adapter call at a time
// per radio. Running out of time while another call holds it is BUSY.
func (m *Manager) Acquire(ctx context.Context, radioID string) (release func(), err error) {
	m.lanesMu.Lock()
	lane, ok := m.lanes[radioID]
	if !ok {
		lane = make(chan struct{}, 1)
		m.lanes[radioID] = lane
	}
	m.lanesMu.Unlock()

	select {
	case lane <- struct{}{}:
		return func() { <-lane }, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, adapter.New(adapter.CodeBusy, "").
				WithDetails("reason", "commandInProgress")
		}
		return nil, adapter.Normalize(ctx.Err(), nil)
	}
}

// Register adds a radio without an adapter. Commands against it fail with
// UNAVAILABLE until capabilities are loaded.
func (m *Manager) Register(info Info) error {
	if info.ID == "" {
		return fmt.Errorf("radio id is required")
	}
	channels, err := checkChannels(info.Channels)
	if err != nil {
		return fmt.Errorf("radio %s: %w", info.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(&Radio{
		ID:           info.ID,
		Model:        info.Model,
		Band:         info.Band,
		Status:       StatusOffline,
		Capabilities: &Capabilities{MinPowerDbm: MinPowerDbm, MaxPowerDbm: MaxPowerDbm, Channels: channels},
	}, nil)
	return nil
}

// LoadCapabilities reads profiles and state from a and registers the radio.
//
// The channel table comes from, in order: info.Channels, the band plan entry
// for the radio's model and band, the adapter's own band plan, and finally
// the frequency profiles numbered from 1. Duplicate indices are rejected.
// The first radio loaded becomes active.
func (m *Manager) LoadCapabilities(ctx context.Context, info Info, a adapter.IRadioAdapter) error {
	if info.ID == "" {
		return fmt.Errorf("radio id is required")
	}
	if a == nil {
		return fmt.Errorf("radio %s: adapter is required", info.ID)
	}
	if info.Model == "" {
		if md, ok := a.(modeler); ok {
			info.Model = md.Model()
		} else {
			info.Model = "Unknown-Radio"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, m.timing.CapabilityLoadTimeout)
	defer cancel()

	profiles, profErr := a.SupportedFrequencyProfiles(ctx)
	state, stateErr := a.GetState(ctx)

	channels, err := m.channelTable(info, a, profiles)
	if err != nil {
		return fmt.Errorf("radio %s: %w", info.ID, err)
	}

	status := StatusOnline
	if profErr != nil || stateErr != nil {
		status = StatusOffline
		state = nil
	}

	r := &Radio{
		ID:     info.ID,
		Model:  info.Model,
		Band:   info.Band,
		Status: status,
		Capabilities: &Capabilities{
			MinPowerDbm: MinPowerDbm,
			MaxPowerDbm: MaxPowerDbm,
			Channels:    channels,
			Profiles:    profiles,
		},
		State: state,
	}
	if status == StatusOnline {
		r.LastSeen = m.now()
	}

	m.mu.Lock()
	m.store(r, a)
	m.mu.Unlock()

	if profErr != nil {
		return fmt.Errorf("failed to load capabilities for radio %s: %w", info.ID, profErr)
	}
	return nil
}

// store must be called with m.mu held.
func (m *Manager) store(r *Radio, a adapter.IRadioAdapter) {
	if _, exists := m.radios[r.ID]; !exists {
		m.order = append(m.order, r.ID)
	}
	m.radios[r.ID] = r
	if a != nil {
		m.adapters[r.ID] = a
	} else {
		delete(m.adapters, r.ID)
	}
	if m.activeRadioID == "" {
		m.activeRadioID = r.ID
	}
}

func (m *Manager) channelTable(info Info, a adapter.IRadioAdapter, profiles []adapter.FrequencyProfile) ([]adapter.Channel, error) {
	if len(info.Channels) > 0 {
		return checkChannels(info.Channels)
	}
	if planned, ok := m.bandPlan.Channels(info.Model, info.Band); ok {
		channels := make([]adapter.Channel, len(planned))
		for i, ch := range planned {
			channels[i] = adapter.Channel{Index: ch.Index, FrequencyMhz: ch.FrequencyMhz}
		}
		return checkChannels(channels)
	}
	if bp, ok := a.(adapter.BandPlanProvider); ok {
		if channels := bp.GetBandPlan(); len(channels) > 0 {
			return checkChannels(channels)
		}
	}

	var channels []adapter.Channel
	for _, profile := range profiles {
		for _, freq := range profile.Frequencies {
			channels = append(channels, adapter.Channel{Index: len(channels) + 1, FrequencyMhz: freq})
		}
	}
	return channels, nil
}

func checkChannels(channels []adapter.Channel) ([]adapter.Channel, error) {
	seen := make(map[int]bool, len(channels))
	for _, ch := range channels {
		if ch.Index < 1 {
			return nil, fmt.Errorf("channel index %d must be >= 1", ch.Index)
		}
		if seen[ch.Index] {
			return nil, fmt.Errorf("duplicate channel index %d", ch.Index)
		}
		seen[ch.Index] = true
	}
	return append([]adapter.Channel(nil), channels...), nil
}

// RefreshCapabilities reloads the channel table and profiles from the
// radio's adapter.
func (m *Manager) RefreshCapabilities(ctx context.Context, radioID string) error {
	a, err := m.Adapter(radioID)
	if err != nil {
		return err
	}
	r, err := m.GetRadio(radioID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timing.CapabilityLoadTimeout)
	defer cancel()

	profiles, err := a.SupportedFrequencyProfiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh capabilities for radio %s: %w", radioID, err)
	}
	channels, err := m.channelTable(Info{ID: r.ID, Model: r.Model, Band: r.Band}, a, profiles)
	if err != nil {
		return fmt.Errorf("radio %s: %w", radioID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.radios[radioID]; ok {
		cur.Capabilities = &Capabilities{
			MinPowerDbm: MinPowerDbm,
			MaxPowerDbm: MaxPowerDbm,
			Channels:    channels,
			Profiles:    profiles,
		}
	}
	return nil
}

func notFound(radioID string) error {
	return adapter.Newf(adapter.CodeNotFound, "radio %s not found", radioID)
}

// SetActive sets the active radio.
func (m *Manager) SetActive(radioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.radios[radioID]; !exists {
		return notFound(radioID)
	}
	m.activeRadioID = radioID
	return nil
}

// Active returns the active radio id, or "".
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeRadioID
}

// Adapter returns the adapter for radioID. Unknown radios are NOT_FOUND;
// a known radio without an adapter is UNAVAILABLE.
func (m *Manager) Adapter(radioID string) (adapter.IRadioAdapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.radios[radioID]; !exists {
		return nil, notFound(radioID)
	}
	a := m.adapters[radioID]
	if a == nil {
		return nil, adapter.Newf(adapter.CodeUnavailable, "no adapter for radio %s", radioID)
	}
	return a, nil
}

// ActiveAdapter returns the adapter of the active radio and its id.
func (m *Manager) ActiveAdapter() (adapter.IRadioAdapter, string, error) {
	id := m.Active()
	if id == "" {
		return nil, "", adapter.New(adapter.CodeUnavailable, "no active radio")
	}
	a, err := m.Adapter(id)
	return a, id, err
}

// Exists reports whether radioID is registered.
func (m *Manager) Exists(radioID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.radios[radioID]
	return ok
}

// IDs returns registered radio ids in registration order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...)
}

// List returns every radio in registration order.
func (m *Manager) List() *RadioList {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := make([]Radio, 0, len(m.order))
	for _, id := range m.order {
		items = append(items, m.radios[id].clone())
	}
	return &RadioList{ActiveRadioID: m.activeRadioID, Items: items}
}

// Snapshot summarizes the inventory for the telemetry ready event.
func (m *Manager) Snapshot() telemetry.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := telemetry.Snapshot{
		ActiveRadioID: m.activeRadioID,
		Radios:        make([]telemetry.RadioSummary, 0, len(m.order)),
	}
	for _, id := range m.order {
		r := m.radios[id]
		snap.Radios = append(snap.Radios, telemetry.RadioSummary{ID: r.ID, Model: r.Model, Status: string(r.Status)})
	}
	return snap
}

// GetRadio returns a copy of one radio.
func (m *Manager) GetRadio(radioID string) (*Radio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, exists := m.radios[radioID]
	if !exists {
		return nil, notFound(radioID)
	}
	c := r.clone()
	return &c, nil
}

// FrequencyFor looks up a channel index in the radio's table.
func (m *Manager) FrequencyFor(radioID string, index int) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.radios[radioID]
	if !ok || r.Capabilities == nil {
		return 0, false
	}
	for _, ch := range r.Capabilities.Channels {
		if ch.Index == index {
			return ch.FrequencyMhz, true
		}
	}
	return 0, false
}

// ChannelIndexFor returns the index mapped to frequencyMhz, or 0.
func (m *Manager) ChannelIndexFor(radioID string, frequencyMhz float64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.radios[radioID]
	if !ok || r.Capabilities == nil {
		return 0
	}
	for _, ch := range r.Capabilities.Channels {
		if ch.FrequencyMhz == frequencyMhz {
			return ch.Index
		}
	}
	return 0
}

// UpdateState records a fresh state read and marks the radio online.
func (m *Manager) UpdateState(radioID string, state *adapter.RadioState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.radios[radioID]
	if !exists {
		return notFound(radioID)
	}
	if state != nil {
		s := *state
		r.State = &s
	}
	r.LastSeen = m.now()
	r.Status = StatusOnline
	return nil
}

// UpdateStatus sets a radio's status and reports whether it changed.
func (m *Manager) UpdateStatus(radioID string, status Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, exists := m.radios[radioID]
	if !exists {
		return false, notFound(radioID)
	}
	changed := r.Status != status
	r.Status = status
	if status == StatusOnline {
		r.LastSeen = m.now()
	}
	return changed, nil
}

func (r *Radio) clone() Radio {
	c := *r
	if r.Capabilities != nil {
		caps := *r.Capabilities
		caps.Channels = append([]adapter.Channel(nil), r.Capabilities.Channels...)
		caps.Profiles = append([]adapter.FrequencyProfile(nil), r.Capabilities.Profiles...)
		c.Capabilities = &caps
	}
	if r.State != nil {
		s := *r.State
		c.State = &s
	}
	return c
}
