package config

import "time"

// TimingConfig groups every timing and sizing knob of the control plane.
type TimingConfig struct {
	// Telemetry heartbeat
	HeartbeatInterval time.Duration
	HeartbeatJitter   time.Duration
	HeartbeatTimeout  time.Duration

	// Health probe cadences
	ProbeNormalInterval    time.Duration
	ProbeRecoveringInitial time.Duration
	ProbeRecoveringBackoff float64
	ProbeRecoveringMax     time.Duration
	ProbeOfflineInitial    time.Duration
	ProbeOfflineBackoff    float64
	ProbeOfflineMax        time.Duration

	// Command timeout classes
	CommandTimeoutSetPower    time.Duration
	CommandTimeoutSetChannel  time.Duration
	CommandTimeoutSelectRadio time.Duration
	CommandTimeoutGetState    time.Duration

	// CapabilityLoadTimeout bounds the profile/state reads done when a radio
	// is registered with the manager.
	CapabilityLoadTimeout time.Duration

	// Event buffering and fan-out
	EventBufferSize int
	ClientQueueSize int

	// HubShutdownGrace is how long Hub.Stop waits for delivery goroutines
	// stuck in a transport write before giving up on them.
	HubShutdownGrace time.Duration
}

// DefaultTiming returns the baseline timing values.
func DefaultTiming() TimingConfig {
	return TimingConfig{
		HeartbeatInterval: 15 * time.Second,
		HeartbeatJitter:   2 * time.Second,
		HeartbeatTimeout:  45 * time.Second,

		ProbeNormalInterval:    30 * time.Second,
		ProbeRecoveringInitial: 5 * time.Second,
		ProbeRecoveringBackoff: 1.5,
		ProbeRecoveringMax:     15 * time.Second,
		ProbeOfflineInitial:    10 * time.Second,
		ProbeOfflineBackoff:    2.0,
		ProbeOfflineMax:        300 * time.Second,

		CommandTimeoutSetPower:    10 * time.Second,
		CommandTimeoutSetChannel:  30 * time.Second,
		CommandTimeoutSelectRadio: 5 * time.Second,
		CommandTimeoutGetState:    5 * time.Second,

		CapabilityLoadTimeout: 5 * time.Second,

		EventBufferSize: 50,
		ClientQueueSize: 100,

		HubShutdownGrace: 5 * time.Second,
	}
}

// CommandTimeout returns the timeout class for an orchestrator action verb.
// Unknown verbs fall back to the getState class, the shortest read timeout.
func (t *TimingConfig) CommandTimeout(action string) time.Duration {
	switch action {
	case "setPower":
		return t.CommandTimeoutSetPower
	case "setChannel":
		return t.CommandTimeoutSetChannel
	case "selectRadio":
		return t.CommandTimeoutSelectRadio
	default:
		return t.CommandTimeoutGetState
	}
}
