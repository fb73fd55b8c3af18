package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate checks a fully merged configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := ValidateTiming(&cfg.Timing); err != nil {
		return err
	}
	if cfg.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Auth.Enabled {
		if err := validateAuth(&cfg.Auth); err != nil {
			return fmt.Errorf("auth validation failed: %w", err)
		}
	}
	if err := validateRadios(cfg.Radios); err != nil {
		return fmt.Errorf("radio validation failed: %w", err)
	}
	if err := cfg.BandPlan.validate(); err != nil {
		return err
	}
	return nil
}

// ValidateTiming enforces the timing rules shared by every component.
func ValidateTiming(t *TimingConfig) error {
	if t == nil {
		return errors.New("timing config cannot be nil")
	}

	// Heartbeat
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}
	if t.HeartbeatJitter < 0 {
		return fmt.Errorf("heartbeat jitter must be non-negative, got %v", t.HeartbeatJitter)
	}
	if t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}
	if t.HeartbeatTimeout < t.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout %v must be >= interval %v", t.HeartbeatTimeout, t.HeartbeatInterval)
	}

	// Probes
	if t.ProbeNormalInterval <= 0 {
		return fmt.Errorf("probe normal interval must be positive, got %v", t.ProbeNormalInterval)
	}
	if t.ProbeRecoveringInitial <= 0 || t.ProbeOfflineInitial <= 0 {
		return errors.New("probe initial intervals must be positive")
	}
	if t.ProbeRecoveringBackoff < 1.0 || t.ProbeOfflineBackoff < 1.0 {
		return errors.New("probe backoff factors must be >= 1.0")
	}
	if t.ProbeRecoveringMax < t.ProbeRecoveringInitial {
		return fmt.Errorf("probe recovering max %v must be >= initial %v", t.ProbeRecoveringMax, t.ProbeRecoveringInitial)
	}
	if t.ProbeOfflineMax < t.ProbeOfflineInitial {
		return fmt.Errorf("probe offline max %v must be >= initial %v", t.ProbeOfflineMax, t.ProbeOfflineInitial)
	}

	// Commands
	for name, d := range map[string]time.Duration{
		"setPower":    t.CommandTimeoutSetPower,
		"setChannel":  t.CommandTimeoutSetChannel,
		"selectRadio": t.CommandTimeoutSelectRadio,
		"getState":    t.CommandTimeoutGetState,
		"capability":  t.CapabilityLoadTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("command timeout %s must be positive", name)
		}
	}

	// Buffers
	if t.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", t.EventBufferSize)
	}
	if t.ClientQueueSize <= 0 {
		return fmt.Errorf("client queue size must be positive, got %d", t.ClientQueueSize)
	}
	if t.HubShutdownGrace <= 0 {
		return fmt.Errorf("hub shutdown grace must be positive, got %v", t.HubShutdownGrace)
	}

	return nil
}

func validateAuth(a *AuthConfig) error {
	switch a.Algorithm {
	case "HS256":
		if a.SecretKey == "" {
			return errors.New("HS256 requires a secret key")
		}
	case "RS256":
		if a.PublicKeyPEM == "" && a.JWKSURL == "" {
			return errors.New("RS256 requires a public key PEM or a JWKS URL")
		}
	default:
		return fmt.Errorf("unsupported algorithm %q", a.Algorithm)
	}
	return nil
}

func validateRadios(radios []RadioConfig) error {
	seen := make(map[string]struct{}, len(radios))
	for _, r := range radios {
		if r.ID == "" {
			return errors.New("radio id is required")
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate radio id %s", r.ID)
		}
		seen[r.ID] = struct{}{}
		switch r.Adapter {
		case AdapterFake, AdapterSilvusMock:
		default:
			return fmt.Errorf("radio %s: unknown adapter %q", r.ID, r.Adapter)
		}
		if err := validateChannels(r.Channels); err != nil {
			return fmt.Errorf("radio %s: %w", r.ID, err)
		}
	}
	return nil
}
