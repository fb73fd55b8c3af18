package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTiming(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TimingConfig)
		want   string
	}{
		{"zero heartbeat", func(c *TimingConfig) { c.HeartbeatInterval = 0 }, "heartbeat interval"},
		{"negative jitter", func(c *TimingConfig) { c.HeartbeatJitter = -time.Second }, "non-negative"},
		{"jitter over half", func(c *TimingConfig) { c.HeartbeatJitter = 8 * time.Second }, "exceeds 50%"},
		{"timeout below interval", func(c *TimingConfig) { c.HeartbeatTimeout = time.Second }, "heartbeat timeout"},
		{"backoff below one", func(c *TimingConfig) { c.ProbeOfflineBackoff = 0.5 }, "backoff"},
		{"recovering max below initial", func(c *TimingConfig) { c.ProbeRecoveringMax = time.Second }, "recovering max"},
		{"zero set power timeout", func(c *TimingConfig) { c.CommandTimeoutSetPower = 0 }, "setPower"},
		{"zero buffer", func(c *TimingConfig) { c.EventBufferSize = 0 }, "event buffer size"},
		{"zero queue", func(c *TimingConfig) { c.ClientQueueSize = 0 }, "client queue size"},
		{"zero shutdown grace", func(c *TimingConfig) { c.HubShutdownGrace = 0 }, "shutdown grace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timing := DefaultTiming()
			tt.mutate(&timing)
			err := ValidateTiming(&timing)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	base := DefaultTiming()
	require.NoError(t, ValidateTiming(&base))
	require.Error(t, ValidateTiming(nil))
}

func TestValidateRadios(t *testing.T) {
	cfg := Defaults()
	cfg.Radios = []RadioConfig{
		{ID: "a", Adapter: AdapterFake},
		{ID: "a", Adapter: AdapterFake},
	}
	require.ErrorContains(t, Validate(cfg), "duplicate radio id")

	cfg.Radios = []RadioConfig{{ID: "a", Adapter: "carrier-pigeon"}}
	require.ErrorContains(t, Validate(cfg), "unknown adapter")

	cfg.Radios = []RadioConfig{{ID: "a", Adapter: AdapterFake, Channels: []Channel{{1, 2412}, {1, 2417}}}}
	require.ErrorContains(t, Validate(cfg), "duplicate channel index")

	cfg.Radios = []RadioConfig{{ID: "a", Adapter: AdapterFake, Channels: []Channel{{0, 2412}}}}
	require.ErrorContains(t, Validate(cfg), ">= 1")
}

func TestValidateAuth(t *testing.T) {
	cfg := Defaults()
	cfg.Auth.Enabled = true
	cfg.Auth.Algorithm = "HS256"
	require.ErrorContains(t, Validate(cfg), "secret key")

	cfg.Auth.SecretKey = "s3cret"
	require.NoError(t, Validate(cfg))

	cfg.Auth.Algorithm = "RS256"
	require.ErrorContains(t, Validate(cfg), "RS256")

	cfg.Auth.Algorithm = "none"
	require.ErrorContains(t, Validate(cfg), "unsupported algorithm")
}

func TestBandPlanLookups(t *testing.T) {
	bp := &BandPlan{Models: map[string]map[string][]Channel{
		"Silvus-4400": {"default": {{1, 4420}, {2, 4430}}},
		"Silvus-2400": {"wide": {{1, 2412}}},
	}}

	channels, ok := bp.Channels("Silvus-4400", "default")
	require.True(t, ok)
	assert.Len(t, channels, 2)

	_, ok = bp.Channels("Silvus-4400", "narrow")
	assert.False(t, ok)

	_, err := bp.Frequency("Silvus-2400", "wide", 9)
	require.ErrorContains(t, err, "channel index 9")

	assert.Equal(t, []string{"Silvus-2400", "Silvus-4400"}, bp.ModelNames())

	var nilPlan *BandPlan
	_, ok = nilPlan.Channels("x", "y")
	assert.False(t, ok)
}
