package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// EnvConfigPath names the variable consulted when Load is called with an
// empty path.
const EnvConfigPath = "RCC_CONFIG"

// Load merges Defaults, the YAML file at path (optional), and RCC_*
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Duration is a YAML-friendly duration written as a Go duration string
// ("15s", "250ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// fileConfig mirrors Config with optional fields so that a partial file only
// overrides what it names.
type fileConfig struct {
	Server struct {
		Addr            *string   `yaml:"addr"`
		ReadTimeout     *Duration `yaml:"readTimeout"`
		WriteTimeout    *Duration `yaml:"writeTimeout"`
		IdleTimeout     *Duration `yaml:"idleTimeout"`
		ShutdownTimeout *Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Timing struct {
		HeartbeatInterval         *Duration `yaml:"heartbeatInterval"`
		HeartbeatJitter           *Duration `yaml:"heartbeatJitter"`
		HeartbeatTimeout          *Duration `yaml:"heartbeatTimeout"`
		ProbeNormalInterval       *Duration `yaml:"probeNormalInterval"`
		ProbeRecoveringInitial    *Duration `yaml:"probeRecoveringInitial"`
		ProbeRecoveringBackoff    *float64  `yaml:"probeRecoveringBackoff"`
		ProbeRecoveringMax        *Duration `yaml:"probeRecoveringMax"`
		ProbeOfflineInitial       *Duration `yaml:"probeOfflineInitial"`
		ProbeOfflineBackoff       *float64  `yaml:"probeOfflineBackoff"`
		ProbeOfflineMax           *Duration `yaml:"probeOfflineMax"`
		CommandTimeoutSetPower    *Duration `yaml:"commandTimeoutSetPower"`
		CommandTimeoutSetChannel  *Duration `yaml:"commandTimeoutSetChannel"`
		CommandTimeoutSelectRadio *Duration `yaml:"commandTimeoutSelectRadio"`
		CommandTimeoutGetState    *Duration `yaml:"commandTimeoutGetState"`
		CapabilityLoadTimeout     *Duration `yaml:"capabilityLoadTimeout"`
		EventBufferSize           *int      `yaml:"eventBufferSize"`
		ClientQueueSize           *int      `yaml:"clientQueueSize"`
		HubShutdownGrace          *Duration `yaml:"hubShutdownGrace"`
	} `yaml:"timing"`

	Logging struct {
		Level      *string `yaml:"level"`
		File       *string `yaml:"file"`
		Console    *bool   `yaml:"console"`
		Structured *bool   `yaml:"structured"`
		MaxSizeMB  *int    `yaml:"maxSizeMb"`
		MaxBackups *int    `yaml:"maxBackups"`
		MaxAgeDays *int    `yaml:"maxAgeDays"`
		Compress   *bool   `yaml:"compress"`
	} `yaml:"logging"`

	Audit struct {
		File       *string `yaml:"file"`
		MaxSizeMB  *int    `yaml:"maxSizeMb"`
		MaxBackups *int    `yaml:"maxBackups"`
		MaxAgeDays *int    `yaml:"maxAgeDays"`
		Compress   *bool   `yaml:"compress"`
		SQLitePath *string `yaml:"sqlitePath"`
	} `yaml:"audit"`

	Auth struct {
		Enabled             *bool     `yaml:"enabled"`
		Algorithm           *string   `yaml:"algorithm"`
		SecretKey           *string   `yaml:"secretKey"`
		PublicKeyPEM        *string   `yaml:"publicKeyPem"`
		JWKSURL             *string   `yaml:"jwksUrl"`
		JWKSRefreshInterval *Duration `yaml:"jwksRefreshInterval"`
		JWKSCacheTimeout    *Duration `yaml:"jwksCacheTimeout"`
		JWKSFetchTimeout    *Duration `yaml:"jwksFetchTimeout"`
	} `yaml:"auth"`

	Radios []struct {
		ID       string    `yaml:"id"`
		Model    string    `yaml:"model"`
		Band     string    `yaml:"band"`
		Adapter  string    `yaml:"adapter"`
		Channels []Channel `yaml:"channels"`
	} `yaml:"radios"`

	BandPlan *BandPlan `yaml:"bandPlan"`
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return mergeYAML(cfg, data)
}

func mergeYAML(cfg *Config, data []byte) error {
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	setString(&cfg.Server.Addr, fc.Server.Addr)
	setDuration(&cfg.Server.ReadTimeout, fc.Server.ReadTimeout)
	setDuration(&cfg.Server.WriteTimeout, fc.Server.WriteTimeout)
	setDuration(&cfg.Server.IdleTimeout, fc.Server.IdleTimeout)
	setDuration(&cfg.Server.ShutdownTimeout, fc.Server.ShutdownTimeout)

	t := &cfg.Timing
	ft := &fc.Timing
	setDuration(&t.HeartbeatInterval, ft.HeartbeatInterval)
	setDuration(&t.HeartbeatJitter, ft.HeartbeatJitter)
	setDuration(&t.HeartbeatTimeout, ft.HeartbeatTimeout)
	setDuration(&t.ProbeNormalInterval, ft.ProbeNormalInterval)
	setDuration(&t.ProbeRecoveringInitial, ft.ProbeRecoveringInitial)
	setFloat(&t.ProbeRecoveringBackoff, ft.ProbeRecoveringBackoff)
	setDuration(&t.ProbeRecoveringMax, ft.ProbeRecoveringMax)
	setDuration(&t.ProbeOfflineInitial, ft.ProbeOfflineInitial)
	setFloat(&t.ProbeOfflineBackoff, ft.ProbeOfflineBackoff)
	setDuration(&t.ProbeOfflineMax, ft.ProbeOfflineMax)
	setDuration(&t.CommandTimeoutSetPower, ft.CommandTimeoutSetPower)
	setDuration(&t.CommandTimeoutSetChannel, ft.CommandTimeoutSetChannel)
	setDuration(&t.CommandTimeoutSelectRadio, ft.CommandTimeoutSelectRadio)
	setDuration(&t.CommandTimeoutGetState, ft.CommandTimeoutGetState)
	setDuration(&t.CapabilityLoadTimeout, ft.CapabilityLoadTimeout)
	setInt(&t.EventBufferSize, ft.EventBufferSize)
	setInt(&t.ClientQueueSize, ft.ClientQueueSize)
	setDuration(&t.HubShutdownGrace, ft.HubShutdownGrace)

	l := &cfg.Logging
	setString(&l.Level, fc.Logging.Level)
	setString(&l.File, fc.Logging.File)
	setBool(&l.Console, fc.Logging.Console)
	setBool(&l.Structured, fc.Logging.Structured)
	setInt(&l.MaxSizeMB, fc.Logging.MaxSizeMB)
	setInt(&l.MaxBackups, fc.Logging.MaxBackups)
	setInt(&l.MaxAgeDays, fc.Logging.MaxAgeDays)
	setBool(&l.Compress, fc.Logging.Compress)

	a := &cfg.Audit
	setString(&a.File, fc.Audit.File)
	setInt(&a.MaxSizeMB, fc.Audit.MaxSizeMB)
	setInt(&a.MaxBackups, fc.Audit.MaxBackups)
	setInt(&a.MaxAgeDays, fc.Audit.MaxAgeDays)
	setBool(&a.Compress, fc.Audit.Compress)
	setString(&a.SQLitePath, fc.Audit.SQLitePath)

	au := &cfg.Auth
	setBool(&au.Enabled, fc.Auth.Enabled)
	setString(&au.Algorithm, fc.Auth.Algorithm)
	setString(&au.SecretKey, fc.Auth.SecretKey)
	setString(&au.PublicKeyPEM, fc.Auth.PublicKeyPEM)
	setString(&au.JWKSURL, fc.Auth.JWKSURL)
	setDuration(&au.JWKSRefreshInterval, fc.Auth.JWKSRefreshInterval)
	setDuration(&au.JWKSCacheTimeout, fc.Auth.JWKSCacheTimeout)
	setDuration(&au.JWKSFetchTimeout, fc.Auth.JWKSFetchTimeout)

	// A radios list in the file replaces the default inventory entirely.
	if fc.Radios != nil {
		cfg.Radios = make([]RadioConfig, 0, len(fc.Radios))
		for _, r := range fc.Radios {
			rc := RadioConfig{ID: r.ID, Model: r.Model, Band: r.Band, Adapter: r.Adapter, Channels: r.Channels}
			if rc.Band == "" {
				rc.Band = "default"
			}
			if rc.Adapter == "" {
				rc.Adapter = AdapterFake
			}
			cfg.Radios = append(cfg.Radios, rc)
		}
	}
	if fc.BandPlan != nil {
		cfg.BandPlan = fc.BandPlan
	}
	return nil
}

// envOverride binds one RCC_* variable to a config field.
type envOverride struct {
	name  string
	apply func(string) error
}

func durationVar(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func intVar(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func floatVar(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func boolVar(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func stringVar(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func envOverrides(cfg *Config) []envOverride {
	t := &cfg.Timing
	return []envOverride{
		{"RCC_ADDR", stringVar(&cfg.Server.Addr)},
		{"RCC_LOG_LEVEL", stringVar(&cfg.Logging.Level)},
		{"RCC_LOG_FILE", stringVar(&cfg.Logging.File)},
		{"RCC_AUDIT_FILE", stringVar(&cfg.Audit.File)},
		{"RCC_AUDIT_SQLITE", stringVar(&cfg.Audit.SQLitePath)},
		{"RCC_AUTH_ENABLED", boolVar(&cfg.Auth.Enabled)},
		{"RCC_AUTH_ALGORITHM", stringVar(&cfg.Auth.Algorithm)},
		{"RCC_AUTH_SECRET", stringVar(&cfg.Auth.SecretKey)},
		{"RCC_AUTH_JWKS_URL", stringVar(&cfg.Auth.JWKSURL)},

		{"RCC_TIMING_HEARTBEAT_INTERVAL", durationVar(&t.HeartbeatInterval)},
		{"RCC_TIMING_HEARTBEAT_JITTER", durationVar(&t.HeartbeatJitter)},
		{"RCC_TIMING_HEARTBEAT_TIMEOUT", durationVar(&t.HeartbeatTimeout)},
		{"RCC_TIMING_PROBE_NORMAL_INTERVAL", durationVar(&t.ProbeNormalInterval)},
		{"RCC_TIMING_PROBE_RECOVERING_INITIAL", durationVar(&t.ProbeRecoveringInitial)},
		{"RCC_TIMING_PROBE_RECOVERING_BACKOFF", floatVar(&t.ProbeRecoveringBackoff)},
		{"RCC_TIMING_PROBE_RECOVERING_MAX", durationVar(&t.ProbeRecoveringMax)},
		{"RCC_TIMING_PROBE_OFFLINE_INITIAL", durationVar(&t.ProbeOfflineInitial)},
		{"RCC_TIMING_PROBE_OFFLINE_BACKOFF", floatVar(&t.ProbeOfflineBackoff)},
		{"RCC_TIMING_PROBE_OFFLINE_MAX", durationVar(&t.ProbeOfflineMax)},
		{"RCC_TIMING_COMMAND_SET_POWER", durationVar(&t.CommandTimeoutSetPower)},
		{"RCC_TIMING_COMMAND_SET_CHANNEL", durationVar(&t.CommandTimeoutSetChannel)},
		{"RCC_TIMING_COMMAND_SELECT_RADIO", durationVar(&t.CommandTimeoutSelectRadio)},
		{"RCC_TIMING_COMMAND_GET_STATE", durationVar(&t.CommandTimeoutGetState)},
		{"RCC_TIMING_CAPABILITY_LOAD", durationVar(&t.CapabilityLoadTimeout)},
		{"RCC_TIMING_EVENT_BUFFER_SIZE", intVar(&t.EventBufferSize)},
		{"RCC_TIMING_CLIENT_QUEUE_SIZE", intVar(&t.ClientQueueSize)},
		{"RCC_TIMING_HUB_SHUTDOWN_GRACE", durationVar(&t.HubShutdownGrace)},
	}
}

func applyEnvOverrides(cfg *Config) error {
	for _, o := range envOverrides(cfg) {
		val, ok := os.LookupEnv(o.name)
		if !ok || strings.TrimSpace(val) == "" {
			continue
		}
		if err := o.apply(strings.TrimSpace(val)); err != nil {
			return fmt.Errorf("%s=%q: %w", o.name, val, err)
		}
	}
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = time.Duration(*src)
	}
}
