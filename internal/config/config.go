package config

import "time"

// Config is the root configuration of the rcc process.
type Config struct {
	Server   ServerConfig
	Timing   TimingConfig
	Logging  LoggingConfig
	Audit    AuditConfig
	Auth     AuthConfig
	Radios   []RadioConfig
	BandPlan *BandPlan
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig configures the service logger.
type LoggingConfig struct {
	Level      string
	File       string
	Console    bool
	Structured bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AuditConfig configures the audit trail sinks. An empty File disables the
// JSONL sink and an empty SQLitePath disables the SQLite sink.
type AuditConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	SQLitePath string
}

// AuthConfig configures bearer-token verification for the gateway.
type AuthConfig struct {
	Enabled             bool
	Algorithm           string
	SecretKey           string
	PublicKeyPEM        string
	JWKSURL             string
	JWKSRefreshInterval time.Duration
	JWKSCacheTimeout    time.Duration
	JWKSFetchTimeout    time.Duration
}

// RadioConfig registers one radio with the manager at startup.
type RadioConfig struct {
	ID       string
	Model    string
	Band     string
	Adapter  string
	Channels []Channel
}

// Channel is one configured index → frequency entry.
type Channel struct {
	Index        int     `yaml:"index" json:"index"`
	FrequencyMhz float64 `yaml:"frequencyMhz" json:"frequencyMhz"`
}

// Adapter kinds understood by cmd/rcc.
const (
	AdapterFake       = "fake"
	AdapterSilvusMock = "silvusmock"
)

// Defaults returns a complete configuration usable without any file.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // SSE responses are long-lived
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Timing: DefaultTiming(),
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			File:       "logs/audit.jsonl",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 90,
			Compress:   true,
		},
		Auth: AuthConfig{
			Algorithm:           "HS256",
			JWKSRefreshInterval: 5 * time.Minute,
			JWKSCacheTimeout:    time.Hour,
			JWKSFetchTimeout:    10 * time.Second,
		},
		Radios: []RadioConfig{
			{ID: "silvus-01", Model: "SilvusMock-Test", Band: "default", Adapter: AdapterSilvusMock},
		},
	}
}
