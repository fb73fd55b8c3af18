// Package config holds the runtime configuration of the radio control plane.
//
// Configuration is layered: Defaults, then an optional YAML file, then RCC_*
// environment variables, then Validate. Every duration used by the telemetry
// hub, the command orchestrator and the health prober is read from a
// TimingConfig produced here; those components carry no timing literals of
// their own.
package config
