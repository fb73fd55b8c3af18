package api

import (
	"net/http"

	"github.com/radio-control/controlplane/internal/command"
	"github.com/radio-control/controlplane/internal/radio"
	"github.com/radio-control/controlplane/internal/telemetry"
)

// OrchestratorPort is the command surface the gateway drives.
type OrchestratorPort = command.OrchestratorPort

// TelemetryPort streams telemetry to HTTP clients.
type TelemetryPort interface {
	ServeSSE(w http.ResponseWriter, r *http.Request)
	ServeWebSocket(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// RadioReadPort is the read side of the radio inventory.
type RadioReadPort interface {
	GetRadio(radioID string) (*radio.Radio, error)
	List() *radio.RadioList
	FrequencyFor(radioID string, index int) (float64, bool)
	ChannelIndexFor(radioID string, frequencyMhz float64) int
}

var (
	_ OrchestratorPort = (*command.Orchestrator)(nil)
	_ TelemetryPort    = (*telemetry.Hub)(nil)
	_ RadioReadPort    = (*radio.Manager)(nil)
)
