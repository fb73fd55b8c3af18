package command

import (
	"context"

	"github.com/radio-control/controlplane/internal/adapter"
	"github.com/radio-control/controlplane/internal/telemetry"
)

// OrchestratorPort is what the API needs from the orchestrator.
type OrchestratorPort interface {
	SelectRadio(ctx context.Context, radioID string) error
	GetState(ctx context.Context, radioID string) (*adapter.RadioState, error)
	SetPower(ctx context.Context, radioID string, powerDbm float64) error
	SetChannel(ctx context.Context, radioID string, frequencyMhz float64) error
	SetChannelByIndex(ctx context.Context, radioID string, channelIndex int) error
}

// Publisher receives domain and fault events. *telemetry.Hub satisfies it.
type Publisher interface {
	PublishRadio(radioID string, event telemetry.Event) error
}

var (
	_ OrchestratorPort = (*Orchestrator)(nil)
	_ Publisher        = (*telemetry.Hub)(nil)
)

// Action verbs recorded in audit entries. They double as timeout classes.
const (
	ActionSetPower    = "setPower"
	ActionSetChannel  = "setChannel"
	ActionSelectRadio = "selectRadio"
	ActionGetState    = "getState"
)
