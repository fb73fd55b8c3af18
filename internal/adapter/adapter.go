package adapter

import (
	"context"
)

// RadioState represents the current state of a radio.
type RadioState struct {
	PowerDbm     float64 `json:"powerDbm"`
	FrequencyMhz float64 `json:"frequencyMhz"`
}

// Channel maps a 1-based UI channel index to a physical frequency.
type Channel struct {
	Index        int     `json:"index"`
	FrequencyMhz float64 `json:"frequencyMhz"`
}

// FrequencyProfile represents a supported frequency profile.
type FrequencyProfile struct {
	Frequencies []float64 `json:"frequencies"`
	Bandwidth   float64   `json:"bandwidth"`
	AntennaMask int       `json:"antenna_mask"`
}

// IRadioAdapter defines the stable southbound adapter contract.
// Implementations must be safe for concurrent use.
type IRadioAdapter interface {
	// GetState returns the current radio state.
	GetState(ctx context.Context) (*RadioState, error)

	// SetPower sets the transmit power in dBm.
	SetPower(ctx context.Context, dBm float64) error

	// SetFrequency sets the transmit frequency in MHz.
	// On real hardware this triggers a soft boot of the radio services.
	SetFrequency(ctx context.Context, frequencyMhz float64) error

	// SupportedFrequencyProfiles returns allowed frequency/bandwidth/antenna combinations.
	SupportedFrequencyProfiles(ctx context.Context) ([]FrequencyProfile, error)
}

// BandPlanProvider is implemented by adapters that know their own
// channel table.
type BandPlanProvider interface {
	GetBandPlan() []Channel
}

// VendorIdentifier is implemented by adapters whose failures should be
// classified with a specific vendor table.
type VendorIdentifier interface {
	VendorID() string
}

// VendorOf returns the vendor table name for a, falling back to "generic".
func VendorOf(a IRadioAdapter) string {
	if v, ok := a.(VendorIdentifier); ok && v.VendorID() != "" {
		return v.VendorID()
	}
	return VendorGeneric
}
