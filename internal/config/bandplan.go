package config

import (
	"fmt"
	"sort"
)

// BandPlan maps radio model → band → channel table. When a radio's model and
// band are present, the manager uses this table instead of deriving channels
// from the adapter's frequency profiles.
type BandPlan struct {
	Models map[string]map[string][]Channel `yaml:"models" json:"models"`
}

// Channels returns the channel table for a model and band.
func (bp *BandPlan) Channels(model, band string) ([]Channel, bool) {
	if bp == nil || bp.Models == nil {
		return nil, false
	}
	bands, ok := bp.Models[model]
	if !ok {
		return nil, false
	}
	channels, ok := bands[band]
	if !ok || len(channels) == 0 {
		return nil, false
	}
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out, true
}

// Frequency resolves a channel index within a model and band.
func (bp *BandPlan) Frequency(model, band string, index int) (float64, error) {
	channels, ok := bp.Channels(model, band)
	if !ok {
		return 0, fmt.Errorf("no band plan for model %s band %s", model, band)
	}
	for _, ch := range channels {
		if ch.Index == index {
			return ch.FrequencyMhz, nil
		}
	}
	return 0, fmt.Errorf("channel index %d not found in model %s band %s", index, model, band)
}

// ModelNames returns the configured models in sorted order.
func (bp *BandPlan) ModelNames() []string {
	if bp == nil {
		return nil
	}
	names := make([]string, 0, len(bp.Models))
	for name := range bp.Models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (bp *BandPlan) validate() error {
	if bp == nil {
		return nil
	}
	for model, bands := range bp.Models {
		for band, channels := range bands {
			if err := validateChannels(channels); err != nil {
				return fmt.Errorf("band plan %s/%s: %w", model, band, err)
			}
		}
	}
	return nil
}

func validateChannels(channels []Channel) error {
	seen := make(map[int]struct{}, len(channels))
	for _, ch := range channels {
		if ch.Index < 1 {
			return fmt.Errorf("channel index must be >= 1, got %d", ch.Index)
		}
		if ch.FrequencyMhz <= 0 {
			return fmt.Errorf("channel %d frequency must be positive, got %.3f", ch.Index, ch.FrequencyMhz)
		}
		if _, dup := seen[ch.Index]; dup {
			return fmt.Errorf("duplicate channel index %d", ch.Index)
		}
		seen[ch.Index] = struct{}{}
	}
	return nil
}
