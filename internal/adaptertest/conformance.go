// Package adaptertest provides the vendor-agnostic conformance suite every
// radio adapter must pass.
package adaptertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/controlplane/internal/adapter"
)

// Capabilities describes what the adapter under test accepts.
type Capabilities struct {
	MinPowerDbm      float64
	MaxPowerDbm      float64
	ValidFrequencies []float64
}

// Factory returns a fresh adapter in its initial state.
type Factory func() adapter.IRadioAdapter

// Run executes the conformance suite as subtests of t.
func Run(t *testing.T, newAdapter Factory, caps Capabilities) {
	t.Helper()
	require.NotEmpty(t, caps.ValidFrequencies, "conformance needs at least one valid frequency")

	t.Run("GetState", func(t *testing.T) {
		state, err := newAdapter().GetState(context.Background())
		require.NoError(t, err)
		require.NotNil(t, state)
	})

	t.Run("SetPowerValid", func(t *testing.T) {
		a := newAdapter()
		mid := float64(int((caps.MinPowerDbm + caps.MaxPowerDbm) / 2))
		for _, p := range []float64{caps.MinPowerDbm, caps.MaxPowerDbm, mid} {
			require.NoError(t, a.SetPower(context.Background(), p), "SetPower(%v)", p)
			state, err := a.GetState(context.Background())
			require.NoError(t, err)
			assert.Equal(t, p, state.PowerDbm)
		}
	})

	t.Run("SetPowerInvalid", func(t *testing.T) {
		a := newAdapter()
		for _, p := range []float64{caps.MinPowerDbm - 1, caps.MaxPowerDbm + 1, 100} {
			assertNormalized(t, a, a.SetPower(context.Background(), p), adapter.CodeInvalidRange, fmt.Sprintf("SetPower(%v)", p))
		}
	})

	t.Run("SetFrequencyValid", func(t *testing.T) {
		a := newAdapter()
		for _, f := range caps.ValidFrequencies {
			require.NoError(t, a.SetFrequency(context.Background(), f), "SetFrequency(%v)", f)
			state, err := a.GetState(context.Background())
			require.NoError(t, err)
			assert.Equal(t, f, state.FrequencyMhz)
		}
	})

	t.Run("SetFrequencyInvalid", func(t *testing.T) {
		a := newAdapter()
		for _, f := range []float64{0, -100, 100000} {
			assertNormalized(t, a, a.SetFrequency(context.Background(), f), adapter.CodeInvalidRange, fmt.Sprintf("SetFrequency(%v)", f))
		}
	})

	t.Run("Profiles", func(t *testing.T) {
		profiles, err := newAdapter().SupportedFrequencyProfiles(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, profiles)
		assert.NotEmpty(t, profiles[0].Frequencies)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newAdapter().GetState(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled), "cancellation must stay visible: %v", err)
	})

	t.Run("Idempotent", func(t *testing.T) {
		a := newAdapter()
		require.NoError(t, a.SetPower(context.Background(), caps.MaxPowerDbm))
		require.NoError(t, a.SetPower(context.Background(), caps.MaxPowerDbm))
	})

	t.Run("NoSleeps", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		start := time.Now()
		_, err := newAdapter().GetState(ctx)
		require.NoError(t, err)
		assert.Less(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("ConcurrentUse", func(t *testing.T) {
		a := newAdapter()
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ctx := context.Background()
				_ = a.SetPower(ctx, caps.MinPowerDbm+float64(i%2))
				_ = a.SetFrequency(ctx, caps.ValidFrequencies[i%len(caps.ValidFrequencies)])
				_, _ = a.GetState(ctx)
			}(i)
		}
		wg.Wait()
	})
}

func assertNormalized(t *testing.T, a adapter.IRadioAdapter, err error, want adapter.Code, call string) {
	t.Helper()
	require.Error(t, err, "%s should fail", call)
	assert.Equal(t, want, adapter.CodeOf(adapter.NormalizeFor(adapter.VendorOf(a), err, nil)), "%s: %v", call, err)
}
