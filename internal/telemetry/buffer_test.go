package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-control/controlplane/internal/config"
)

func ids(events []Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestEventBufferEvictsOldestFirst(t *testing.T) {
	b := NewEventBuffer(3)
	for i := 0; i < 5; i++ {
		_, err := b.Append(Event{Type: EventPowerChanged, Data: map[string]interface{}{"n": i}})
		require.NoError(t, err)
	}

	got := b.GetEventsAfter(0)
	assert.Equal(t, []int64{3, 4, 5}, ids(got))
	assert.Equal(t, 2, got[0].Data["n"])
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, 3, b.Capacity())
	assert.Equal(t, int64(5), b.LastID())
}

func TestEventBufferGetEventsAfter(t *testing.T) {
	b := NewEventBuffer(10)
	for i := 0; i < 6; i++ {
		_, _ = b.Append(Event{Type: EventState})
	}
	assert.Equal(t, []int64{5, 6}, ids(b.GetEventsAfter(4)))
	assert.Empty(t, b.GetEventsAfter(6))
	assert.Empty(t, b.GetEventsAfter(100))
}

func TestEventBufferPreassignedIDs(t *testing.T) {
	b := NewEventBuffer(10)

	e, err := b.Append(Event{ID: 5, Type: EventState})
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.ID)

	_, err = b.Append(Event{ID: 5, Type: EventState})
	assert.True(t, errors.Is(err, ErrStaleEventID))

	e, err = b.Append(Event{Type: EventState})
	require.NoError(t, err)
	assert.Equal(t, int64(6), e.ID)
	assert.Equal(t, 2, b.Size())
}

func TestEventBufferReplaysEverythingHeld(t *testing.T) {
	b := NewEventBuffer(config.DefaultTiming().EventBufferSize)
	for i := 0; i < 3; i++ {
		_, err := b.Append(Event{Type: EventState})
		require.NoError(t, err)
	}

	// replay is bounded by capacity alone, however long the radio stays quiet
	got := b.GetEventsAfter(0)
	assert.Len(t, got, b.Size())
	assert.Equal(t, []int64{1, 2, 3}, ids(got))
	assert.Equal(t, []int64{2, 3}, ids(b.GetEventsAfter(1)))
}
