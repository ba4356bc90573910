package device

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aerospin-backend/internal/models"
)

func TestTransitionTable(t *testing.T) {
	allowed := map[models.DeviceState][]models.DeviceState{
		models.StateDisconnected: {models.StateReady},
		models.StateReady:        {models.StateWaiting},
		models.StateWaiting:      {models.StateRunning, models.StateReady},
		models.StateRunning:      {models.StateStopped, models.StateRestarting},
		models.StateStopped:      {models.StateReady, models.StateRestarting},
		models.StateRestarting:   {models.StateReady},
	}

	for _, from := range models.AllDeviceStates {
		for _, to := range models.AllDeviceStates {
			m := &Machine{state: from}
			prev, err := m.Transition(to)
			assert.Equal(t, from, prev)

			if contains(allowed[from], to) {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, m.State())
				continue
			}

			require.Error(t, err, "%s -> %s", from, to)
			assert.True(t, errors.Is(err, ErrInvalidTransition))
			var te *InvalidTransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, from, te.From)
			assert.Equal(t, to, te.To)
			assert.Equal(t, from, m.State(), "state must not change on %s -> %s", from, to)
		}
	}
}

func TestRandomWalkStaysOnListedEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := NewMachine()

	for i := 0; i < 5000; i++ {
		before := m.State()
		target := models.AllDeviceStates[rng.Intn(len(models.AllDeviceStates))]
		_, err := m.Transition(target)

		after := m.State()
		require.True(t, after.Valid())
		if err != nil {
			require.Equal(t, before, after)
		} else {
			require.True(t, CanTransition(before, after))
		}
	}
}

func TestAnnounceIsIdempotent(t *testing.T) {
	m := NewMachine()

	assert.True(t, m.Announce())
	assert.False(t, m.Announce())
	assert.Equal(t, models.StateReady, m.State())
}

func TestAnnounceOnlyLeavesIdleStates(t *testing.T) {
	cases := map[models.DeviceState]models.DeviceState{
		models.StateDisconnected: models.StateReady,
		models.StateStopped:      models.StateReady,
		models.StateRestarting:   models.StateReady,
		models.StateReady:        models.StateReady,
		models.StateWaiting:      models.StateWaiting,
		models.StateRunning:      models.StateRunning,
	}
	for from, want := range cases {
		t.Run(from.String(), func(t *testing.T) {
			m := &Machine{state: from}
			changed := m.Announce()
			assert.Equal(t, want, m.State())
			assert.Equal(t, from != want, changed)
		})
	}
}

func TestForceBypassesTable(t *testing.T) {
	m := &Machine{state: models.StateRunning}
	prev := m.Force(models.StateDisconnected)
	assert.Equal(t, models.StateRunning, prev)
	assert.Equal(t, models.StateDisconnected, m.State())
}

func TestAllowedFromReturnsCopy(t *testing.T) {
	got := AllowedFrom(models.StateWaiting)
	got[0] = models.StateStopped
	assert.True(t, CanTransition(models.StateWaiting, models.StateRunning))
}

func contains(states []models.DeviceState, s models.DeviceState) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}
