package handshake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/device"
	"aerospin-backend/internal/models"
)

func newReadyCoordinator(t *testing.T) (*Coordinator, *device.Machine, *clock.Fake) {
	t.Helper()
	m := device.NewMachine()
	require.True(t, m.Announce())
	fake := clock.NewFake(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	return NewCoordinator(m, fake, DefaultTimeout), m, fake
}

func intPtr(v int) *int { return &v }

func TestCodeModeExpiresLazily(t *testing.T) {
	c, m, fake := newReadyCoordinator(t)

	_, err := c.Setup(60, intPtr(150))
	require.NoError(t, err)
	assert.Equal(t, models.StateWaiting, m.State())

	res := c.CheckAuth()
	assert.Equal(t, models.AuthStatusCode, res.Status)
	require.NotNil(t, res.Code)
	require.NotNil(t, res.Runtime)
	assert.Equal(t, 150, *res.Code)
	assert.Equal(t, 60, *res.Runtime)

	fake.Advance(6 * time.Minute)

	res = c.CheckAuth()
	assert.Equal(t, models.AuthStatusWaiting, res.Status)
	assert.Nil(t, res.Code)
	assert.True(t, c.HasSession(), "expiry must not clear the stored session")
	assert.Nil(t, c.View())
	assert.ErrorIs(t, c.Authorize(), ErrNoAuthSession)
}

func TestSetupValidation(t *testing.T) {
	tests := []struct {
		name    string
		runtime int
		code    *int
		wantErr error
	}{
		{"code too small", 30, intPtr(99), ErrInvalidAuthCode},
		{"code too large", 30, intPtr(1000), ErrInvalidAuthCode},
		{"zero runtime", 0, intPtr(500), ErrInvalidRuntime},
		{"negative runtime confirm mode", -5, nil, ErrInvalidRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m, _ := newReadyCoordinator(t)
			_, err := c.Setup(tt.runtime, tt.code)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, models.StateReady, m.State())
			assert.False(t, c.HasSession())
		})
	}
}

func TestSetupBoundaryCodes(t *testing.T) {
	for _, code := range []int{MinCode, MaxCode} {
		c, _, _ := newReadyCoordinator(t)
		s, err := c.Setup(10, intPtr(code))
		require.NoError(t, err)
		assert.Equal(t, models.AuthModeCode, s.Mode)
	}
}

func TestSetupRequiresReady(t *testing.T) {
	m := device.NewMachine()
	c := NewCoordinator(m, clock.NewFake(time.Now()), 0)

	_, err := c.Setup(30, intPtr(200))
	assert.ErrorIs(t, err, device.ErrInvalidTransition)
	assert.Equal(t, models.StateDisconnected, m.State())
	assert.False(t, c.HasSession())
}

func TestConfirmModeAccept(t *testing.T) {
	c, m, _ := newReadyCoordinator(t)

	_, err := c.Setup(30, nil)
	require.NoError(t, err)
	assert.Equal(t, models.AuthStatusPending, c.CheckAuth().Status)
	assert.ErrorIs(t, c.Authorize(), ErrConfirmationPending)

	state, err := c.Confirm(true)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, state)
	assert.Equal(t, models.StateRunning, m.State())

	view := c.View()
	require.NotNil(t, view)
	assert.False(t, view.Pending)
	assert.Equal(t, models.AuthStatusWaiting, c.CheckAuth().Status)
}

func TestConfirmModeReject(t *testing.T) {
	c, m, _ := newReadyCoordinator(t)

	_, err := c.Setup(30, nil)
	require.NoError(t, err)

	state, err := c.Confirm(false)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state)
	assert.Equal(t, models.StateReady, m.State())
	assert.False(t, c.HasSession())
}

func TestConfirmWithoutPending(t *testing.T) {
	c, m, fake := newReadyCoordinator(t)

	_, err := c.Confirm(true)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation)

	_, err = c.Setup(30, intPtr(321))
	require.NoError(t, err)
	_, err = c.Confirm(true)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation, "code mode has nothing to confirm")

	c.Clear()
	m.Force(models.StateReady)
	_, err = c.Setup(30, nil)
	require.NoError(t, err)
	fake.Advance(DefaultTimeout)
	_, err = c.Confirm(true)
	assert.ErrorIs(t, err, ErrNoPendingConfirmation, "expired confirmations cannot be accepted")
	assert.Equal(t, models.StateWaiting, m.State())
}

func TestSetupAfterExpiryReleasesWaiting(t *testing.T) {
	c, m, fake := newReadyCoordinator(t)

	_, err := c.Setup(60, intPtr(150))
	require.NoError(t, err)
	fake.Advance(6 * time.Minute)

	// Invalid parameters still leave the expired session and state alone
	_, err = c.Setup(0, intPtr(150))
	require.ErrorIs(t, err, ErrInvalidRuntime)
	assert.Equal(t, models.StateWaiting, m.State())
	assert.True(t, c.HasSession())

	s, err := c.Setup(90, intPtr(420))
	require.NoError(t, err)
	assert.Equal(t, models.StateWaiting, m.State())
	assert.Equal(t, 420, *s.Code)

	res := c.CheckAuth()
	assert.Equal(t, models.AuthStatusCode, res.Status)
	assert.Equal(t, 420, *res.Code)
	assert.Equal(t, 90, *res.Runtime)
}

func TestSetupWhileLiveSessionWaitingIsRejected(t *testing.T) {
	c, m, _ := newReadyCoordinator(t)

	_, err := c.Setup(60, intPtr(150))
	require.NoError(t, err)
	_, err = c.Setup(60, intPtr(151))
	assert.ErrorIs(t, err, device.ErrInvalidTransition)
	assert.Equal(t, models.StateWaiting, m.State())
	assert.Equal(t, 150, *c.CheckAuth().Code)
}

func TestRejectAfterExpiryReturnsToReady(t *testing.T) {
	c, m, fake := newReadyCoordinator(t)

	_, err := c.Setup(30, nil)
	require.NoError(t, err)
	fake.Advance(DefaultTimeout)

	state, err := c.Confirm(false)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, state)
	assert.Equal(t, models.StateReady, m.State())
	assert.False(t, c.HasSession())
}

func TestResolveSettlesPendingConfirmation(t *testing.T) {
	c, m, _ := newReadyCoordinator(t)

	_, err := c.Setup(30, nil)
	require.NoError(t, err)
	m.Force(models.StateRunning)
	c.Resolve()

	assert.Equal(t, models.AuthStatusWaiting, c.CheckAuth().Status)
	require.NotNil(t, c.View())
	assert.False(t, c.View().Pending)
}
