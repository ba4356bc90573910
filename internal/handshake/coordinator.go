// Package handshake negotiates the authorization that gates a device session:
// either a numeric code relayed to the device, or an operator confirm/reject.
package handshake

import (
	"errors"
	"fmt"
	"time"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/device"
	"aerospin-backend/internal/models"
)

const (
	MinCode = 100
	MaxCode = 999

	// DefaultTimeout is how long an auth session stays valid after setup
	DefaultTimeout = 5 * time.Minute
)

var (
	ErrInvalidAuthCode       = fmt.Errorf("auth code must be between %d and %d", MinCode, MaxCode)
	ErrInvalidRuntime        = errors.New("runtime must be a positive number of seconds")
	ErrNoPendingConfirmation = errors.New("no pending confirmation")
	ErrConfirmationPending   = errors.New("session is waiting for operator confirmation")
	ErrNoAuthSession         = errors.New("no active auth session")
)

// Session is the state of one handshake
type Session struct {
	Mode                models.AuthMode
	Code                *int
	RuntimeSeconds      int
	CreatedAt           time.Time
	ExpiresAt           time.Time
	PendingConfirmation bool
}

func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// CheckResult is what the device's check-auth poll receives
type CheckResult struct {
	Status  models.AuthStatus
	Code    *int
	Runtime *int
}

// Coordinator drives the handshake and the state transitions it implies.
// It performs no locking; the owning service serializes access.
type Coordinator struct {
	machine *device.Machine
	clock   clock.Clock
	timeout time.Duration
	session *Session
}

// NewCoordinator creates a coordinator bound to machine. A non-positive
// timeout selects DefaultTimeout.
func NewCoordinator(machine *device.Machine, clk clock.Clock, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Coordinator{machine: machine, clock: clk, timeout: timeout}
}

// ValidateSetup checks setup parameters without touching any state
func ValidateSetup(runtimeSeconds int, code *int) error {
	if code != nil && (*code < MinCode || *code > MaxCode) {
		return ErrInvalidAuthCode
	}
	if runtimeSeconds <= 0 {
		return ErrInvalidRuntime
	}
	return nil
}

// Setup starts a handshake. With a code it runs in code mode, without one in
// confirm mode. A device left waiting by an expired session is released
// first. Validation and transition failures leave everything unchanged.
func (c *Coordinator) Setup(runtimeSeconds int, code *int) (*Session, error) {
	if err := ValidateSetup(runtimeSeconds, code); err != nil {
		return nil, err
	}
	c.ReleaseExpired()
	if _, err := c.machine.Transition(models.StateWaiting); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	s := &Session{
		Mode:           models.AuthModeConfirm,
		RuntimeSeconds: runtimeSeconds,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.timeout),
	}
	if code != nil {
		v := *code
		s.Mode = models.AuthModeCode
		s.Code = &v
	} else {
		s.PendingConfirmation = true
	}
	c.session = s
	return s, nil
}

// Confirm resolves a pending confirm-mode handshake. Accepting moves the
// device to running, rejecting sends it back to ready and drops the session.
func (c *Coordinator) Confirm(accepted bool) (models.DeviceState, error) {
	s := c.active()
	if s == nil && !accepted && c.ReleaseExpired() {
		return c.machine.State(), nil
	}
	if s == nil || !s.PendingConfirmation {
		return c.machine.State(), ErrNoPendingConfirmation
	}

	target := models.StateReady
	if accepted {
		target = models.StateRunning
	}
	if _, err := c.machine.Transition(target); err != nil {
		return c.machine.State(), err
	}

	if accepted {
		s.PendingConfirmation = false
	} else {
		c.session = nil
	}
	return c.machine.State(), nil
}

// CheckAuth answers the device poll: pending confirmation first, then a live
// code, otherwise waiting.
func (c *Coordinator) CheckAuth() CheckResult {
	s := c.active()
	switch {
	case s == nil:
		return CheckResult{Status: models.AuthStatusWaiting}
	case s.PendingConfirmation:
		return CheckResult{Status: models.AuthStatusPending}
	case s.Code != nil:
		code, runtime := *s.Code, s.RuntimeSeconds
		return CheckResult{Status: models.AuthStatusCode, Code: &code, Runtime: &runtime}
	default:
		return CheckResult{Status: models.AuthStatusWaiting}
	}
}

// Authorize checks that the device may start running on its own
func (c *Coordinator) Authorize() error {
	s := c.active()
	switch {
	case s == nil:
		return ErrNoAuthSession
	case s.PendingConfirmation:
		return ErrConfirmationPending
	default:
		return nil
	}
}

// View returns the dashboard view of the live session, or nil
func (c *Coordinator) View() *models.AuthView {
	s := c.active()
	if s == nil {
		return nil
	}
	return &models.AuthView{
		Mode:      s.Mode,
		Pending:   s.PendingConfirmation,
		Runtime:   s.RuntimeSeconds,
		ExpiresAt: s.ExpiresAt,
	}
}

// ReleaseExpired moves a device stranded in waiting by an expired session
// back to ready and discards the session. It reports whether it did.
func (c *Coordinator) ReleaseExpired() bool {
	if c.machine.State() != models.StateWaiting || c.session == nil || !c.session.expired(c.clock.Now()) {
		return false
	}
	if _, err := c.machine.Transition(models.StateReady); err != nil {
		return false
	}
	c.session = nil
	return true
}

// Resolve settles a pending confirmation without a transition. Telemetry
// that forces the device into running uses it.
func (c *Coordinator) Resolve() {
	if s := c.active(); s != nil {
		s.PendingConfirmation = false
	}
}

// HasSession reports whether any session is stored, expired or not
func (c *Coordinator) HasSession() bool {
	return c.session != nil
}

// Clear discards the session
func (c *Coordinator) Clear() {
	c.session = nil
}

// active returns the stored session unless it has expired. Expired sessions
// are left in place and simply ignored.
func (c *Coordinator) active() *Session {
	if c.session == nil || c.session.expired(c.clock.Now()) {
		return nil
	}
	return c.session
}
