// Package services holds the Dashboard, the single owner of all live
// device, telemetry and session state.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"aerospin-backend/internal/aggregator"
	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/device"
	"aerospin-backend/internal/handshake"
	"aerospin-backend/internal/models"
)

// Enricher supplies best-effort location and reputation for a client IP.
// Implementations must not block beyond their own timeouts.
type Enricher interface {
	Locate(ctx context.Context, ip string) *models.LocationInfo
	CheckReputation(ctx context.Context, ip string) models.ReputationInfo
}

// Options tunes dashboard behaviour
type Options struct {
	MaxHistory     int
	AuthTimeout    time.Duration
	PermissivePush bool // any push enters running, except while stopped
	AutoRestart    bool // stop goes to restarting instead of stopped
	ResetToReady   bool // reset lands in ready instead of disconnected
	ObserverBuffer int
}

// DefaultObserverBuffer is the channel capacity given to each subscriber
const DefaultObserverBuffer = 64

// Dashboard serializes every mutation behind one mutex. Enrichment I/O runs
// outside the lock; observers are notified after it is released.
type Dashboard struct {
	mu       sync.Mutex
	opts     Options
	clock    clock.Clock
	logger   *slog.Logger
	enricher Enricher

	machine   *device.Machine
	handshake *handshake.Coordinator
	telemetry *aggregator.TelemetryStore
	recorder  *aggregator.SessionRecorder

	sessionID    string
	generation   uint64 // bumped whenever the session is replaced or frozen
	location     *models.LocationInfo
	reputation   *models.ReputationInfo
	completed    []models.SessionRecord
	hasCompleted bool

	obsMu     sync.Mutex
	observers []observer
	closed    bool
}

type observer struct {
	name string
	ch   chan models.DashboardEvent
}

// NewDashboard creates a dashboard in the disconnected state. enricher may
// be nil, in which case pushes carry no location or reputation.
func NewDashboard(opts Options, enricher Enricher, clk clock.Clock, logger *slog.Logger) *Dashboard {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ObserverBuffer <= 0 {
		opts.ObserverBuffer = DefaultObserverBuffer
	}
	machine := device.NewMachine()
	return &Dashboard{
		opts:      opts,
		clock:     clk,
		logger:    logger.With(slog.String("component", "dashboard")),
		enricher:  enricher,
		machine:   machine,
		handshake: handshake.NewCoordinator(machine, clk, opts.AuthTimeout),
		telemetry: aggregator.NewTelemetryStore(opts.MaxHistory),
		recorder:  aggregator.NewSessionRecorder(),
	}
}

// HandleDeviceEvent dispatches a device event by its (possibly legacy) status
func (d *Dashboard) HandleDeviceEvent(ctx context.Context, clientIP string, ev models.DeviceEvent) (models.EventReply, error) {
	switch models.NormalizeStatus(ev.Status) {
	case models.EventAnnounce:
		return d.Announce()
	case models.EventCheckAuth:
		return d.CheckAuth(), nil
	case models.EventPushData:
		sample, err := sampleFromEvent(ev)
		if err != nil {
			return d.reply("error"), err
		}
		return d.PushData(ctx, clientIP, sample)
	case models.EventStart:
		return d.Start()
	case models.EventStop:
		return d.Stop()
	default:
		return d.reply("error"), fmt.Errorf("%w: %q", ErrUnknownStatus, ev.Status)
	}
}

// Announce moves a disconnected, stopped or restarting device to ready.
// Announcements in any other state are acknowledged without effect.
func (d *Dashboard) Announce() (models.EventReply, error) {
	d.mu.Lock()
	from := d.machine.State()
	var events []models.DashboardEvent
	if d.machine.Announce() {
		events = append(events, d.transitionEvent(from))
		d.logger.Info("device announced", slog.String("from", from.String()))
	} else if from != models.StateReady {
		d.logger.Debug("announce ignored", slog.String("state", from.String()))
	}
	reply := d.replyLocked("ok")
	d.mu.Unlock()

	d.dispatch(events)
	return reply, nil
}

// CheckAuth answers the device's handshake poll
func (d *Dashboard) CheckAuth() models.EventReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	res := d.handshake.CheckAuth()
	reply := d.replyLocked(string(res.Status))
	reply.Code = res.Code
	reply.Runtime = res.Runtime
	return reply
}

// PushData records one telemetry sample. Enrichment runs between a gating
// pre-check and the commit; if the session changed meanwhile the sample is
// dropped and the race is logged.
func (d *Dashboard) PushData(ctx context.Context, clientIP string, sample models.TelemetrySample) (models.EventReply, error) {
	d.mu.Lock()
	if err := d.gatePush(); err != nil {
		d.mu.Unlock()
		return d.reply("error"), err
	}
	gen := d.generation
	d.mu.Unlock()

	var (
		loc *models.LocationInfo
		rep *models.ReputationInfo
	)
	if d.enricher != nil && clientIP != "" {
		loc = d.enricher.Locate(ctx, clientIP)
		r := d.enricher.CheckReputation(ctx, clientIP)
		rep = &r
	}

	d.mu.Lock()
	if gen != d.generation || d.gatePush() != nil {
		state := d.machine.State()
		d.mu.Unlock()
		d.logger.Warn("telemetry push lost race with state change, sample dropped",
			slog.String("state", state.String()), slog.String("client_ip", clientIP))
		return d.reply("dropped"), nil
	}

	var events []models.DashboardEvent
	if from := d.machine.State(); from != models.StateRunning {
		d.machine.Force(models.StateRunning)
		d.handshake.Resolve()
		if d.sessionID == "" {
			d.sessionID = uuid.NewString()
		}
		d.logger.Info("telemetry forced device into running", slog.String("from", from.String()))
		events = append(events, d.transitionEvent(from))
	}

	if loc.Supersedes(d.location) {
		d.location = loc
	}
	if rep != nil {
		d.reputation = rep
	}

	now := d.clock.Now()
	d.telemetry.Record(sample, now)
	d.recorder.Append(sample, d.location, now)
	s := sample
	events = append(events, models.DashboardEvent{
		Type:      models.EventTypeTelemetry,
		SessionID: d.sessionID,
		State:     d.machine.State(),
		Timestamp: now,
		Sample:    &s,
	})

	reply := d.replyLocked("ok")
	reply.Location = cloneLocation(d.location)
	if d.reputation != nil {
		r := *d.reputation
		reply.Reputation = &r
	}
	d.mu.Unlock()

	d.dispatch(events)
	return reply, nil
}

// gatePush reports whether a push may be accepted in the current state
func (d *Dashboard) gatePush() error {
	state := d.machine.State()
	switch {
	case state == models.StateRunning:
		return nil
	case state == models.StateStopped:
		return ErrSessionFrozen
	case d.opts.PermissivePush:
		return nil
	default:
		return fmt.Errorf("%w: device is %s", ErrNotRunning, state)
	}
}

// Start lets the device begin running once the handshake has authorized it
func (d *Dashboard) Start() (models.EventReply, error) {
	d.mu.Lock()
	from := d.machine.State()
	if !device.CanTransition(from, models.StateRunning) {
		d.mu.Unlock()
		err := &device.InvalidTransitionError{From: from, To: models.StateRunning}
		d.logInvalid("start", err)
		return d.reply("error"), err
	}
	if err := d.handshake.Authorize(); err != nil {
		d.mu.Unlock()
		return d.reply("error"), err
	}
	if _, err := d.machine.Transition(models.StateRunning); err != nil {
		d.mu.Unlock()
		return d.reply("error"), err
	}
	events := []models.DashboardEvent{d.transitionEvent(from)}
	d.logger.Info("session started", slog.String("session_id", d.sessionID))
	reply := d.replyLocked("ok")
	d.mu.Unlock()

	d.dispatch(events)
	return reply, nil
}

// Stop ends the running session. Its records become the completed report.
// With AutoRestart the device goes to restarting instead of stopped.
func (d *Dashboard) Stop() (models.EventReply, error) {
	target := models.StateStopped
	if d.opts.AutoRestart {
		target = models.StateRestarting
	}
	return d.endSession("stop", target)
}

// Restart sends a running or stopped device to restarting
func (d *Dashboard) Restart() (models.EventReply, error) {
	return d.endSession("restart", models.StateRestarting)
}

func (d *Dashboard) endSession(op string, target models.DeviceState) (models.EventReply, error) {
	d.mu.Lock()
	from, err := d.machine.Transition(target)
	if err != nil {
		d.mu.Unlock()
		d.logInvalid(op, err)
		return d.reply("error"), err
	}

	d.generation++
	events := []models.DashboardEvent{d.transitionEvent(from)}
	if from == models.StateRunning {
		d.completed = d.recorder.SnapshotForReport()
		d.hasCompleted = true
		d.handshake.Clear()
		events = append(events, models.DashboardEvent{
			Type:      models.EventTypeSessionStopped,
			SessionID: d.sessionID,
			State:     target,
			Previous:  from,
			Timestamp: d.clock.Now(),
			Records:   d.recorder.SnapshotForReport(),
		})
		d.logger.Info("session stopped",
			slog.String("session_id", d.sessionID), slog.Int("records", len(d.completed)),
			slog.String("state", target.String()))
	}
	reply := d.replyLocked("ok")
	d.mu.Unlock()

	d.dispatch(events)
	return reply, nil
}

// Setup starts a handshake for a new session. A nil code selects confirm mode.
func (d *Dashboard) Setup(runtimeSeconds int, code *int) (models.EventReply, error) {
	if err := handshake.ValidateSetup(runtimeSeconds, code); err != nil {
		d.logInvalid("setup", err)
		return d.reply("error"), err
	}

	d.mu.Lock()
	var events []models.DashboardEvent
	if d.handshake.ReleaseExpired() {
		events = append(events, d.transitionEvent(models.StateWaiting))
		d.logger.Info("expired handshake released", slog.String("session_id", d.sessionID))
	}
	from := d.machine.State()
	if _, err := d.handshake.Setup(runtimeSeconds, code); err != nil {
		d.mu.Unlock()
		d.dispatch(events)
		d.logInvalid("setup", err)
		return d.reply("error"), err
	}

	d.recorder.Clear()
	d.telemetry.Clear()
	d.sessionID = uuid.NewString()
	d.generation++
	events = append(events, d.transitionEvent(from))
	mode := models.AuthModeConfirm
	if code != nil {
		mode = models.AuthModeCode
	}
	d.logger.Info("session setup",
		slog.String("session_id", d.sessionID), slog.String("mode", string(mode)),
		slog.Int("runtime_s", runtimeSeconds))
	reply := d.replyLocked("ok")
	reply.Runtime = &runtimeSeconds
	d.mu.Unlock()

	d.dispatch(events)
	return reply, nil
}

// Confirm resolves a confirm-mode handshake
func (d *Dashboard) Confirm(accepted bool) (models.EventReply, error) {
	d.mu.Lock()
	from := d.machine.State()
	if _, err := d.handshake.Confirm(accepted); err != nil {
		d.mu.Unlock()
		d.logInvalid("confirm", err)
		return d.reply("error"), err
	}
	events := []models.DashboardEvent{d.transitionEvent(from)}
	d.logger.Info("session confirmation", slog.Bool("accepted", accepted), slog.String("session_id", d.sessionID))
	reply := d.replyLocked("ok")
	d.mu.Unlock()

	d.dispatch(events)
	return reply, nil
}

// Reset forces the device back to its initial state and discards all
// session data, enrichment results and the completed report.
func (d *Dashboard) Reset() models.EventReply {
	target := models.StateDisconnected
	if d.opts.ResetToReady {
		target = models.StateReady
	}

	d.mu.Lock()
	from := d.machine.Force(target)
	d.telemetry.Clear()
	d.recorder.Clear()
	d.handshake.Clear()
	d.location = nil
	d.reputation = nil
	d.completed = nil
	d.hasCompleted = false
	d.sessionID = ""
	d.generation++
	now := d.clock.Now()
	events := []models.DashboardEvent{{
		Type:      models.EventTypeReset,
		State:     target,
		Previous:  from,
		Timestamp: now,
	}}
	d.logger.Info("dashboard reset", slog.String("from", from.String()), slog.String("to", target.String()))
	reply := d.replyLocked("ok")
	d.mu.Unlock()

	d.dispatch(events)
	return reply
}

// SetBrowserLocation stores a position reported by the operator's browser
func (d *Dashboard) SetBrowserLocation(lat, lon, accuracyMeters float64) (*models.LocationInfo, error) {
	if !finite(lat, lon, accuracyMeters) || lat < -90 || lat > 90 || lon < -180 || lon > 180 || accuracyMeters < 0 {
		return nil, ErrInvalidLocation
	}
	loc := &models.LocationInfo{
		Latitude:       lat,
		Longitude:      lon,
		Source:         models.SourceBrowser,
		AccuracyMeters: accuracyMeters,
	}

	d.mu.Lock()
	if loc.Supersedes(d.location) {
		d.location = loc
	}
	out := cloneLocation(d.location)
	events := []models.DashboardEvent{{
		Type:      models.EventTypeLocation,
		SessionID: d.sessionID,
		State:     d.machine.State(),
		Timestamp: d.clock.Now(),
	}}
	d.mu.Unlock()

	d.dispatch(events)
	return out, nil
}

// Snapshot returns a merged read-only view. No slice in it aliases live state.
func (d *Dashboard) Snapshot() models.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := d.telemetry.Snapshot()
	snap := models.Snapshot{
		State:           d.machine.State(),
		Temperature:     ts.Current.Temperature,
		Humidity:        ts.Current.Humidity,
		Speed:           ts.Current.Speed,
		Remaining:       ts.Current.Remaining,
		DataReceived:    ts.DataReceived,
		History:         ts.History,
		Location:        cloneLocation(d.location),
		Auth:            d.handshake.View(),
		SessionID:       d.sessionID,
		SessionRecords:  d.recorder.Len(),
		ReportAvailable: d.hasCompleted,
		GeneratedAt:     d.clock.Now(),
	}
	if d.reputation != nil {
		r := *d.reputation
		snap.Reputation = &r
	}
	return snap
}

// CompletedRecords returns the records of the most recently completed
// session, or ErrNoReport if no session has been stopped since the last reset.
func (d *Dashboard) CompletedRecords() ([]models.SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasCompleted {
		return nil, ErrNoReport
	}
	out := make([]models.SessionRecord, len(d.completed))
	copy(out, d.completed)
	return out, nil
}

// State returns the current device state
func (d *Dashboard) State() models.DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.machine.State()
}

func (d *Dashboard) transitionEvent(from models.DeviceState) models.DashboardEvent {
	return models.DashboardEvent{
		Type:      models.EventTypeTransition,
		SessionID: d.sessionID,
		State:     d.machine.State(),
		Previous:  from,
		Timestamp: d.clock.Now(),
	}
}

func (d *Dashboard) reply(status string) models.EventReply {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replyLocked(status)
}

func (d *Dashboard) replyLocked(status string) models.EventReply {
	return models.EventReply{Status: status, State: d.machine.State()}
}

func (d *Dashboard) logInvalid(op string, err error) {
	d.logger.Warn("operation rejected", slog.String("op", op), slog.Any("error", err))
}

func sampleFromEvent(ev models.DeviceEvent) (models.TelemetrySample, error) {
	if ev.Temperature == nil || ev.Humidity == nil || ev.Speed == nil || ev.Remaining == nil {
		return models.TelemetrySample{}, ErrMissingTelemetry
	}
	s := models.TelemetrySample{
		Temperature: *ev.Temperature,
		Humidity:    *ev.Humidity,
		Speed:       *ev.Speed,
		Remaining:   *ev.Remaining,
	}
	if err := ValidateSample(s); err != nil {
		return models.TelemetrySample{}, err
	}
	return s, nil
}

// ValidateSample checks the ranges the telemetry store relies on
func ValidateSample(s models.TelemetrySample) error {
	switch {
	case !finite(s.Temperature, s.Humidity):
		return fmt.Errorf("%w: non-finite reading", ErrInvalidTelemetry)
	case s.Humidity < 0 || s.Humidity > 100:
		return fmt.Errorf("%w: humidity %.1f not in [0, 100]", ErrInvalidTelemetry, s.Humidity)
	case s.Speed < 0 || s.Speed > 100:
		return fmt.Errorf("%w: speed %d not in [0, 100]", ErrInvalidTelemetry, s.Speed)
	case s.Remaining < 0:
		return fmt.Errorf("%w: remaining %d is negative", ErrInvalidTelemetry, s.Remaining)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func cloneLocation(loc *models.LocationInfo) *models.LocationInfo {
	if loc == nil {
		return nil
	}
	c := *loc
	return &c
}
