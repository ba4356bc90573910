package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/device"
	"aerospin-backend/internal/handshake"
	"aerospin-backend/internal/models"
)

var start = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type stubEnricher struct {
	mu    sync.Mutex
	loc   *models.LocationInfo
	rep   models.ReputationInfo
	calls int

	entered chan struct{}
	release chan struct{}
}

func (s *stubEnricher) Locate(ctx context.Context, ip string) *models.LocationInfo {
	s.mu.Lock()
	s.calls++
	loc := s.loc
	s.mu.Unlock()

	if s.entered != nil {
		s.entered <- struct{}{}
		<-s.release
	}
	if loc == nil {
		return nil
	}
	c := *loc
	return &c
}

func (s *stubEnricher) CheckReputation(ctx context.Context, ip string) models.ReputationInfo {
	return s.rep
}

func newDashboard(t *testing.T, opts Options, enricher Enricher) (*Dashboard, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(start)
	return NewDashboard(opts, enricher, fake, nil), fake
}

func intPtr(v int) *int { return &v }

// runSession drives the dashboard through announce, code setup and start
func runSession(t *testing.T, d *Dashboard) {
	t.Helper()
	_, err := d.Announce()
	require.NoError(t, err)
	_, err = d.Setup(60, intPtr(150))
	require.NoError(t, err)
	reply, err := d.Start()
	require.NoError(t, err)
	require.Equal(t, models.StateRunning, reply.State)
}

func push(t *testing.T, d *Dashboard, i int) models.EventReply {
	t.Helper()
	reply, err := d.PushData(context.Background(), "203.0.113.9", models.TelemetrySample{
		Temperature: 20 + float64(i)/10,
		Humidity:    40,
		Speed:       i % 101,
		Remaining:   100 - i,
	})
	require.NoError(t, err)
	return reply
}

func TestTwentyFiveSamplesKeepLastTwenty(t *testing.T) {
	d, fake := newDashboard(t, Options{}, nil)
	runSession(t, d)

	for i := 0; i < 25; i++ {
		push(t, d, i)
		fake.Advance(time.Second)
	}

	snap := d.Snapshot()
	require.Len(t, snap.History.Temperature, 20)
	assert.Len(t, snap.History.Humidity, 20)
	assert.Len(t, snap.History.Speed, 20)
	assert.Len(t, snap.History.Remaining, 20)
	assert.Len(t, snap.History.Timestamps, 20)
	assert.InDelta(t, 20.5, snap.History.Temperature[0], 1e-9)
	assert.InDelta(t, 22.4, snap.History.Temperature[19], 1e-9)
	assert.Equal(t, "10:00:05", snap.History.Timestamps[0])
	assert.InDelta(t, 22.4, snap.Temperature, 1e-9)
	assert.True(t, snap.DataReceived)
	assert.Equal(t, 25, snap.SessionRecords, "recorder is not capped")
}

func TestStrictPushRequiresRunning(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)

	_, err := d.PushData(context.Background(), "", models.TelemetrySample{Speed: 10})
	assert.ErrorIs(t, err, ErrNotRunning)

	runSession(t, d)
	push(t, d, 1)
	_, err = d.Stop()
	require.NoError(t, err)

	_, err = d.PushData(context.Background(), "", models.TelemetrySample{Speed: 10})
	assert.ErrorIs(t, err, ErrSessionFrozen)
	assert.Equal(t, 1, d.Snapshot().SessionRecords)
}

func TestPermissivePushForcesRunning(t *testing.T) {
	d, _ := newDashboard(t, Options{PermissivePush: true}, nil)
	events := d.Subscribe("test")

	_, err := d.Announce()
	require.NoError(t, err)
	<-events

	reply := push(t, d, 3)
	assert.Equal(t, models.StateRunning, reply.State)
	snap := d.Snapshot()
	assert.NotEmpty(t, snap.SessionID)

	ev := <-events
	assert.Equal(t, models.EventTypeTransition, ev.Type)
	assert.Equal(t, models.StateReady, ev.Previous)
	assert.Equal(t, models.StateRunning, ev.State)
	assert.Equal(t, models.EventTypeTelemetry, (<-events).Type)

	_, err = d.Stop()
	require.NoError(t, err)
	_, err = d.PushData(context.Background(), "", models.TelemetrySample{})
	assert.ErrorIs(t, err, ErrSessionFrozen, "stopped sessions stay frozen in permissive mode")
}

func TestResetClearsEverything(t *testing.T) {
	enricher := &stubEnricher{
		loc: &models.LocationInfo{Latitude: 1, Longitude: 2, Source: models.SourceIPGeolocation, AccuracyMeters: 1000},
		rep: models.ReputationInfo{ConfidenceScore: 40, Details: "proxy or VPN detected"},
	}
	d, _ := newDashboard(t, Options{}, enricher)
	runSession(t, d)
	for i := 0; i < 5; i++ {
		push(t, d, i)
	}
	_, err := d.Stop()
	require.NoError(t, err)
	_, err = d.CompletedRecords()
	require.NoError(t, err)

	d.Reset()

	snap := d.Snapshot()
	assert.Equal(t, models.StateDisconnected, snap.State)
	assert.Empty(t, snap.History.Temperature)
	assert.Empty(t, snap.History.Timestamps)
	assert.False(t, snap.DataReceived)
	assert.Zero(t, snap.Temperature)
	assert.Zero(t, snap.SessionRecords)
	assert.Nil(t, snap.Location)
	assert.Nil(t, snap.Reputation)
	assert.Nil(t, snap.Auth)
	assert.Empty(t, snap.SessionID)
	assert.False(t, snap.ReportAvailable)
	_, err = d.CompletedRecords()
	assert.ErrorIs(t, err, ErrNoReport)
	assert.Equal(t, models.AuthStatusWaiting, models.AuthStatus(d.CheckAuth().Status))
}

func TestResetFromEveryState(t *testing.T) {
	drive := map[models.DeviceState]func(*Dashboard){
		models.StateDisconnected: func(*Dashboard) {},
		models.StateReady:        func(d *Dashboard) { d.Announce() },
		models.StateWaiting: func(d *Dashboard) {
			d.Announce()
			d.Setup(30, nil)
		},
		models.StateRunning: func(d *Dashboard) {
			d.Announce()
			d.Setup(30, nil)
			d.Confirm(true)
		},
		models.StateStopped: func(d *Dashboard) {
			d.Announce()
			d.Setup(30, nil)
			d.Confirm(true)
			d.Stop()
		},
		models.StateRestarting: func(d *Dashboard) {
			d.Announce()
			d.Setup(30, nil)
			d.Confirm(true)
			d.Restart()
		},
	}

	for _, resetToReady := range []bool{false, true} {
		for state, fn := range drive {
			t.Run(fmt.Sprintf("%s/ready=%v", state, resetToReady), func(t *testing.T) {
				d, _ := newDashboard(t, Options{ResetToReady: resetToReady}, nil)
				fn(d)
				require.Equal(t, state, d.State())

				reply := d.Reset()
				want := models.StateDisconnected
				if resetToReady {
					want = models.StateReady
				}
				assert.Equal(t, want, reply.State)
				assert.Zero(t, d.Snapshot().SessionRecords)
			})
		}
	}
}

func TestStopFreezesCompletedReport(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)

	_, err := d.CompletedRecords()
	assert.ErrorIs(t, err, ErrNoReport)

	runSession(t, d)
	for i := 0; i < 3; i++ {
		push(t, d, i)
	}
	reply, err := d.Stop()
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, reply.State)

	records, err := d.CompletedRecords()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, 100, records[0].Remaining)
	assert.True(t, d.Snapshot().ReportAvailable)
	assert.Equal(t, 3, d.Snapshot().SessionRecords, "stop keeps recorder content")

	// A new session keeps the previous report until it completes
	_, err = d.Announce()
	require.NoError(t, err)
	_, err = d.Setup(30, intPtr(500))
	require.NoError(t, err)
	assert.Zero(t, d.Snapshot().SessionRecords)
	records, err = d.CompletedRecords()
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestStopEmptySessionStillProducesReport(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)
	runSession(t, d)
	_, err := d.Stop()
	require.NoError(t, err)

	records, err := d.CompletedRecords()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestAutoRestart(t *testing.T) {
	d, _ := newDashboard(t, Options{AutoRestart: true}, nil)
	runSession(t, d)
	push(t, d, 1)

	reply, err := d.Stop()
	require.NoError(t, err)
	assert.Equal(t, models.StateRestarting, reply.State)
	_, err = d.CompletedRecords()
	assert.NoError(t, err)

	reply, err = d.Announce()
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, reply.State)
}

func TestInvalidTransitionsLeaveStateUnchanged(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)

	_, err := d.Stop()
	assert.ErrorIs(t, err, device.ErrInvalidTransition)
	_, err = d.Restart()
	assert.ErrorIs(t, err, device.ErrInvalidTransition)
	_, err = d.Setup(30, intPtr(123))
	assert.ErrorIs(t, err, device.ErrInvalidTransition)
	_, err = d.Start()
	assert.ErrorIs(t, err, device.ErrInvalidTransition)
	assert.Equal(t, models.StateDisconnected, d.State())

	runSession(t, d)
	reply, err := d.Announce()
	require.NoError(t, err, "announce while running is acknowledged without effect")
	assert.Equal(t, models.StateRunning, reply.State)
	assert.Equal(t, models.StateRunning, d.State())
}

func TestStartRequiresAuthorization(t *testing.T) {
	d, fake := newDashboard(t, Options{}, nil)
	_, err := d.Announce()
	require.NoError(t, err)

	_, err = d.Setup(30, nil)
	require.NoError(t, err)
	_, err = d.Start()
	assert.ErrorIs(t, err, handshake.ErrConfirmationPending)

	_, err = d.Confirm(false)
	require.NoError(t, err)
	_, err = d.Setup(30, intPtr(777))
	require.NoError(t, err)
	fake.Advance(handshake.DefaultTimeout + time.Second)

	_, err = d.Start()
	assert.ErrorIs(t, err, handshake.ErrNoAuthSession)
	assert.Equal(t, models.StateWaiting, d.State())
}

func TestCodeHandshakeExpiresAfterSixMinutes(t *testing.T) {
	d, fake := newDashboard(t, Options{}, nil)
	_, err := d.Announce()
	require.NoError(t, err)
	_, err = d.Setup(60, intPtr(150))
	require.NoError(t, err)

	reply := d.CheckAuth()
	assert.Equal(t, string(models.AuthStatusCode), reply.Status)
	require.NotNil(t, reply.Code)
	assert.Equal(t, 150, *reply.Code)
	assert.Equal(t, 60, *reply.Runtime)

	fake.Advance(6 * time.Minute)
	reply = d.CheckAuth()
	assert.Equal(t, string(models.AuthStatusWaiting), reply.Status)
	assert.Nil(t, reply.Code)
	assert.Nil(t, d.Snapshot().Auth)
}

func TestConfirmModeFlow(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)
	_, err := d.Announce()
	require.NoError(t, err)

	_, err = d.Setup(45, nil)
	require.NoError(t, err)
	assert.Equal(t, string(models.AuthStatusPending), d.CheckAuth().Status)
	auth := d.Snapshot().Auth
	require.NotNil(t, auth)
	assert.True(t, auth.Pending)
	assert.Equal(t, models.AuthModeConfirm, auth.Mode)

	reply, err := d.Confirm(true)
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, reply.State)

	_, err = d.Confirm(true)
	assert.ErrorIs(t, err, handshake.ErrNoPendingConfirmation)
}

func TestHandleDeviceEventStatuses(t *testing.T) {
	d, _ := newDashboard(t, Options{PermissivePush: true}, nil)
	ctx := context.Background()
	f := func(v float64) *float64 { return &v }

	reply, err := d.HandleDeviceEvent(ctx, "", models.DeviceEvent{Status: "arduino_ready"})
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, reply.State)

	reply, err = d.HandleDeviceEvent(ctx, "", models.DeviceEvent{Status: "check_auth"})
	require.NoError(t, err)
	assert.Equal(t, string(models.AuthStatusWaiting), reply.Status)

	_, err = d.HandleDeviceEvent(ctx, "", models.DeviceEvent{Status: "data", Temperature: f(21)})
	assert.ErrorIs(t, err, ErrMissingTelemetry)

	_, err = d.HandleDeviceEvent(ctx, "", models.DeviceEvent{
		Status: "push-data", Temperature: f(21), Humidity: f(40), Speed: intPtr(101), Remaining: intPtr(5),
	})
	assert.ErrorIs(t, err, ErrInvalidTelemetry)

	reply, err = d.HandleDeviceEvent(ctx, "", models.DeviceEvent{
		Status: "data", Temperature: f(21), Humidity: f(40), Speed: intPtr(50), Remaining: intPtr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, reply.State)

	reply, err = d.HandleDeviceEvent(ctx, "", models.DeviceEvent{Status: "stopped"})
	require.NoError(t, err)
	assert.Equal(t, models.StateStopped, reply.State)

	_, err = d.HandleDeviceEvent(ctx, "", models.DeviceEvent{Status: "reboot"})
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestPushCarriesEnrichment(t *testing.T) {
	enricher := &stubEnricher{
		loc: &models.LocationInfo{Latitude: 48.85, Longitude: 2.35, Source: models.SourceIPGeolocation, AccuracyMeters: 5000},
		rep: models.ReputationInfo{Flagged: true, ConfidenceScore: 70, Details: "proxy or VPN detected; hosting provider network"},
	}
	d, _ := newDashboard(t, Options{}, enricher)
	runSession(t, d)

	reply := push(t, d, 1)
	require.NotNil(t, reply.Location)
	assert.Equal(t, models.SourceIPGeolocation, reply.Location.Source)
	require.NotNil(t, reply.Reputation)
	assert.True(t, reply.Reputation.Flagged)

	records := d.recorder.SnapshotForReport()
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Location)
	assert.Equal(t, 48.85, records[0].Location.Latitude)
}

func TestBrowserLocationIsNotSupersededByIP(t *testing.T) {
	enricher := &stubEnricher{
		loc: &models.LocationInfo{Latitude: 10, Longitude: 10, Source: models.SourceIPFallback, AccuracyMeters: 80000},
	}
	d, _ := newDashboard(t, Options{}, enricher)
	runSession(t, d)

	_, err := d.SetBrowserLocation(91, 0, 10)
	assert.ErrorIs(t, err, ErrInvalidLocation)

	loc, err := d.SetBrowserLocation(52.52, 13.40, 15)
	require.NoError(t, err)
	assert.Equal(t, models.SourceBrowser, loc.Source)

	reply := push(t, d, 1)
	require.NotNil(t, reply.Location)
	assert.Equal(t, models.SourceBrowser, reply.Location.Source)
	assert.Equal(t, 52.52, d.Snapshot().Location.Latitude)
}

func TestPushRacingStopIsDropped(t *testing.T) {
	enricher := &stubEnricher{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d, _ := newDashboard(t, Options{}, enricher)
	runSession(t, d)

	type result struct {
		reply models.EventReply
		err   error
	}
	done := make(chan result)
	go func() {
		reply, err := d.PushData(context.Background(), "203.0.113.9", models.TelemetrySample{Speed: 10})
		done <- result{reply, err}
	}()

	<-enricher.entered
	_, err := d.Stop()
	require.NoError(t, err)
	close(enricher.release)

	res := <-done
	require.NoError(t, res.err, "races are logged, not surfaced")
	assert.Equal(t, "dropped", res.reply.Status)
	assert.Equal(t, models.StateStopped, res.reply.State)
	assert.Zero(t, d.Snapshot().SessionRecords)
	assert.False(t, d.Snapshot().DataReceived)
}

func TestSnapshotDoesNotAlias(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)
	runSession(t, d)
	push(t, d, 1)

	snap := d.Snapshot()
	snap.History.Temperature[0] = -999
	assert.NotEqual(t, -999.0, d.Snapshot().History.Temperature[0])

	records, err := func() ([]models.SessionRecord, error) {
		d.Stop()
		return d.CompletedRecords()
	}()
	require.NoError(t, err)
	records[0].Speed = 99
	again, _ := d.CompletedRecords()
	assert.NotEqual(t, 99, again[0].Speed)
}

func TestObserverOverflowDoesNotBlock(t *testing.T) {
	d, _ := newDashboard(t, Options{ObserverBuffer: 1, PermissivePush: true}, nil)
	events := d.Subscribe("slow")

	_, err := d.Announce()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		push(t, d, i)
	}

	assert.Len(t, events, 1)
	d.Close()
	_, ok := <-events
	assert.True(t, ok, "buffered event survives close")
	_, ok = <-events
	assert.False(t, ok)

	// Dispatch after close is a no-op
	d.Reset()
}

func TestStopEmitsSessionRecords(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)
	runSession(t, d)
	push(t, d, 1)
	push(t, d, 2)

	events := d.Subscribe("archive")
	_, err := d.Stop()
	require.NoError(t, err)

	transition := <-events
	assert.Equal(t, models.EventTypeTransition, transition.Type)
	stopped := <-events
	assert.Equal(t, models.EventTypeSessionStopped, stopped.Type)
	assert.NotEmpty(t, stopped.SessionID)
	assert.Len(t, stopped.Records, 2)
}

func TestAnnounceDuringHandshakeKeepsCode(t *testing.T) {
	d, _ := newDashboard(t, Options{}, nil)
	_, err := d.Announce()
	require.NoError(t, err)
	_, err = d.Setup(60, intPtr(150))
	require.NoError(t, err)

	reply, err := d.Announce()
	require.NoError(t, err)
	assert.Equal(t, models.StateWaiting, reply.State)

	auth := d.CheckAuth()
	assert.Equal(t, string(models.AuthStatusCode), auth.Status)
	assert.Equal(t, models.StateWaiting, auth.State)
	require.NotNil(t, auth.Code)
	assert.Equal(t, 150, *auth.Code)

	reply, err = d.Start()
	require.NoError(t, err)
	assert.Equal(t, models.StateRunning, reply.State)
}

func TestSetupAfterExpiredHandshakeKeepsReport(t *testing.T) {
	d, fake := newDashboard(t, Options{}, nil)
	events := d.Subscribe("test")
	runSession(t, d)
	push(t, d, 1)
	_, err := d.Stop()
	require.NoError(t, err)

	_, err = d.Announce()
	require.NoError(t, err)
	_, err = d.Setup(60, intPtr(150))
	require.NoError(t, err)
	fake.Advance(6 * time.Minute)
	for len(events) > 0 {
		<-events
	}

	reply, err := d.Setup(45, intPtr(321))
	require.NoError(t, err)
	assert.Equal(t, models.StateWaiting, reply.State)

	first, second := <-events, <-events
	assert.Equal(t, models.StateWaiting, first.Previous)
	assert.Equal(t, models.StateReady, first.State)
	assert.Equal(t, models.StateReady, second.Previous)
	assert.Equal(t, models.StateWaiting, second.State)

	auth := d.CheckAuth()
	require.NotNil(t, auth.Code)
	assert.Equal(t, 321, *auth.Code)

	records, err := d.CompletedRecords()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestRejectAfterExpiredConfirmation(t *testing.T) {
	d, fake := newDashboard(t, Options{}, nil)
	_, err := d.Announce()
	require.NoError(t, err)
	_, err = d.Setup(30, nil)
	require.NoError(t, err)
	fake.Advance(6 * time.Minute)

	reply, err := d.Confirm(false)
	require.NoError(t, err)
	assert.Equal(t, models.StateReady, reply.State)

	_, err = d.Confirm(true)
	assert.ErrorIs(t, err, handshake.ErrNoPendingConfirmation)
}

func TestPermissivePushSettlesPendingConfirmation(t *testing.T) {
	d, _ := newDashboard(t, Options{PermissivePush: true}, nil)
	_, err := d.Announce()
	require.NoError(t, err)
	_, err = d.Setup(30, nil)
	require.NoError(t, err)
	require.Equal(t, string(models.AuthStatusPending), d.CheckAuth().Status)

	reply := push(t, d, 1)
	assert.Equal(t, models.StateRunning, reply.State)
	assert.NotEqual(t, string(models.AuthStatusPending), d.CheckAuth().Status)
	auth := d.Snapshot().Auth
	require.NotNil(t, auth)
	assert.False(t, auth.Pending)
}
