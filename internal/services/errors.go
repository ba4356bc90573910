package services

import "errors"

var (
	ErrUnknownStatus    = errors.New("unknown device event status")
	ErrMissingTelemetry = errors.New("push-data requires temperature, humidity, speed and remaining")
	ErrInvalidTelemetry = errors.New("telemetry value out of range")
	ErrInvalidLocation  = errors.New("location out of range")
	ErrNotRunning       = errors.New("telemetry accepted only while running")
	ErrSessionFrozen    = errors.New("session is stopped; telemetry is frozen")
	ErrNoReport         = errors.New("no completed session")
)
