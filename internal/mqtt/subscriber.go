package mqtt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"aerospin-backend/internal/models"
)

// subscribeClient is the part of mqtt.Client the subscriber needs
type subscribeClient interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Subscriber handles MQTT subscriptions and writes device events to a channel
type Subscriber struct {
	client subscribeClient
	logger *slog.Logger

	// Output channel (written by subscriber, read by the Bridge)
	EventChan chan models.DeviceEvent

	deviceEventsTopic string
	enqueueTimeout    time.Duration
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	DeviceEventsTopic string // e.g., "aerospin/device/events"
	ChannelSize       int
}

// NewSubscriber creates a new MQTT subscriber with its event channel
func NewSubscriber(client subscribeClient, config SubscriberConfig, logger *slog.Logger) *Subscriber {
	if config.ChannelSize <= 0 {
		config.ChannelSize = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:            client,
		logger:            logger.With(slog.String("component", "mqtt")),
		EventChan:         make(chan models.DeviceEvent, config.ChannelSize),
		deviceEventsTopic: config.DeviceEventsTopic,
		enqueueTimeout:    time.Second,
	}
}

// SubscribeAll subscribes to the device event topic
func (s *Subscriber) SubscribeAll() error {
	if s.deviceEventsTopic == "" {
		return nil
	}
	token := s.client.Subscribe(s.deviceEventsTopic, 1, s.handleDeviceEvent)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to device events topic: %w", token.Error())
	}
	s.logger.Info("subscribed", slog.String("topic", s.deviceEventsTopic))
	return nil
}

// handleDeviceEvent decodes a device message and writes it to the channel
func (s *Subscriber) handleDeviceEvent(_ mqtt.Client, msg mqtt.Message) {
	ev, err := decodeDeviceEvent(msg.Payload())
	if err != nil {
		s.logger.Warn("dropping malformed device event", slog.String("topic", msg.Topic()), slog.Any("error", err))
		return
	}

	// Write to channel (non-blocking with timeout)
	select {
	case s.EventChan <- ev:
	case <-time.After(s.enqueueTimeout):
		s.logger.Warn("device event channel full, dropping message", slog.String("status", ev.Status))
	}
}

// decodeDeviceEvent accepts a JSON event or, for older firmware, a bare
// status string such as "arduino_ready".
func decodeDeviceEvent(payload []byte) (models.DeviceEvent, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return models.DeviceEvent{}, fmt.Errorf("empty payload")
	}

	var ev models.DeviceEvent
	if payload[0] == '{' {
		if err := json.Unmarshal(payload, &ev); err != nil {
			return models.DeviceEvent{}, fmt.Errorf("failed to unmarshal device event: %w", err)
		}
	} else {
		ev.Status = string(payload)
	}
	if ev.Status == "" {
		return models.DeviceEvent{}, fmt.Errorf("missing status")
	}
	return ev, nil
}
