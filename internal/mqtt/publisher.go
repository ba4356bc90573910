package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"aerospin-backend/internal/models"
)

// publishClient is the part of mqtt.Client the publisher needs
type publishClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Publisher publishes dashboard events and device replies
type Publisher struct {
	client publishClient
	logger *slog.Logger

	// Input channel (read by publisher, written by the dashboard)
	events <-chan models.DashboardEvent

	stateTopic string // retained, last committed change
	replyTopic string
}

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	StateTopic string // e.g., "aerospin/dashboard/state"
	ReplyTopic string // e.g., "aerospin/device/replies"
}

// replyMessage is an EventReply plus the error text of a rejected event
type replyMessage struct {
	models.EventReply
	Error string `json:"error,omitempty"`
}

// NewPublisher creates a new MQTT publisher reading from events
func NewPublisher(client publishClient, config PublisherConfig, events <-chan models.DashboardEvent, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:     client,
		logger:     logger.With(slog.String("component", "mqtt")),
		events:     events,
		stateTopic: config.StateTopic,
		replyTopic: config.ReplyTopic,
	}
}

// Start publishes dashboard events until ctx is cancelled or the channel closes
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("publisher started", slog.String("topic", p.stateTopic))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher stopped")
			return

		case ev, ok := <-p.events:
			if !ok {
				p.logger.Info("dashboard event channel closed, publisher stopped")
				return
			}
			if err := p.publishState(ev); err != nil {
				p.logger.Error("failed to publish dashboard event", slog.Any("error", err))
			}
		}
	}
}

// publishState publishes ev without its record payload
func (p *Publisher) publishState(ev models.DashboardEvent) error {
	if p.stateTopic == "" {
		return nil
	}
	ev.Records = nil
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal dashboard event: %w", err)
	}
	return p.publish(p.stateTopic, true, payload)
}

// PublishReply sends the outcome of a device event back to the device
func (p *Publisher) PublishReply(reply models.EventReply, replyErr error) error {
	if p.replyTopic == "" {
		return nil
	}
	msg := replyMessage{EventReply: reply}
	if replyErr != nil {
		msg.Error = replyErr.Error()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	return p.publish(p.replyTopic, false, payload)
}

func (p *Publisher) publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	p.logger.Debug("published", slog.String("topic", topic), slog.Int("bytes", len(payload)))
	return nil
}
