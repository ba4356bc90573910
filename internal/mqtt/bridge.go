package mqtt

import (
	"context"
	"log/slog"

	"aerospin-backend/internal/models"
)

// EventHandler processes one device event
type EventHandler interface {
	HandleDeviceEvent(ctx context.Context, clientIP string, ev models.DeviceEvent) (models.EventReply, error)
}

// Bridge feeds device events received over MQTT into the dashboard and
// publishes each reply.
type Bridge struct {
	handler   EventHandler
	events    <-chan models.DeviceEvent
	publisher *Publisher
	logger    *slog.Logger
}

func NewBridge(handler EventHandler, events <-chan models.DeviceEvent, publisher *Publisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		handler:   handler,
		events:    events,
		publisher: publisher,
		logger:    logger.With(slog.String("component", "mqtt")),
	}
}

// Start runs until ctx is cancelled. Events are handled in arrival order.
func (b *Bridge) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			// MQTT carries no client address, so pushes get no enrichment
			reply, err := b.handler.HandleDeviceEvent(ctx, "", ev)
			if err != nil {
				b.logger.Warn("device event rejected", slog.String("status", ev.Status), slog.Any("error", err))
			}
			if b.publisher == nil {
				continue
			}
			if perr := b.publisher.PublishReply(reply, err); perr != nil {
				b.logger.Error("failed to publish reply", slog.Any("error", perr))
			}
		}
	}
}
