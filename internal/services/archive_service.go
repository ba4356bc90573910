package services

import (
	"context"
	"log/slog"

	"aerospin-backend/internal/models"
)

// SessionArchive persists completed sessions and state transitions
type SessionArchive interface {
	SaveSessionRecords(ctx context.Context, sessionID string, records []models.SessionRecord) error
	SaveStateTransition(ctx context.Context, ev models.DashboardEvent) error
}

// ArchiveService drains dashboard events into a SessionArchive
type ArchiveService struct {
	archive SessionArchive
	events  <-chan models.DashboardEvent
	logger  *slog.Logger
}

// NewArchiveService subscribes to dash and writes through archive
func NewArchiveService(dash *Dashboard, archive SessionArchive, logger *slog.Logger) *ArchiveService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveService{
		archive: archive,
		events:  dash.Subscribe("archive"),
		logger:  logger.With(slog.String("component", "archive")),
	}
}

// Start processes events until ctx is cancelled or the dashboard closes
func (s *ArchiveService) Start(ctx context.Context) {
	s.logger.Info("archive service started")
	defer s.logger.Info("archive service stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.process(ctx, ev)
		}
	}
}

func (s *ArchiveService) process(ctx context.Context, ev models.DashboardEvent) {
	switch ev.Type {
	case models.EventTypeTransition, models.EventTypeReset:
		if err := s.archive.SaveStateTransition(ctx, ev); err != nil {
			s.logger.Error("failed to archive transition", slog.Any("error", err))
		}
	case models.EventTypeSessionStopped:
		if err := s.archive.SaveSessionRecords(ctx, ev.SessionID, ev.Records); err != nil {
			s.logger.Error("failed to archive session",
				slog.String("session_id", ev.SessionID), slog.Any("error", err))
			return
		}
		s.logger.Info("session archived",
			slog.String("session_id", ev.SessionID), slog.Int("records", len(ev.Records)))
	}
}
