package report

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"aerospin-backend/internal/clock"
	"aerospin-backend/internal/models"
)

// DefaultRetention is how long a rendered report stays on disk
const DefaultRetention = time.Minute

// Store writes report files to a directory and removes each one once its
// retention has elapsed.
type Store struct {
	dir       string
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]clock.Timer
	closed  bool
}

// NewStore creates dir if needed. A non-positive retention selects
// DefaultRetention.
func NewStore(dir string, retention time.Duration, clk clock.Clock, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "aerospin-reports")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:       dir,
		retention: retention,
		clock:     clk,
		logger:    logger.With(slog.String("component", "report")),
		pending:   make(map[string]clock.Timer),
	}, nil
}

// Artifact is a rendered report on disk
type Artifact struct {
	Path     string
	Filename string
}

// Write renders records to a new file and schedules its deletion
func (s *Store) Write(records []models.SessionRecord, generatedAt time.Time) (Artifact, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Artifact{}, fmt.Errorf("report store is closed")
	}

	name := fmt.Sprintf("aerospin_report_%s.pdf", generatedAt.Format("20060102_150405"))
	path := filepath.Join(s.dir, uuid.NewString()[:8]+"_"+name)

	f, err := os.Create(path)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create report file: %w", err)
	}
	renderErr := RenderPDF(f, records, generatedAt)
	closeErr := f.Close()
	if renderErr != nil || closeErr != nil {
		os.Remove(path)
		if renderErr != nil {
			return Artifact{}, renderErr
		}
		return Artifact{}, fmt.Errorf("failed to write report file: %w", closeErr)
	}

	s.mu.Lock()
	s.pending[path] = s.clock.AfterFunc(s.retention, func() { s.remove(path) })
	s.mu.Unlock()

	s.logger.Info("report written",
		slog.String("path", path), slog.Int("records", len(records)), slog.Duration("retention", s.retention))
	return Artifact{Path: path, Filename: name}, nil
}

func (s *Store) remove(path string) {
	s.mu.Lock()
	delete(s.pending, path)
	s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove report", slog.String("path", path), slog.Any("error", err))
		return
	}
	s.logger.Debug("report removed", slog.String("path", path))
}

// Pending reports how many files are awaiting deletion
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels scheduled deletions and removes the files immediately
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	paths := make([]string, 0, len(s.pending))
	for path, timer := range s.pending {
		timer.Stop()
		paths = append(paths, path)
	}
	s.pending = make(map[string]clock.Timer)
	s.mu.Unlock()

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove report", slog.String("path", path), slog.Any("error", err))
		}
	}
	return nil
}
