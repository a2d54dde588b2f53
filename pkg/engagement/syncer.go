package engagement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/moneymentor/mentor/internal/logging"
	"github.com/moneymentor/mentor/pkg/domain"
)

// Exporter ships a batch of engagement reports to an external sink
// (spreadsheet, CSV file, warehouse). Implementations own the sink's schema.
type Exporter interface {
	Export(ctx context.Context, reports []Report) error
}

// Source provides the sessions to report on. *session.Manager satisfies it.
type Source interface {
	Snapshot(ctx context.Context) []*domain.Session
}

// Status describes the syncer for health/debug endpoints.
type Status struct {
	Running         bool       `json:"is_running"`
	LastSync        *time.Time `json:"last_sync_time,omitempty"`
	IntervalSeconds int        `json:"sync_interval_seconds"`
	NextSyncSeconds int        `json:"next_sync_in_seconds"`
}

// Syncer periodically exports engagement reports for all live sessions.
// Export failures are logged and retried on the next tick; they never affect
// the session path.
type Syncer struct {
	source   Source
	exporter Exporter
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	lastSync time.Time
	quit     chan struct{}
	done     chan struct{}
}

// SyncerOption configures the Syncer.
type SyncerOption func(*Syncer)

// WithLogger configures a logger for the Syncer.
func WithLogger(logger *slog.Logger) SyncerOption {
	return func(s *Syncer) {
		s.logger = logger
	}
}

// NewSyncer creates a syncer exporting every interval.
func NewSyncer(source Source, exporter Exporter, interval time.Duration, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		source:   source,
		exporter: exporter,
		interval: interval,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background sync loop. Calling Start on a running syncer
// is a no-op.
func (s *Syncer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.logger.Warn("engagement syncer already running")
		return
	}
	s.running = true
	s.quit = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(s.quit, s.done)
	s.logger.Info("engagement syncer started", "interval", s.interval)
}

// Stop halts the background loop and waits for it to exit.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	quit, done := s.quit, s.done
	s.mu.Unlock()

	close(quit)
	<-done
}

func (s *Syncer) loop(quit <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			if err := s.sync(context.Background()); err != nil {
				s.logger.Error("engagement sync failed", "err", err)
			}
		}
	}
}

// ForceSync runs one export immediately, outside the schedule.
func (s *Syncer) ForceSync(ctx context.Context) error {
	return s.sync(ctx)
}

func (s *Syncer) sync(ctx context.Context) error {
	sessions := s.source.Snapshot(ctx)
	if len(sessions) == 0 {
		s.logger.Debug("no sessions to export")
		return nil
	}

	reports := BuildReports(sessions, time.Now().UTC())
	if err := s.exporter.Export(ctx, reports); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastSync = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Info("engagement sync complete", "sessions", len(reports))
	return nil
}

// Status reports the syncer's current state.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:         s.running,
		IntervalSeconds: int(s.interval.Seconds()),
	}
	if !s.lastSync.IsZero() {
		last := s.lastSync
		st.LastSync = &last
		if next := int(time.Until(last.Add(s.interval)).Seconds()); next > 0 {
			st.NextSyncSeconds = next
		}
	}
	return st
}
