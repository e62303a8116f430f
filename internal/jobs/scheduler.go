package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/karloscodes/cartridge"

	"statsq/internal/config"
	"statsq/internal/pkg/metrics"
)

const backfillJobName = "left_timestamp_backfill"

// Scheduler runs the maintenance jobs of the event log. It implements
// cartridge.BackgroundWorker.
type Scheduler struct {
	logger   *slog.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	running bool
	busy    bool

	leftTimestamps *LeftTimestampJob
}

func NewScheduler(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config, m *metrics.Metrics) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	interval := time.Duration(cfg.JobIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}

	return &Scheduler{
		logger:         logger,
		interval:       interval,
		ctx:            ctx,
		cancel:         cancel,
		leftTimestamps: NewLeftTimestampJob(dbManager, logger, cfg, m),
	}, nil
}

// acquire marks a job as executing. Only one job runs at a time; a tick that finds
// the previous run still going is skipped.
func (s *Scheduler) acquire(jobName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if s.busy {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		return false
	}
	s.busy = true
	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// backfill runs the left timestamp job under the single-flight guard. Panics are
// logged and reported as zero updates.
func (s *Scheduler) backfill(ctx context.Context) (updated int64, err error) {
	if !s.acquire(backfillJobName) {
		return 0, nil
	}
	defer s.release()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", backfillJobName),
				slog.Any("panic", r))
			updated = 0
		}
	}()

	return s.leftTimestamps.RunContext(ctx)
}

// Start launches the backfill ticker. A second call is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Info("Background jobs are disabled.")
		return nil
	}
	if s.running {
		s.mu.Unlock()
		s.logger.Info("Background jobs already running.")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting left timestamp backfill job", slog.Duration("interval", s.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			if _, err := s.backfill(s.ctx); err != nil {
				s.logger.Error("Error executing job", slog.String("job", backfillJobName), slog.Any("error", err))
			}
			select {
			case <-ticker.C:
			case <-s.ctx.Done():
				s.logger.Info("Left timestamp backfill job stopped")
				return
			}
		}
	}()
	return nil
}

// Stop cancels the running job and waits for it. The scheduler cannot be restarted.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("Background jobs stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// BackfillNow runs the backfill once outside the ticker. It returns 0 when the
// scheduler is stopped or a scheduled run is in progress.
func (s *Scheduler) BackfillNow(ctx context.Context) (int64, error) {
	return s.backfill(ctx)
}
