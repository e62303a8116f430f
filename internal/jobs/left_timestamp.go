package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"statsq/internal/config"
	"statsq/internal/events"
	"statsq/internal/pkg/metrics"
	"statsq/internal/sessions"
)

// LeftTimestampJob fills events.left_timestamp for settled pageviews: the time the
// visitor opened the next pageview of the same session. Exits keep a NULL value.
type LeftTimestampJob struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	cfg       *config.Config
	metrics   *metrics.Metrics

	// Now is the job's clock.
	Now func() time.Time
}

func NewLeftTimestampJob(dbManager cartridge.DBManager, logger *slog.Logger, cfg *config.Config, m *metrics.Metrics) *LeftTimestampJob {
	return &LeftTimestampJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
		metrics:   m,
		Now:       time.Now,
	}
}

// RunContext processes the pageviews of the lookback window and returns the number of
// updated events. A pageview is settled once it is older than the session timeout, so
// its successor can no longer change.
func (j *LeftTimestampJob) RunContext(ctx context.Context) (updated int64, err error) {
	defer func() { j.metrics.RecordBackfill(updated, err) }()

	now := j.Now().UTC()
	timeout := j.cfg.SessionTimeout()
	from := now.Add(-j.cfg.BackfillLookback())
	settledBefore := now.Add(-timeout)

	store := events.NewStore(j.dbManager.GetConnection())
	rows, err := store.PageviewsForBackfill(ctx, from, now, settledBefore)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		j.logger.Debug("No pageviews waiting for a left timestamp")
		return 0, nil
	}

	left := make(map[uint]time.Time)
	for _, a := range sessions.Annotate(rows, sessions.Needs{TimeOnPage: true}, timeout) {
		if a.LeftTimestamp != nil || !a.Timestamp.Before(settledBefore) {
			continue
		}
		if _, ok := a.TimeOnPage(); ok {
			left[a.ID] = *a.NextPageview
		}
	}

	updated, err = store.SetLeftTimestamps(ctx, left)
	if err != nil {
		return updated, fmt.Errorf("backfill left timestamps: %w", err)
	}

	j.logger.Info("Left timestamps backfilled",
		slog.Int("pageviews", len(rows)),
		slog.Int64("updated", updated),
		slog.Time("from", from),
		slog.Time("settled_before", settledBefore))
	return updated, nil
}
