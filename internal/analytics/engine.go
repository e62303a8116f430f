package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"

	"statsq/internal/config"
	"statsq/internal/events"
	"statsq/internal/filters"
	"statsq/internal/pkg/apperrors"
	"statsq/internal/pkg/metrics"
	"statsq/internal/timeframe"
)

// EventReader is the storage the engine reads from. events.Store implements it.
type EventReader interface {
	FetchEvents(ctx context.Context, p events.FetchParams) ([]events.Event, error)
	EarliestEventTimestamp(ctx context.Context, siteID uint) (*time.Time, error)
	DistinctFieldValues(ctx context.Context, p events.FieldValuesParams) ([]string, error)
	CustomPropertyKeys(ctx context.Context, siteID uint, from, to time.Time) ([]string, error)
}

// AccessChecker decides whether a caller may read a site. sites.Store implements it.
type AccessChecker interface {
	CallerMayAccessSite(ctx context.Context, callerID string, siteID uint) (bool, error)
}

type EngineOptions struct {
	Reader  EventReader
	Access  AccessChecker
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	SessionTimeout   time.Duration
	Workers          int
	MaxIntervals     int
	FieldValuesLimit int
	DefaultTimezone  string
	TimeProvider     timeframe.TimeProvider
}

// OptionsFromConfig returns the engine tuning held in cfg. Callers fill in the
// reader, access checker, logger and metrics.
func OptionsFromConfig(cfg *config.Config) EngineOptions {
	return EngineOptions{
		SessionTimeout:   cfg.SessionTimeout(),
		Workers:          cfg.QueryWorkers,
		MaxIntervals:     cfg.MaxIntervals,
		FieldValuesLimit: cfg.FieldValuesLimit,
		DefaultTimezone:  cfg.DefaultTimezone,
	}
}

// Engine answers stats queries for sites.
type Engine struct {
	reader   EventReader
	access   AccessChecker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	resolver *timeframe.Resolver

	sessionTimeout   time.Duration
	workers          int
	fieldValuesLimit int
}

func NewEngine(opts EngineOptions) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = defaultSessionTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.FieldValuesLimit <= 0 {
		opts.FieldValuesLimit = 100
	}

	return &Engine{
		reader:  opts.Reader,
		access:  opts.Access,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		resolver: timeframe.NewResolver(timeframe.ResolverConfig{
			DefaultTimezone: opts.DefaultTimezone,
			MaxIntervals:    opts.MaxIntervals,
		}, opts.TimeProvider),
		sessionTimeout:   opts.SessionTimeout,
		workers:          opts.Workers,
		fieldValuesLimit: opts.FieldValuesLimit,
	}
}

// GetStats validates, plans and executes req.
func (e *Engine) GetStats(ctx context.Context, req QueryRequest) (res *Result, err error) {
	started := time.Now()
	defer func() { e.metrics.RecordQuery("stats", time.Since(started), err) }()

	e.logger.Debug("Stats query started",
		slog.Int("site_id", int(req.SiteID)),
		slog.Int("aggregations", len(req.Aggregations)),
		slog.Int("funnels", len(req.Funnels)))

	if err := e.authorize(ctx, req.CallerID, req.SiteID); err != nil {
		return nil, err
	}

	window, err := e.resolver.Resolve(ctx, req.TimeData, func(ctx context.Context) (*time.Time, error) {
		return e.reader.EarliestEventTimestamp(ctx, req.SiteID)
	})
	if err != nil {
		return nil, err
	}

	table := filters.NewSymbolTable()
	defer func() {
		if cerr := table.Close(); cerr != nil {
			e.logger.Warn("Failed to release compiled filters", slog.Any("error", cerr))
		}
	}()

	plan, err := NewPlan(req, window, table)
	if err != nil {
		return nil, err
	}
	plan.SessionTimeout = e.sessionTimeout
	plan.Workers = e.workers
	if len(plan.Warnings) > 0 {
		e.logger.Warn("Dropped unknown aggregation metrics",
			slog.Int("site_id", int(req.SiteID)),
			slog.Any("metrics", lo.Uniq(plan.Warnings)))
	}

	where, args, err := plan.Pushdown()
	if err != nil {
		return nil, err
	}
	from, to := plan.FetchRange()
	rows, err := e.reader.FetchEvents(ctx, events.FetchParams{
		SiteID:  req.SiteID,
		From:    from,
		To:      to,
		Columns: plan.Columns(),
		Where:   where,
		Args:    args,
	})
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	e.metrics.RecordScan(len(rows), len(window.Intervals))

	out, err := Execute(ctx, plan, rows)
	if err != nil {
		return nil, err
	}
	res, err = Shape(out, plan)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("Stats query finished",
		slog.Int("site_id", int(req.SiteID)),
		slog.Time("start", window.Start),
		slog.Time("end", window.End),
		slog.Int("intervals", len(window.Intervals)),
		slog.Int("rows", len(rows)),
		slog.Bool("pushdown", where != ""),
		slog.Duration("duration", time.Since(started)))
	return res, nil
}

// FieldValuesRequest asks for the distinct values of one property.
type FieldValuesRequest struct {
	SiteID   uint                `json:"siteId"`
	CallerID string              `json:"callerId"`
	Field    string              `json:"field"`
	Custom   bool                `json:"custom,omitempty"`
	TimeData *timeframe.TimeData `json:"timeData,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
}

// ListFieldValues returns the distinct non-null values of a property, most frequent
// first, capped at the configured limit.
func (e *Engine) ListFieldValues(ctx context.Context, req FieldValuesRequest) (values []string, err error) {
	started := time.Now()
	defer func() { e.metrics.RecordQuery("field_values", time.Since(started), err) }()

	if req.Field == "" {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "field", "is required")
	}
	if req.Limit < 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "limit", "must be at least 0")
	}
	if err := e.authorize(ctx, req.CallerID, req.SiteID); err != nil {
		return nil, err
	}
	from, to, err := e.optionalWindow(ctx, req.SiteID, req.TimeData)
	if err != nil {
		return nil, err
	}

	limit := e.fieldValuesLimit
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	params := events.FieldValuesParams{SiteID: req.SiteID, From: from, To: to, Limit: limit}
	field := filters.NewSymbolTable().Resolve(req.Field, req.Custom)
	if field.Kind == filters.Custom {
		if !events.ValidJSONKey(field.Key) {
			return nil, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "field",
				"custom property %q cannot be listed", field.Key)
		}
		params.CustomKey = field.Key
	} else {
		params.Column = field.Column
	}

	values, err = e.reader.DistinctFieldValues(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list values of %s: %w", req.Field, err)
	}
	return values, nil
}

// CustomPropertiesRequest asks for the custom property keys seen on a site.
type CustomPropertiesRequest struct {
	SiteID   uint                `json:"siteId"`
	CallerID string              `json:"callerId"`
	TimeData *timeframe.TimeData `json:"timeData,omitempty"`
}

// ListCustomProperties returns the sorted distinct top-level custom property keys.
func (e *Engine) ListCustomProperties(ctx context.Context, req CustomPropertiesRequest) (keys []string, err error) {
	started := time.Now()
	defer func() { e.metrics.RecordQuery("custom_properties", time.Since(started), err) }()

	if err := e.authorize(ctx, req.CallerID, req.SiteID); err != nil {
		return nil, err
	}
	from, to, err := e.optionalWindow(ctx, req.SiteID, req.TimeData)
	if err != nil {
		return nil, err
	}

	keys, err = e.reader.CustomPropertyKeys(ctx, req.SiteID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list custom properties: %w", err)
	}
	return keys, nil
}

// authorize runs before any storage read.
func (e *Engine) authorize(ctx context.Context, callerID string, siteID uint) error {
	ok, err := e.access.CallerMayAccessSite(ctx, callerID, siteID)
	if err != nil {
		return fmt.Errorf("check access to site %d: %w", siteID, err)
	}
	if !ok {
		e.logger.Info("Rejected stats access",
			slog.String("caller_id", callerID),
			slog.Int("site_id", int(siteID)))
		return apperrors.NewAuthorizationError(callerID, siteID)
	}
	return nil
}

var (
	unboundedStart = time.Unix(0, 0).UTC()
	unboundedEnd   = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

// optionalWindow resolves td, or spans all time when td is nil.
func (e *Engine) optionalWindow(ctx context.Context, siteID uint, td *timeframe.TimeData) (time.Time, time.Time, error) {
	if td == nil {
		return unboundedStart, unboundedEnd, nil
	}
	w, err := e.resolver.Resolve(ctx, *td, func(ctx context.Context) (*time.Time, error) {
		return e.reader.EarliestEventTimestamp(ctx, siteID)
	})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return w.Start, w.End, nil
}
