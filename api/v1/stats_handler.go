package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"statsq/internal/analytics"
	"statsq/internal/config"
	"statsq/internal/events"
	"statsq/internal/http/middleware"
	"statsq/internal/pkg/apperrors"
	"statsq/internal/pkg/metrics"
	"statsq/internal/sites"
	"statsq/internal/timeframe"
)

const (
	// CallerHeader carries the caller identity set by the upstream auth proxy.
	CallerHeader = "X-Caller-ID"

	errInvalidRequest = "Invalid request"
	errInvalidSite    = "Invalid site id"
	errQueryFailed    = "Failed to run query"
)

// StatsAPI serves the read endpoints of the query engine.
type StatsAPI struct {
	Metrics *metrics.Metrics

	// TimeProvider overrides the clock used to resolve symbolic ranges. Nil uses the system clock.
	TimeProvider timeframe.TimeProvider
}

func NewStatsAPI(m *metrics.Metrics) *StatsAPI {
	return &StatsAPI{Metrics: m}
}

func (a *StatsAPI) engine(ctx *cartridge.Context) *analytics.Engine {
	cfg, ok := ctx.Config.(*config.Config)
	if !ok {
		cfg = config.GetConfig()
	}
	db := ctx.DB()

	opts := analytics.OptionsFromConfig(cfg)
	opts.Reader = events.NewStore(db)
	opts.Access = sites.NewStore(db)
	opts.Logger = ctx.Logger
	opts.Metrics = a.Metrics
	opts.TimeProvider = a.TimeProvider
	return analytics.NewEngine(opts)
}

// QueryStatsHandler handles POST /api/v1/sites/:siteId/stats.
func (a *StatsAPI) QueryStatsHandler(ctx *cartridge.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil {
		return respondError(ctx, err)
	}

	var req analytics.QueryRequest
	if err := ctx.BodyParser(&req); err != nil {
		ctx.Logger.Debug("Failed to parse stats request", slog.Any("error", err))
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": errInvalidRequest,
			"code":  apperrors.CodeInvalidRequest,
		})
	}
	req.SiteID = siteID
	req.CallerID = callerID(ctx)

	res, err := a.engine(ctx).GetStats(ctx.UserContext(), req)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(res)
}

// FieldValuesHandler handles GET /api/v1/sites/:siteId/fields/:field/values.
func (a *StatsAPI) FieldValuesHandler(ctx *cartridge.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil {
		return respondError(ctx, err)
	}

	req := analytics.FieldValuesRequest{
		SiteID:   siteID,
		CallerID: callerID(ctx),
		Field:    ctx.Params("field"),
		Custom:   ctx.QueryBool("custom", false),
		TimeData: timeDataFromQuery(ctx),
	}
	if raw := ctx.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return respondError(ctx, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "limit", "must be a number"))
		}
		req.Limit = limit
	}

	values, err := a.engine(ctx).ListFieldValues(ctx.UserContext(), req)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"field": req.Field, "values": values})
}

// CustomPropertiesHandler handles GET /api/v1/sites/:siteId/custom-properties.
func (a *StatsAPI) CustomPropertiesHandler(ctx *cartridge.Context) error {
	siteID, err := siteParam(ctx)
	if err != nil {
		return respondError(ctx, err)
	}

	keys, err := a.engine(ctx).ListCustomProperties(ctx.UserContext(), analytics.CustomPropertiesRequest{
		SiteID:   siteID,
		CallerID: callerID(ctx),
		TimeData: timeDataFromQuery(ctx),
	})
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"properties": keys})
}

// callerID returns the identity stored by middleware.RequireCaller. It is empty, and
// every site is denied, when the route was mounted without it.
func callerID(ctx *cartridge.Context) string {
	caller, _ := ctx.Locals(middleware.CallerLocalsKey).(string)
	return caller
}

func siteParam(ctx *cartridge.Context) (uint, error) {
	id, err := ctx.ParamsInt("siteId")
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError(apperrors.CodeInvalidRequest, "siteId", errInvalidSite)
	}
	return uint(id), nil
}

// timeDataFromQuery reads range, startDate, endDate and timezone. It returns nil
// when none is set so the listing spans all time.
func timeDataFromQuery(ctx *cartridge.Context) *timeframe.TimeData {
	td := timeframe.TimeData{
		Range:     ctx.Query("range"),
		StartDate: ctx.Query("startDate"),
		EndDate:   ctx.Query("endDate"),
		Timezone:  ctx.Query("timezone"),
	}
	if td == (timeframe.TimeData{}) {
		return nil
	}
	return &td
}

func respondError(ctx *cartridge.Context, err error) error {
	status := apperrors.HTTPStatus(err)

	var validationErr *apperrors.ValidationError
	switch {
	case errors.As(err, &validationErr):
		ctx.Logger.Debug("Rejected stats request", slog.Any("error", err))
		return ctx.Status(status).JSON(fiber.Map{
			"error": validationErr.Message,
			"code":  validationErr.Code,
			"field": validationErr.Field,
		})
	case apperrors.IsAuthorization(err):
		return ctx.Status(status).JSON(fiber.Map{
			"error": "Access to site denied",
			"code":  "FORBIDDEN",
		})
	case apperrors.IsData(err):
		ctx.Logger.Warn("Stats query hit bad data", slog.Any("error", err))
		return ctx.Status(status).JSON(fiber.Map{
			"error": err.Error(),
			"code":  "DATA_ERROR",
		})
	}

	ctx.Logger.Error("Stats query failed", slog.Any("error", err))
	return ctx.Status(status).JSON(fiber.Map{
		"error": errQueryFailed,
		"code":  "QUERY_ERROR",
	})
}
