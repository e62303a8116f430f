package analytics

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"statsq/internal/filters"
	"statsq/internal/pkg/apperrors"
	"statsq/internal/timeframe"
)

// Count aggregation metrics.
const (
	MetricCompletions      = "completions"
	MetricVisitors         = "visitors"
	MetricAverageTimeSpent = "averageTimeSpent"
	MetricBounceRate       = "bounceRate"
	MetricEntries          = "entries"
	MetricExits            = "exits"
	MetricSessionDuration  = "sessionDuration"
	MetricViewsPerSession  = "viewsPerSession"
)

// Top-level metrics a request may ask for. The four derived metrics share their
// names with the count metrics.
const (
	SectionAggregations = "aggregations"
	SectionFunnels      = "funnels"
)

// SortByValue sorts count groups by the grouped property value.
const SortByValue = "currentField"

var countMetrics = []string{
	MetricCompletions, MetricVisitors, MetricAverageTimeSpent, MetricBounceRate,
	MetricEntries, MetricExits, MetricSessionDuration, MetricViewsPerSession,
}

var derivedMetrics = []string{
	MetricAverageTimeSpent, MetricBounceRate, MetricSessionDuration, MetricViewsPerSession,
}

// AggregationType selects how an aggregation reduces its rows.
type AggregationType string

const (
	AggregationCount AggregationType = "count"
	AggregationSum   AggregationType = "sum"
	AggregationAvg   AggregationType = "avg"
)

// Sort orders the groups of a count aggregation.
type Sort struct {
	Dimension string `json:"dimension" yaml:"dimension"`
	Order     string `json:"order,omitempty" yaml:"order,omitempty" validate:"omitempty,oneof=asc desc"`
}

// Aggregation groups rows by a property (count) or reduces a numeric property (sum, avg).
type Aggregation struct {
	Type     AggregationType  `json:"type" yaml:"type" validate:"required,oneof=count sum avg"`
	Property string           `json:"property" yaml:"property" validate:"required"`
	Custom   bool             `json:"custom,omitempty" yaml:"custom,omitempty"`
	Metrics  []string         `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Filters  []filters.Filter `json:"filters,omitempty" yaml:"filters,omitempty"`
	Sort     *Sort            `json:"sort,omitempty" yaml:"sort,omitempty"`
	Limit    int              `json:"limit,omitempty" yaml:"limit,omitempty" validate:"gte=0"`
	Offset   int              `json:"offset,omitempty" yaml:"offset,omitempty" validate:"gte=0"`
}

// Funnel is an ordered list of steps; each step is a filter list a row must pass.
type Funnel struct {
	Name  string             `json:"name" yaml:"name"`
	Steps [][]filters.Filter `json:"steps" yaml:"steps" validate:"required,min=1,dive,min=1"`
}

// QueryRequest is one stats query for one site.
type QueryRequest struct {
	SiteID       uint               `json:"siteId" yaml:"siteId" validate:"required"`
	CallerID     string             `json:"callerId" yaml:"callerId"`
	TimeData     timeframe.TimeData `json:"timeData" yaml:"timeData"`
	Aggregations []Aggregation      `json:"aggregations,omitempty" yaml:"aggregations,omitempty" validate:"dive"`
	Filters      []filters.Filter   `json:"filters,omitempty" yaml:"filters,omitempty"`
	Metrics      []string           `json:"metrics,omitempty" yaml:"metrics,omitempty" validate:"dive,oneof=aggregations averageTimeSpent bounceRate sessionDuration viewsPerSession funnels"`
	Funnels      []Funnel           `json:"funnels,omitempty" yaml:"funnels,omitempty" validate:"dive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the request shape. It returns the count metric names that were
// dropped because they are unknown; those are warnings, not errors.
func (r *QueryRequest) Validate() (dropped []string, err error) {
	if err := validate.Struct(r); err != nil {
		return nil, convertValidationErrors(err)
	}
	if err := timeframe.Validate(r.TimeData); err != nil {
		return nil, err
	}
	if err := filters.Validate(r.Filters); err != nil {
		return nil, err
	}

	for i := range r.Aggregations {
		d, err := r.Aggregations[i].normalize(fmt.Sprintf("aggregations[%d]", i))
		if err != nil {
			return nil, err
		}
		dropped = append(dropped, d...)
	}

	for i, f := range r.Funnels {
		for j, step := range f.Steps {
			if err := filters.Validate(step); err != nil {
				return nil, fmt.Errorf("funnels[%d].steps[%d]: %w", i, j, err)
			}
		}
	}
	return dropped, nil
}

// normalize drops unknown and duplicate count metrics and checks the metric rules
// of each aggregation type.
func (a *Aggregation) normalize(field string) ([]string, error) {
	if err := filters.Validate(a.Filters); err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}

	switch a.Type {
	case AggregationSum, AggregationAvg:
		if len(a.Metrics) > 0 {
			return nil, apperrors.NewValidationError(apperrors.CodeInvalidAggregation, field+".metrics",
				"%s aggregations take no metrics", a.Type)
		}
		return nil, nil
	}

	known, unknown := lo.FilterReject(lo.Uniq(a.Metrics), func(m string, _ int) bool {
		return lo.Contains(countMetrics, m)
	})
	if len(known) == 0 {
		return nil, apperrors.NewValidationError(apperrors.CodeInvalidAggregation, field+".metrics",
			"count aggregations need at least one of %s", strings.Join(countMetrics, ", "))
	}
	a.Metrics = known
	return unknown, nil
}

// sections returns the top-level metrics to compute, applying the default.
func (r *QueryRequest) sections() []string {
	if len(r.Metrics) == 0 {
		return []string{SectionAggregations, SectionFunnels}
	}
	return lo.Uniq(r.Metrics)
}

func convertValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperrors.NewValidationError(apperrors.CodeInvalidRequest, "", "%v", err)
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "QueryRequest.")
	code := apperrors.CodeInvalidRequest
	switch {
	case strings.HasPrefix(field, "aggregations"):
		code = apperrors.CodeInvalidAggregation
	case strings.HasPrefix(field, "funnels"):
		code = apperrors.CodeInvalidFunnel
	case strings.HasPrefix(field, "metrics"):
		code = apperrors.CodeInvalidMetric
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "oneof":
		msg = fmt.Sprintf("must be one of [%s], got %v", fe.Param(), fe.Value())
	case "min":
		msg = fmt.Sprintf("must contain at least %s element(s)", fe.Param())
	case "gte":
		msg = fmt.Sprintf("must be at least %s", fe.Param())
	default:
		msg = fmt.Sprintf("failed the %q check", fe.Tag())
	}
	return apperrors.NewValidationError(code, field, "%s", msg)
}
