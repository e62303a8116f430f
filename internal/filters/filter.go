// Package filters compiles nested boolean filter trees over event fields into
// in-process predicates and parameterized SQL.
package filters

import (
	"fmt"

	"statsq/internal/pkg/apperrors"
)

// Condition is the comparison applied by a leaf filter.
type Condition string

const (
	ConditionIs                 Condition = "is"
	ConditionIsNot              Condition = "isNot"
	ConditionContains           Condition = "contains"
	ConditionDoesNotContain     Condition = "doesNotContain"
	ConditionGreaterThan        Condition = "greaterThan"
	ConditionLessThan           Condition = "lessThan"
	ConditionGreaterThanOrEqual Condition = "greaterThanOrEqual"
	ConditionLessThanOrEqual    Condition = "lessThanOrEqual"
	ConditionMatches            Condition = "matches"
	ConditionDoesNotMatch       Condition = "doesNotMatch"
	ConditionIsNull             Condition = "isNull"
	ConditionIsNotNull          Condition = "isNotNull"
)

var knownConditions = map[Condition]bool{
	ConditionIs: true, ConditionIsNot: true,
	ConditionContains: true, ConditionDoesNotContain: true,
	ConditionGreaterThan: true, ConditionLessThan: true,
	ConditionGreaterThanOrEqual: true, ConditionLessThanOrEqual: true,
	ConditionMatches: true, ConditionDoesNotMatch: true,
	ConditionIsNull: true, ConditionIsNotNull: true,
}

// Logical joins a filter to the filters declared before it at the same level.
type Logical string

const (
	LogicalAnd Logical = "and"
	LogicalOr  Logical = "or"
)

// Filter is one node of a filter tree. A node is either a leaf (Property and Condition)
// or a group (NestedFilters, possibly empty). An empty group is always true.
type Filter struct {
	Property      string    `json:"property,omitempty" yaml:"property,omitempty"`
	Condition     Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Value         any       `json:"value,omitempty" yaml:"value,omitempty"`
	Logical       Logical   `json:"logical,omitempty" yaml:"logical,omitempty"`
	Custom        bool      `json:"custom,omitempty" yaml:"custom,omitempty"`
	NestedFilters []Filter  `json:"nestedFilters,omitempty" yaml:"nestedFilters,omitempty"`
}

// IsGroup reports whether the node is a nested group.
func (f Filter) IsGroup() bool {
	return f.NestedFilters != nil
}

func (f Filter) usesValue() bool {
	return f.Condition != ConditionIsNull && f.Condition != ConditionIsNotNull
}

// Validate checks the shape of a filter tree without compiling it.
func Validate(filters []Filter) error {
	return validateLevel(filters, "filters")
}

func validateLevel(filters []Filter, path string) error {
	for i, f := range filters {
		at := fmt.Sprintf("%s[%d]", path, i)
		if err := validateNode(f, at); err != nil {
			return err
		}
	}
	return nil
}

func validateNode(f Filter, at string) error {
	switch f.Logical {
	case "", LogicalAnd, LogicalOr:
	default:
		return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".logical",
			"logical must be %q or %q, got %q", LogicalAnd, LogicalOr, f.Logical)
	}

	if f.IsGroup() {
		if f.Property != "" || f.Condition != "" {
			return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at,
				"a filter has either nestedFilters or property and condition, not both")
		}
		return validateLevel(f.NestedFilters, at+".nestedFilters")
	}

	if f.Property == "" {
		return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".property", "property is required")
	}
	if f.Condition == "" {
		return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".condition", "condition is required")
	}
	if !knownConditions[f.Condition] {
		return apperrors.NewValidationError(apperrors.CodeUnknownCondition, at+".condition",
			"unknown condition %q", f.Condition)
	}
	if !f.usesValue() {
		return nil
	}

	if f.Value == nil {
		return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".value",
			"condition %q requires a value", f.Condition)
	}
	values, list, err := parseValue(f.Value)
	if err != nil {
		return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".value", "%v", err)
	}
	if list && f.Condition != ConditionIs && f.Condition != ConditionIsNot {
		return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".value",
			"condition %q does not accept a list of values", f.Condition)
	}
	if list && len(values) == 0 {
		return apperrors.NewValidationError(apperrors.CodeInvalidFilter, at+".value", "value list is empty")
	}
	return nil
}
