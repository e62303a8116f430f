package analytics

import "statsq/internal/pkg/apperrors"

// Error kinds returned by the engine. They live in apperrors so that the filter
// and timeframe packages can raise them too.
type (
	ValidationError    = apperrors.ValidationError
	AuthorizationError = apperrors.AuthorizationError
	DataError          = apperrors.DataError
)

var (
	IsValidation    = apperrors.IsValidation
	IsAuthorization = apperrors.IsAuthorization
	IsData          = apperrors.IsData
	HTTPStatus      = apperrors.HTTPStatus
)
