package apperrors

import (
	"errors"
	"net/http"
)

// Sentinel errors for the platform core. Handlers map these onto HTTP
// status codes with StatusCode; services compare with errors.Is.
var (
	// ErrUnauthenticated means the credential is missing, malformed or expired.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the credential is valid but the caller is not
	// allowed: wrong tenant, wrong role, or a path traversal attempt.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound covers both true absence and tenant-filtered absence.
	// The two must stay indistinguishable to the caller.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded means the tenant's storage quota would be overrun.
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrUnknownField means a dynamic query or update referenced a field
	// outside the entity's allow-list.
	ErrUnknownField = errors.New("unknown field")

	// ErrValidation covers malformed input such as bad automation config.
	ErrValidation = errors.New("validation failed")

	// ErrDependency means an external collaborator (email, webhook) failed.
	// Always contained, never surfaced as a business-operation failure.
	ErrDependency = errors.New("dependency failure")
)

// StatusCode maps a platform error to its HTTP status code.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnknownField), errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
