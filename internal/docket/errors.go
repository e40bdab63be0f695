package docket

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors classifying pipeline failures. Wrap them with %w so callers
// can match with errors.Is.
var (
	ErrUnsupportedJurisdiction = errors.New("unsupported jurisdiction")
	ErrFetch                   = errors.New("fetch error")
	ErrStorage                 = errors.New("storage error")
	ErrSizeLimitExceeded       = errors.New("size limit exceeded")
	ErrNotFound                = errors.New("object not found")
)

// Failure reason labels recorded in outcomes and processed documents.
const (
	ReasonSchemaViolation         = "schema_violation"
	ReasonUnsupportedJurisdiction = "unsupported_jurisdiction"
	ReasonFetchError              = "fetch_error"
	ReasonStorageError            = "storage_error"
	ReasonSizeLimitExceeded       = "size_limit_exceeded"
	ReasonCanceled                = "canceled"
	ReasonInternal                = "internal"
)

// SchemaViolationError reports a missing or malformed raw field.
type SchemaViolationError struct {
	Field  string
	Reason string
}

// NewSchemaViolation builds a SchemaViolationError.
func NewSchemaViolation(field, reason string) *SchemaViolationError {
	return &SchemaViolationError{Field: field, Reason: reason}
}

func (e *SchemaViolationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("schema violation: %s", e.Field)
	}
	return fmt.Sprintf("schema violation: %s: %s", e.Field, e.Reason)
}

// Reason maps an error onto its stable reason label.
func Reason(err error) string {
	var schemaErr *SchemaViolationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &schemaErr):
		return ReasonSchemaViolation
	case errors.Is(err, ErrUnsupportedJurisdiction):
		return ReasonUnsupportedJurisdiction
	case errors.Is(err, ErrSizeLimitExceeded):
		return ReasonSizeLimitExceeded
	case errors.Is(err, ErrFetch):
		return ReasonFetchError
	case errors.Is(err, ErrStorage):
		return ReasonStorageError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCanceled
	default:
		return ReasonInternal
	}
}
