// Package datastore provides error handling helpers for database operations
package datastore

import (
	"github.com/tphakala/leafguard-go/internal/errors"
)

// dbError creates a categorized database error with operation context.
// Driver-level details stay inside the wrapped error; handlers log them but
// never return them to callers verbatim.
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// notFoundError creates a not-found error for a missing row
func notFoundError(resource, identifier string) error {
	return errors.Newf("%s not found", resource).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("resource", resource).
		Context("identifier", identifier).
		Build()
}

// conflictError creates a conflict error for an ineligible lifecycle transition
func conflictError(operation, identifier, currentStatus string) error {
	return errors.Newf("detection %s is not eligible for %s", identifier, operation).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("operation", operation).
		Context("identifier", identifier).
		Context("status", currentStatus).
		Build()
}

// validationError creates a validation error for a rejected value
func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}
