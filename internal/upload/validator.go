// Package upload handles admission of raw image uploads and derivation of the
// stored artifact variants.
package upload

import (
	"strings"

	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/errors"
)

// Validator performs upload admission control. It is pure and stateless, so a
// single instance serves all concurrent uploads.
type Validator struct {
	maxSize      int64
	allowedTypes map[string]struct{}
}

// NewValidator builds a validator from the upload configuration.
func NewValidator(cfg *conf.UploadConfig) *Validator {
	allowed := make(map[string]struct{}, len(cfg.AllowedTypes))
	for _, ct := range cfg.AllowedTypes {
		allowed[normalizeContentType(ct)] = struct{}{}
	}
	return &Validator{
		maxSize:      cfg.MaxSize,
		allowedTypes: allowed,
	}
}

// Validate accepts or rejects an upload based on its declared content type and
// byte length, before anything is written. Rejection has no side effects.
func (v *Validator) Validate(contentType string, size int64) error {
	normalized := normalizeContentType(contentType)
	if normalized == "" {
		return validationError("missing content type", "content_type", contentType)
	}
	if _, ok := v.allowedTypes[normalized]; !ok {
		return validationError("unsupported content type", "content_type", contentType)
	}
	if size <= 0 {
		return validationError("empty upload", "size", size)
	}
	if size > v.maxSize {
		return validationError("upload exceeds maximum size", "size", size)
	}
	return nil
}

// MaxSize returns the configured upload size limit in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// normalizeContentType lowercases the type and strips any parameters such as
// charset or boundary.
func normalizeContentType(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func validationError(message, field string, value any) error {
	return errors.Newf("%s", message).
		Component("upload").
		Category(errors.CategoryValidation).
		Context("field", field).
		Context("value", value).
		Build()
}
