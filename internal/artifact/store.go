// Package artifact provides durable byte storage for detection image variants.
// Two interchangeable backends are available: local filesystem and S3-compatible
// object storage. All implementations must be safe for concurrent use.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tphakala/leafguard-go/internal/errors"
)

// Variant identifies one of the stored image renditions of a detection.
type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantProcessed Variant = "processed"
	VariantThumbnail Variant = "thumbnail"
)

// Variants lists every rendition a fully derived detection owns.
var Variants = []Variant{VariantOriginal, VariantProcessed, VariantThumbnail}

// Store is the storage backend capability for detection artifacts.
type Store interface {
	// Put writes data under the (owner, detectionID, variant) key and returns
	// the artifact reference resolving to it.
	Put(ctx context.Context, owner, detectionID string, variant Variant, data []byte, contentType string) (string, error)

	// Get retrieves the bytes behind a previously returned artifact reference.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes the artifact for the given key. Deleting an absent
	// artifact returns a not-found error; callers treating delete as
	// idempotent should check for it with errors.HasCategory.
	Delete(ctx context.Context, owner, detectionID string, variant Variant) error

	// Exists reports whether an artifact is present for the given key.
	Exists(ctx context.Context, owner, detectionID string, variant Variant) (bool, error)

	// SignedURL returns a URL granting temporary read access to the artifact.
	// The local backend returns a direct file path instead.
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// ObjectKey computes the storage key for an artifact before any I/O happens.
// Layout is shared by every backend: {owner}/{variant}/{detectionID}.{ext}
func ObjectKey(owner, detectionID string, variant Variant, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return path.Join(owner, string(variant), fmt.Sprintf("%s.%s", detectionID, ext))
}

// ExtensionForContentType maps an accepted upload content type to the file
// extension used in storage keys. Derived variants are always re-encoded to
// JPEG regardless of the original format.
func ExtensionForContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// DeleteAll removes every variant stored for a detection, tolerating variants
// that were never written. Used to honor the cleanup obligation when
// derivation fails partway and when a detection row is deleted.
func DeleteAll(ctx context.Context, store Store, owner, detectionID string) error {
	var errs []error
	for _, variant := range Variants {
		if err := store.Delete(ctx, owner, detectionID, variant); err != nil {
			if errors.HasCategory(err, errors.CategoryNotFound) {
				continue
			}
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.New(errors.Join(errs...)).
			Component("artifact").
			Category(errors.CategoryStorage).
			Context("detection_id", detectionID).
			Build()
	}
	return nil
}

func notFoundError(key string) error {
	return errors.Newf("artifact not found: %s", key).
		Component("artifact").
		Category(errors.CategoryNotFound).
		Context("key", key).
		Build()
}

func storageError(err error, operation, key string) error {
	return errors.New(err).
		Component("artifact").
		Category(errors.CategoryStorage).
		Context("operation", operation).
		Context("key", key).
		Build()
}
