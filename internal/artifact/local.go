package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/leafguard-go/internal/errors"
	"github.com/tphakala/leafguard-go/internal/logging"
)

// LocalStore stores artifacts on the local filesystem under a configured root
// directory, using the shared {owner}/{variant}/{id}.{ext} layout.
type LocalStore struct {
	root   string
	logger *slog.Logger
}

// NewLocalStore creates a local filesystem store rooted at root, creating the
// directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.Newf("local artifact store requires a root directory").
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, storageError(err, "mkdir", root)
	}
	return &LocalStore{
		root:   root,
		logger: logging.ForService("artifact-local"),
	}, nil
}

// resolve maps a storage key to an absolute path, rejecting traversal outside
// the root.
func (s *LocalStore) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", errors.Newf("invalid artifact key: %s", key).
			Component("artifact").
			Category(errors.CategoryValidation).
			Context("key", key).
			Build()
	}
	return filepath.Join(s.root, cleaned), nil
}

// Put writes the artifact atomically: data lands in a temp file in the target
// directory and is renamed into place.
func (s *LocalStore) Put(ctx context.Context, owner, detectionID string, variant Variant, data []byte, contentType string) (string, error) {
	key := ObjectKey(owner, detectionID, variant, ExtensionForContentType(contentType))
	target, err := s.resolve(key)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", storageError(err, "mkdir", key)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", storageError(err, "create-temp", key)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", storageError(err, "write", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", storageError(err, "close", key)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", storageError(err, "rename", key)
	}

	s.logger.Debug("artifact stored", "key", key, "bytes", len(data))
	return key, nil
}

// Get reads the bytes behind an artifact reference.
func (s *LocalStore) Get(ctx context.Context, ref string) ([]byte, error) {
	target, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFoundError(ref)
		}
		return nil, storageError(err, "read", ref)
	}
	return data, nil
}

// Delete removes the artifact for the key, matching any extension the variant
// was stored with.
func (s *LocalStore) Delete(ctx context.Context, owner, detectionID string, variant Variant) error {
	matches, err := s.variantMatches(owner, detectionID, variant)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return notFoundError(ObjectKey(owner, detectionID, variant, "*"))
	}
	for _, match := range matches {
		if err := os.Remove(match); err != nil && !os.IsNotExist(err) {
			return storageError(err, "delete", match)
		}
	}
	s.logger.Debug("artifact deleted", "owner", owner, "detection_id", detectionID, "variant", variant)
	return nil
}

// Exists reports whether the artifact is present.
func (s *LocalStore) Exists(ctx context.Context, owner, detectionID string, variant Variant) (bool, error) {
	matches, err := s.variantMatches(owner, detectionID, variant)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

// SignedURL returns the direct filesystem path; local storage has no access
// control layer to sign against.
func (s *LocalStore) SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	target, err := s.resolve(ref)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return "", notFoundError(ref)
		}
		return "", storageError(err, "stat", ref)
	}
	return target, nil
}

func (s *LocalStore) variantMatches(owner, detectionID string, variant Variant) ([]string, error) {
	dir, err := s.resolve(ObjectKey(owner, detectionID, variant, "x"))
	if err != nil {
		return nil, err
	}
	pattern := filepath.Join(filepath.Dir(dir), fmt.Sprintf("%s.*", detectionID))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, storageError(err, "glob", pattern)
	}
	return matches, nil
}
