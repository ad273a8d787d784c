package artifact

import (
	"context"

	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/errors"
)

// NewStore builds the configured storage backend. The returned Store is the
// only handle to artifact storage; callers receive it as an explicit
// dependency rather than reaching for package state.
func NewStore(ctx context.Context, cfg *conf.ArtifactsConfig) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStore(cfg.Local.Path)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, errors.Newf("unknown artifact backend: %q", cfg.Backend).
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
