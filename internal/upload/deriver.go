package upload

import (
	"bytes"
	"context"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // registers WebP decoding for imaging.Decode

	"github.com/tphakala/leafguard-go/internal/artifact"
	"github.com/tphakala/leafguard-go/internal/errors"
	"github.com/tphakala/leafguard-go/internal/logging"
)

const (
	// ProcessedMaxEdge bounds the longest edge of the processed variant.
	ProcessedMaxEdge = 1024
	// ThumbnailSize is the exact edge length of the square thumbnail.
	ThumbnailSize = 200

	processedQuality = 85
	thumbnailQuality = 80

	derivedContentType = "image/jpeg"
)

// ArtifactRefs holds the storage references of all variants written for one
// submission.
type ArtifactRefs struct {
	Original  string
	Processed string
	Thumbnail string
}

// Deriver produces the processed and thumbnail variants of an admitted
// original image and writes all three variants through the storage backend.
type Deriver struct {
	store  artifact.Store
	logger *slog.Logger
}

// NewDeriver creates a deriver writing through the given store.
func NewDeriver(store artifact.Store) *Deriver {
	return &Deriver{
		store:  store,
		logger: logging.ForService("upload-deriver"),
	}
}

// Derive decodes the original, writes it unchanged, then writes the bounded
// processed copy and the 200x200 thumbnail. If any write fails, every variant
// already written for this submission is deleted before the error is returned,
// so a partial artifact set never outlives the call.
func (d *Deriver) Derive(ctx context.Context, owner, detectionID string, original []byte, contentType string) (ArtifactRefs, error) {
	img, err := imaging.Decode(bytes.NewReader(original), imaging.AutoOrientation(true))
	if err != nil {
		return ArtifactRefs{}, errors.New(err).
			Component("upload").
			Category(errors.CategoryImageProcessing).
			Context("detection_id", detectionID).
			Build()
	}

	refs := ArtifactRefs{}

	refs.Original, err = d.store.Put(ctx, owner, detectionID, artifact.VariantOriginal, original, contentType)
	if err != nil {
		return ArtifactRefs{}, d.cleanup(ctx, owner, detectionID, err)
	}

	processed, err := encodeJPEG(boundImage(img), processedQuality)
	if err != nil {
		return ArtifactRefs{}, d.cleanup(ctx, owner, detectionID, err)
	}
	refs.Processed, err = d.store.Put(ctx, owner, detectionID, artifact.VariantProcessed, processed, derivedContentType)
	if err != nil {
		return ArtifactRefs{}, d.cleanup(ctx, owner, detectionID, err)
	}

	thumb, err := encodeJPEG(imaging.Fill(img, ThumbnailSize, ThumbnailSize, imaging.Center, imaging.Lanczos), thumbnailQuality)
	if err != nil {
		return ArtifactRefs{}, d.cleanup(ctx, owner, detectionID, err)
	}
	refs.Thumbnail, err = d.store.Put(ctx, owner, detectionID, artifact.VariantThumbnail, thumb, derivedContentType)
	if err != nil {
		return ArtifactRefs{}, d.cleanup(ctx, owner, detectionID, err)
	}

	d.logger.Info("artifact variants derived",
		"owner", owner,
		"detection_id", detectionID,
		"original_bytes", len(original),
		"processed_bytes", len(processed),
		"thumbnail_bytes", len(thumb))

	return refs, nil
}

// cleanup honors the cleanup obligation: delete whatever variants were written
// for this submission, then surface the original failure.
func (d *Deriver) cleanup(ctx context.Context, owner, detectionID string, cause error) error {
	if err := artifact.DeleteAll(ctx, d.store, owner, detectionID); err != nil {
		d.logger.Error("artifact cleanup after failed derivation incomplete",
			"owner", owner,
			"detection_id", detectionID,
			"error", err)
	}
	if errors.HasCategory(cause, errors.CategoryStorage) {
		return cause
	}
	return errors.New(cause).
		Component("upload").
		Category(errors.CategoryImageProcessing).
		Context("detection_id", detectionID).
		Build()
}

// boundImage scales the image so its longest edge is at most ProcessedMaxEdge,
// preserving aspect ratio and never upscaling.
func boundImage(img image.Image) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= ProcessedMaxEdge && bounds.Dy() <= ProcessedMaxEdge {
		return img
	}
	return imaging.Fit(img, ProcessedMaxEdge, ProcessedMaxEdge, imaging.Lanczos)
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
