package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/errors"
	"github.com/tphakala/leafguard-go/internal/logging"
)

// S3Store stores artifacts in an S3-compatible bucket using the shared
// {owner}/{variant}/{id}.{ext} key layout. Objects are private; read access
// goes through presigned URLs.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	logger  *slog.Logger
}

// NewS3Store creates an object store backend from the artifacts configuration.
func NewS3Store(ctx context.Context, cfg *conf.ArtifactsConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3.Region))
	if err != nil {
		return nil, errors.New(fmt.Errorf("loading AWS config: %w", err)).
			Component("artifact").
			Category(errors.CategoryConfiguration).
			Build()
	}

	opts := s3.Options{
		Region:       cfg.S3.Region,
		Credentials:  awsCfg.Credentials,
		HTTPClient:   awsCfg.HTTPClient,
		UsePathStyle: cfg.S3.PathStyle,
	}
	if cfg.S3.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.S3.Endpoint)
	}
	client := s3.New(opts)

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.S3.Bucket,
		logger:  logging.ForService("artifact-s3"),
	}, nil
}

// Put uploads the artifact with a single PutObject call, which S3 applies
// atomically per key.
func (s *S3Store) Put(ctx context.Context, owner, detectionID string, variant Variant, data []byte, contentType string) (string, error) {
	key := ObjectKey(owner, detectionID, variant, ExtensionForContentType(contentType))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", storageError(err, "put-object", key)
	}

	s.logger.Debug("artifact stored", "key", key, "bytes", len(data))
	return key, nil
}

// Get downloads the bytes behind an artifact reference.
func (s *S3Store) Get(ctx context.Context, ref string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, notFoundError(ref)
		}
		return nil, storageError(err, "get-object", ref)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, storageError(err, "read-body", ref)
	}
	return data, nil
}

// Delete removes the artifact for the key. S3 deletes are idempotent, so
// absence is detected by listing the variant prefix first.
func (s *S3Store) Delete(ctx context.Context, owner, detectionID string, variant Variant) error {
	keys, err := s.variantKeys(ctx, owner, detectionID, variant)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return notFoundError(ObjectKey(owner, detectionID, variant, "*"))
	}
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return storageError(err, "delete-object", key)
		}
	}
	s.logger.Debug("artifact deleted", "owner", owner, "detection_id", detectionID, "variant", variant)
	return nil
}

// Exists reports whether any object is present under the variant key prefix.
func (s *S3Store) Exists(ctx context.Context, owner, detectionID string, variant Variant) (bool, error) {
	keys, err := s.variantKeys(ctx, owner, detectionID, variant)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// SignedURL returns a presigned GET URL valid for the given TTL.
func (s *S3Store) SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", storageError(err, "presign", ref)
	}
	return req.URL, nil
}

// variantKeys lists object keys under {owner}/{variant}/{detectionID}. to
// locate the artifact without knowing its stored extension.
func (s *S3Store) variantKeys(ctx context.Context, owner, detectionID string, variant Variant) ([]string, error) {
	prefix := path.Join(owner, string(variant), detectionID) + "."
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, storageError(err, "list-objects", prefix)
	}
	keys := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return keys, nil
}

func isNoSuchKey(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return strings.Contains(err.Error(), "NoSuchKey")
}
