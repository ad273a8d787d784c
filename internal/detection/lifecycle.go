// Package detection owns the detection lifecycle: creation of pending
// submissions, the processing transition, and terminal completion or failure
// driven by classifier output.
package detection

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/leafguard-go/internal/artifact"
	"github.com/tphakala/leafguard-go/internal/classifier"
	"github.com/tphakala/leafguard-go/internal/datastore"
	"github.com/tphakala/leafguard-go/internal/errors"
	"github.com/tphakala/leafguard-go/internal/logging"
	"github.com/tphakala/leafguard-go/internal/observability"
)

// DefaultThreshold is the confidence below which candidates do not count as a
// disease finding.
const DefaultThreshold = 0.70

// Manager orchestrates the detection state machine. All dependencies are
// injected at construction; the manager holds no mutable state of its own, so
// concurrent submissions only coordinate through the datastore and the
// artifact store.
type Manager struct {
	ds              datastore.Interface
	store           artifact.Store
	classifier      classifier.Interface
	threshold       float64
	classifyTimeout time.Duration
	metrics         *observability.Metrics
	logger          *slog.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(ds datastore.Interface, store artifact.Store, cls classifier.Interface, threshold float64, classifyTimeout time.Duration, metrics *observability.Metrics) *Manager {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if classifyTimeout <= 0 {
		classifyTimeout = 30 * time.Second
	}
	return &Manager{
		ds:              ds,
		store:           store,
		classifier:      cls,
		threshold:       threshold,
		classifyTimeout: classifyTimeout,
		metrics:         metrics,
		logger:          logging.ForService("detection"),
	}
}

// NewID returns a fresh detection id. Callers allocate the id before
// derivation so artifact keys and the database row agree.
func NewID() string {
	return uuid.New().String()
}

// Create persists a new pending detection once derivation has succeeded and
// returns it to the caller synchronously.
func (m *Manager) Create(ctx context.Context, id, owner, originalRef string, lat, lng *float64) (*datastore.Detection, error) {
	detection := &datastore.Detection{
		ID:                  id,
		Owner:               owner,
		OriginalArtifactRef: originalRef,
		Status:              datastore.StatusPending,
		LocationLat:         lat,
		LocationLng:         lng,
		CreatedAt:           time.Now().UTC(),
	}
	if err := m.ds.CreateDetection(ctx, detection); err != nil {
		return nil, err
	}
	m.logger.Info("detection created",
		"detection_id", detection.ID,
		"owner", owner)
	return detection, nil
}

// BeginProcessing transitions a pending detection to processing. Duplicate
// submissions of the same id lose the conditional update and get a conflict.
func (m *Manager) BeginProcessing(ctx context.Context, id, owner string) error {
	return m.ds.TransitionToProcessing(ctx, id, owner)
}

// Complete records the classifier's ranked output as the terminal completed
// state. The whole write is atomic; a repeated call conflicts.
func (m *Manager) Complete(ctx context.Context, id, owner string, results []classifier.Result) error {
	diseases, confidenceScore := m.buildDiseases(results)
	err := m.ds.CompleteDetection(ctx, id, owner, confidenceScore, time.Now().UTC(), diseases)
	if err != nil {
		return err
	}
	m.metrics.RecordDetectionOutcome(datastore.StatusCompleted)
	m.logger.Info("detection completed",
		"detection_id", id,
		"owner", owner,
		"diseases", len(diseases),
		"confidence_score", confidenceScore)
	return nil
}

// Fail records the terminal failed state. The cause is logged for
// observability but not persisted on the row.
func (m *Manager) Fail(ctx context.Context, id, owner string, cause error) error {
	if err := m.ds.FailDetection(ctx, id, owner, time.Now().UTC()); err != nil {
		return err
	}
	m.metrics.RecordDetectionOutcome(datastore.StatusFailed)
	m.logger.Error("detection failed",
		"detection_id", id,
		"owner", owner,
		"error", cause)
	return nil
}

// Process drives one detection through analysis: begin processing, fetch the
// processed variant, classify it under a timeout, then complete or fail.
// After a successful BeginProcessing the detection always reaches a terminal
// state before Process returns.
func (m *Manager) Process(ctx context.Context, id, owner string) (datastore.Detection, error) {
	if err := m.BeginProcessing(ctx, id, owner); err != nil {
		return datastore.Detection{}, err
	}

	processedRef := artifact.ObjectKey(owner, id, artifact.VariantProcessed, "jpg")
	image, err := m.store.Get(ctx, processedRef)
	if err != nil {
		return m.resolveFailure(ctx, id, owner, err)
	}

	classifyCtx, cancel := context.WithTimeout(ctx, m.classifyTimeout)
	defer cancel()

	start := time.Now()
	results, err := m.classifier.Classify(classifyCtx, image)
	m.metrics.ObserveClassifier(time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordClassifierError()
		return m.resolveFailure(ctx, id, owner, wrapClassifierError(err))
	}

	if err := m.Complete(ctx, id, owner, results); err != nil {
		// Classifier output the datastore refuses to persist still resolves
		// to a terminal state; only transition conflicts propagate as-is.
		if errors.HasCategory(err, errors.CategoryValidation) {
			return m.resolveFailure(ctx, id, owner, wrapClassifierError(err))
		}
		return datastore.Detection{}, err
	}
	return m.ds.GetDetection(ctx, id, owner)
}

// StuckProcessing lists detections that have sat in processing longer than
// maxAge, for external reconciliation.
func (m *Manager) StuckProcessing(ctx context.Context, maxAge time.Duration) ([]datastore.Detection, error) {
	detections, err := m.ds.StuckDetections(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return nil, err
	}
	m.metrics.SetStuckProcessing(len(detections))
	return detections, nil
}

// resolveFailure transitions the detection to failed and surfaces the cause.
// The detection is never left in processing once analysis has been attempted.
func (m *Manager) resolveFailure(ctx context.Context, id, owner string, cause error) (datastore.Detection, error) {
	if err := m.Fail(ctx, id, owner, cause); err != nil {
		m.logger.Error("could not record detection failure",
			"detection_id", id,
			"error", err)
	}
	detection, getErr := m.ds.GetDetection(ctx, id, owner)
	if getErr != nil {
		return datastore.Detection{}, cause
	}
	return detection, cause
}

// buildDiseases converts classifier output into the disease rows to persist
// and the detection's confidence score, applying the threshold policy.
func (m *Manager) buildDiseases(results []classifier.Result) ([]datastore.Disease, float64) {
	maxObserved := 0.0
	anyAboveThreshold := false
	for _, r := range results {
		c := clampConfidence(r.Confidence)
		if c > maxObserved {
			maxObserved = c
		}
		if c >= m.threshold {
			anyAboveThreshold = true
		}
	}

	if !anyAboveThreshold {
		// Nothing crossed the threshold: record a single synthetic healthy
		// finding whose confidence is the complement of the best candidate.
		confidence := 1.0 - maxObserved
		return []datastore.Disease{{
			DiseaseName: datastore.HealthyLabel,
			Confidence:  confidence,
			Treatments:  DefaultTreatments(datastore.HealthyLabel),
		}}, confidence
	}

	diseases := make([]datastore.Disease, 0, len(results))
	for _, r := range results {
		if r.Confidence < 0 {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(r.Label))
		treatments := r.Treatments
		if len(treatments) == 0 {
			treatments = DefaultTreatments(label)
		}
		diseases = append(diseases, datastore.Disease{
			DiseaseName:     label,
			Confidence:      clampConfidence(r.Confidence),
			AffectedRegions: convertRegions(r.Regions),
			Treatments:      treatments,
		})
	}
	return diseases, clampConfidence(results[0].Confidence)
}

// clampConfidence caps over-range classifier scores at 1.0. Negative scores
// are handled by the caller (skipped as candidates, floored for the healthy
// complement).
func clampConfidence(c float64) float64 {
	if c > 1 {
		return 1
	}
	return c
}

// convertRegions keeps only geometrically valid rectangles; classifiers
// occasionally emit degenerate boxes.
func convertRegions(rects []classifier.Rect) []datastore.Region {
	regions := make([]datastore.Region, 0, len(rects))
	for _, r := range rects {
		region := datastore.Region{
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
		}
		if !region.Valid() {
			continue
		}
		regions = append(regions, region)
	}
	if len(regions) == 0 {
		return nil
	}
	return regions
}

func wrapClassifierError(err error) error {
	if errors.HasCategory(err, errors.CategoryClassifier) || errors.HasCategory(err, errors.CategoryTimeout) {
		return err
	}
	return errors.New(err).
		Component("detection").
		Category(errors.CategoryClassifier).
		Build()
}
