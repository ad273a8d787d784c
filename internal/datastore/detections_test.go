// detections_test.go: Tests for detection lifecycle persistence
package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/leafguard-go/internal/errors"
)

// setupTestDB creates a temp-file SQLite database for testing. A file-backed
// DB is used instead of ":memory:" because the pooled driver gives every
// connection its own private in-memory database.
func setupTestDB(t *testing.T) *DataStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&Detection{}, &Disease{}))

	return &DataStore{DB: db}
}

func newPendingDetection(owner string) *Detection {
	id := uuid.New().String()
	return &Detection{
		ID:                  id,
		Owner:               owner,
		OriginalArtifactRef: owner + "/original/" + id + ".jpg",
		Status:              StatusPending,
		CreatedAt:           time.Now().UTC(),
	}
}

func TestCreateAndGetDetection(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))

	got, err := ds.GetDetection(ctx, detection.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, detection.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Nil(t, got.ConfidenceScore)
	assert.Nil(t, got.ProcessedAt)
	assert.Empty(t, got.Diseases)
}

func TestGetDetectionOwnerScoped(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))

	// A different owner cannot see the row at all.
	_, err := ds.GetDetection(ctx, detection.ID, "u2")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestCreateDetectionValidation(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Detection)
	}{
		{"missing id", func(d *Detection) { d.ID = "" }},
		{"missing owner", func(d *Detection) { d.Owner = "" }},
		{"non-pending status", func(d *Detection) { d.Status = StatusCompleted }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detection := newPendingDetection("u1")
			tt.mutate(detection)
			err := ds.CreateDetection(ctx, detection)
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryValidation))
		})
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))
	require.NoError(t, ds.TransitionToProcessing(ctx, detection.ID, "u1"))

	processedAt := time.Now().UTC()
	diseases := []Disease{
		{DiseaseName: "rust", Confidence: 0.82, Treatments: []string{"remove affected leaves"}},
		{DiseaseName: "leaf_spot", Confidence: 0.3, Treatments: []string{"apply fungicide"}},
	}
	require.NoError(t, ds.CompleteDetection(ctx, detection.ID, "u1", 0.82, processedAt, diseases))

	got, err := ds.GetDetection(ctx, detection.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.ConfidenceScore)
	assert.InDelta(t, 0.82, *got.ConfidenceScore, 1e-9)
	require.NotNil(t, got.ProcessedAt)
	assert.False(t, got.ProcessedAt.Before(got.CreatedAt.Truncate(time.Second)))
	require.Len(t, got.Diseases, 2)
}

func TestLifecycleMonotonicity(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))

	healthy := []Disease{{DiseaseName: HealthyLabel, Confidence: 1.0}}

	// Complete and Fail are rejected while still pending.
	err := ds.CompleteDetection(ctx, detection.ID, "u1", 1.0, now, healthy)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))

	err = ds.FailDetection(ctx, detection.ID, "u1", now)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))

	// First processing transition wins, the second conflicts.
	require.NoError(t, ds.TransitionToProcessing(ctx, detection.ID, "u1"))
	err = ds.TransitionToProcessing(ctx, detection.ID, "u1")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))

	// Terminal state absorbs every further transition.
	require.NoError(t, ds.CompleteDetection(ctx, detection.ID, "u1", 1.0, now, healthy))

	err = ds.CompleteDetection(ctx, detection.ID, "u1", 1.0, now, healthy)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))

	err = ds.FailDetection(ctx, detection.ID, "u1", now)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConflict))

	got, err := ds.GetDetection(ctx, detection.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Len(t, got.Diseases, 1)
}

func TestTransitionMissingDetection(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	err := ds.TransitionToProcessing(ctx, uuid.New().String(), "u1")
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestCompleteDetectionAtomicity(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))
	require.NoError(t, ds.TransitionToProcessing(ctx, detection.ID, "u1"))

	// Invalid disease row fails validation before any write happens.
	bad := []Disease{{DiseaseName: "rust", Confidence: 1.5, Treatments: []string{"x"}}}
	err := ds.CompleteDetection(ctx, detection.ID, "u1", 0.9, time.Now().UTC(), bad)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	got, err := ds.GetDetection(ctx, detection.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Empty(t, got.Diseases)
	assert.Nil(t, got.ProcessedAt)
}

func TestCompleteRequiresTreatmentsForDisease(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))
	require.NoError(t, ds.TransitionToProcessing(ctx, detection.ID, "u1"))

	err := ds.CompleteDetection(ctx, detection.ID, "u1", 0.9, time.Now().UTC(),
		[]Disease{{DiseaseName: "rust", Confidence: 0.9}})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryValidation))

	// The healthy sentinel is exempt.
	err = ds.CompleteDetection(ctx, detection.ID, "u1", 1.0, time.Now().UTC(),
		[]Disease{{DiseaseName: "Healthy", Confidence: 1.0}})
	require.NoError(t, err)

	got, err := ds.GetDetection(ctx, detection.ID, "u1")
	require.NoError(t, err)
	require.Len(t, got.Diseases, 1)
	assert.Equal(t, HealthyLabel, got.Diseases[0].DiseaseName)
}

func TestFailDetection(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))
	require.NoError(t, ds.TransitionToProcessing(ctx, detection.ID, "u1"))
	require.NoError(t, ds.FailDetection(ctx, detection.ID, "u1", time.Now().UTC()))

	got, err := ds.GetDetection(ctx, detection.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Empty(t, got.Diseases)
	require.NotNil(t, got.ProcessedAt)
	assert.Nil(t, got.ConfidenceScore)
}

func TestListDetectionsOwnerIsolationAndPagination(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	// Interleave creation between owners.
	base := time.Now().UTC().Add(-time.Hour)
	var u1IDs []string
	for i := 0; i < 5; i++ {
		d := newPendingDetection("u1")
		d.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, ds.CreateDetection(ctx, d))
		u1IDs = append(u1IDs, d.ID)

		other := newPendingDetection("u2")
		other.CreatedAt = base.Add(time.Duration(i)*time.Minute + 30*time.Second)
		require.NoError(t, ds.CreateDetection(ctx, other))
	}

	detections, total, err := ds.ListDetections(ctx, DetectionFilter{Owner: "u1", Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, detections, 3)

	// Newest first, and only u1 rows.
	assert.Equal(t, u1IDs[4], detections[0].ID)
	for _, d := range detections {
		assert.Equal(t, "u1", d.Owner)
	}

	// Second page.
	detections, _, err = ds.ListDetections(ctx, DetectionFilter{Owner: "u1", Limit: 3, Offset: 3})
	require.NoError(t, err)
	require.Len(t, detections, 2)
	assert.Equal(t, u1IDs[1], detections[0].ID)
}

func TestListDetectionsFilters(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	old := newPendingDetection("u1")
	old.CreatedAt = base.AddDate(0, 0, -10)
	require.NoError(t, ds.CreateDetection(ctx, old))

	recent := newPendingDetection("u1")
	recent.CreatedAt = base
	require.NoError(t, ds.CreateDetection(ctx, recent))
	require.NoError(t, ds.TransitionToProcessing(ctx, recent.ID, "u1"))

	from := base.AddDate(0, 0, -1)
	detections, total, err := ds.ListDetections(ctx, DetectionFilter{
		Owner:    "u1",
		Status:   StatusProcessing,
		DateFrom: &from,
		Limit:    10,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, detections, 1)
	assert.Equal(t, recent.ID, detections[0].ID)
}

func TestDeleteDetectionCascades(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	detection := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, detection))
	require.NoError(t, ds.TransitionToProcessing(ctx, detection.ID, "u1"))
	require.NoError(t, ds.CompleteDetection(ctx, detection.ID, "u1", 0.9, time.Now().UTC(),
		[]Disease{{DiseaseName: "rust", Confidence: 0.9, Treatments: []string{"x"}}}))

	require.NoError(t, ds.DeleteDetection(ctx, detection.ID, "u1"))

	_, err := ds.GetDetection(ctx, detection.ID, "u1")
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))

	var count int64
	require.NoError(t, ds.DB.Model(&Disease{}).Where("detection_id = ?", detection.ID).Count(&count).Error)
	assert.Zero(t, count)

	// Deleting again reports not-found.
	err = ds.DeleteDetection(ctx, detection.ID, "u1")
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
}

func TestStuckDetections(t *testing.T) {
	t.Parallel()

	ds := setupTestDB(t)
	ctx := context.Background()

	stuck := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, stuck))
	require.NoError(t, ds.TransitionToProcessing(ctx, stuck.ID, "u1"))

	fresh := newPendingDetection("u1")
	require.NoError(t, ds.CreateDetection(ctx, fresh))

	// Anything processing before a future cutoff is stuck; pending rows are not.
	detections, err := ds.StuckDetections(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, detections, 1)
	assert.Equal(t, stuck.ID, detections[0].ID)

	// Nothing is stuck against a cutoff in the past.
	detections, err = ds.StuckDetections(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, detections)
}
