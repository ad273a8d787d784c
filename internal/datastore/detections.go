// detections.go: persistence operations for the detection lifecycle
package datastore

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/leafguard-go/internal/errors"
)

// CreateDetection persists a new pending detection row.
func (ds *DataStore) CreateDetection(ctx context.Context, detection *Detection) error {
	if detection.ID == "" {
		return validationError("detection id is required", "id", detection.ID)
	}
	if detection.Owner == "" {
		return validationError("detection owner is required", "owner", detection.Owner)
	}
	if detection.Status != StatusPending {
		return validationError("new detections must start pending", "status", detection.Status)
	}

	if err := ds.DB.WithContext(ctx).Create(detection).Error; err != nil {
		return dbError(err, "create-detection", "detection_id", detection.ID)
	}
	return nil
}

// GetDetection retrieves a detection with its diseases, scoped to the owner.
// A detection belonging to a different owner is reported as not found.
func (ds *DataStore) GetDetection(ctx context.Context, id, owner string) (Detection, error) {
	var detection Detection
	err := ds.DB.WithContext(ctx).
		Preload("Diseases").
		Where("id = ? AND owner = ?", id, owner).
		First(&detection).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Detection{}, notFoundError("detection", id)
		}
		return Detection{}, dbError(err, "get-detection", "detection_id", id)
	}
	return detection, nil
}

// ListDetections returns the owner's detections newest-first with the total
// count for pagination.
func (ds *DataStore) ListDetections(ctx context.Context, filter DetectionFilter) ([]Detection, int64, error) {
	if filter.Owner == "" {
		return nil, 0, validationError("detection queries must be owner-scoped", "owner", filter.Owner)
	}

	query := ds.DB.WithContext(ctx).Model(&Detection{}).Where("owner = ?", filter.Owner)
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.DateFrom != nil {
		query = query.Where("created_at >= ?", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		query = query.Where("created_at < ?", *filter.DateTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "count-detections", "owner", filter.Owner)
	}

	var detections []Detection
	err := query.
		Preload("Diseases").
		Order("created_at DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&detections).Error
	if err != nil {
		return nil, 0, dbError(err, "list-detections", "owner", filter.Owner)
	}

	return detections, total, nil
}

// DeleteDetection removes a detection row and its diseases in one transaction.
func (ds *DataStore) DeleteDetection(ctx context.Context, id, owner string) error {
	return ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND owner = ?", id, owner).Delete(&Detection{})
		if result.Error != nil {
			return dbError(result.Error, "delete-detection", "detection_id", id)
		}
		if result.RowsAffected == 0 {
			return notFoundError("detection", id)
		}
		if err := tx.Where("detection_id = ?", id).Delete(&Disease{}).Error; err != nil {
			return dbError(err, "delete-diseases", "detection_id", id)
		}
		return nil
	})
}

// TransitionToProcessing moves a pending detection to processing. The
// conditional update serializes concurrent attempts: exactly one caller wins,
// the rest get a conflict.
func (ds *DataStore) TransitionToProcessing(ctx context.Context, id, owner string) error {
	result := ds.DB.WithContext(ctx).
		Model(&Detection{}).
		Where("id = ? AND owner = ? AND status = ?", id, owner, StatusPending).
		Update("status", StatusProcessing)
	if result.Error != nil {
		return dbError(result.Error, "transition-processing", "detection_id", id)
	}
	if result.RowsAffected == 0 {
		return ds.transitionRejection(ctx, id, owner, "processing")
	}
	return nil
}

// CompleteDetection atomically records the terminal completed state: status,
// confidence score, processed timestamp and all disease rows land in one
// transaction, or none do. Repeated calls on a terminal detection conflict.
func (ds *DataStore) CompleteDetection(ctx context.Context, id, owner string, confidenceScore float64, processedAt time.Time, diseases []Disease) error {
	if confidenceScore < 0 || confidenceScore > 1 {
		return validationError("confidence score must be within [0,1]", "confidence_score", confidenceScore)
	}
	if len(diseases) == 0 {
		return validationError("completion requires at least one disease record", "diseases", len(diseases))
	}
	for i := range diseases {
		if err := validateDisease(&diseases[i]); err != nil {
			return err
		}
	}

	return ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Detection{}).
			Where("id = ? AND owner = ? AND status = ?", id, owner, StatusProcessing).
			Updates(map[string]any{
				"status":           StatusCompleted,
				"confidence_score": confidenceScore,
				"processed_at":     processedAt,
			})
		if result.Error != nil {
			return dbError(result.Error, "complete-detection", "detection_id", id)
		}
		if result.RowsAffected == 0 {
			return ds.transitionRejection(ctx, id, owner, "complete")
		}

		for i := range diseases {
			diseases[i].DetectionID = id
			if err := tx.Create(&diseases[i]).Error; err != nil {
				return dbError(err, "create-disease", "detection_id", id)
			}
		}
		return nil
	})
}

// FailDetection atomically records the terminal failed state. No disease rows
// are written; the failure cause is the caller's to log.
func (ds *DataStore) FailDetection(ctx context.Context, id, owner string, processedAt time.Time) error {
	result := ds.DB.WithContext(ctx).
		Model(&Detection{}).
		Where("id = ? AND owner = ? AND status = ?", id, owner, StatusProcessing).
		Updates(map[string]any{
			"status":       StatusFailed,
			"processed_at": processedAt,
		})
	if result.Error != nil {
		return dbError(result.Error, "fail-detection", "detection_id", id)
	}
	if result.RowsAffected == 0 {
		return ds.transitionRejection(ctx, id, owner, "fail")
	}
	return nil
}

// StuckDetections lists processing rows whose last transition happened before
// the cutoff, so external reconciliation can spot abandoned work.
func (ds *DataStore) StuckDetections(ctx context.Context, olderThan time.Time) ([]Detection, error) {
	var detections []Detection
	err := ds.DB.WithContext(ctx).
		Where("status = ? AND updated_at < ?", StatusProcessing, olderThan).
		Order("updated_at ASC").
		Find(&detections).Error
	if err != nil {
		return nil, dbError(err, "stuck-detections")
	}
	return detections, nil
}

// transitionRejection distinguishes a missing row from an ineligible state
// after a conditional update matched nothing.
func (ds *DataStore) transitionRejection(ctx context.Context, id, owner, operation string) error {
	var detection Detection
	err := ds.DB.WithContext(ctx).
		Select("status").
		Where("id = ? AND owner = ?", id, owner).
		First(&detection).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError("detection", id)
		}
		return dbError(err, operation, "detection_id", id)
	}
	return conflictError(operation, id, detection.Status)
}

// validateDisease enforces the persistence-boundary rules for disease rows.
func validateDisease(disease *Disease) error {
	disease.DiseaseName = strings.ToLower(strings.TrimSpace(disease.DiseaseName))
	if disease.DiseaseName == "" {
		return validationError("disease name is required", "disease_name", disease.DiseaseName)
	}
	if disease.Confidence < 0 || disease.Confidence > 1 {
		return validationError("disease confidence must be within [0,1]", "confidence", disease.Confidence)
	}
	for _, region := range disease.AffectedRegions {
		if !region.Valid() {
			return validationError("affected region has invalid geometry", "affected_regions", region)
		}
	}
	if disease.DiseaseName != HealthyLabel && len(disease.Treatments) == 0 {
		return validationError("treatments are required for non-healthy diseases", "treatments", disease.DiseaseName)
	}
	return nil
}
