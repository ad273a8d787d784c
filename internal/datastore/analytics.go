// internal/datastore/analytics.go
package datastore

import (
	"context"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/leafguard-go/internal/errors"
)

// LabelSummary contains per-label occurrence statistics.
type LabelSummary struct {
	Label         string  `json:"label"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avgConfidence"`
}

// DiseaseStatistics contains overall statistics for all recorded diseases.
type DiseaseStatistics struct {
	TotalCount   int64          `json:"totalCount"`
	HealthyCount int64          `json:"healthyCount"`
	DiseaseCount int64          `json:"diseaseCount"`
	ByLabel      []LabelSummary `json:"byLabel"`
}

// TrendPoint is one disease occurrence bucket: a day and a label. Days with
// zero occurrences are absent rather than zero-filled.
type TrendPoint struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// DiseaseOccurrence is one disease row's membership in a search group.
type DiseaseOccurrence struct {
	DetectionID string     `json:"detectionId"`
	Confidence  float64    `json:"confidence"`
	ProcessedAt *time.Time `json:"processedAt"`
}

// DiseaseSearchGroup is one label's search result with its member detections.
type DiseaseSearchGroup struct {
	Label         string              `json:"label"`
	AvgConfidence float64             `json:"avgConfidence"`
	Detections    []DiseaseOccurrence `json:"detections"`
}

// GetDiseaseStatistics returns overall counts plus per-label count and mean
// confidence, sorted descending by count. The healthy sentinel is matched
// case-insensitively.
func (ds *DataStore) GetDiseaseStatistics(ctx context.Context) (DiseaseStatistics, error) {
	stats := DiseaseStatistics{ByLabel: []LabelSummary{}}

	db := ds.DB.WithContext(ctx)

	if err := db.Model(&Disease{}).Count(&stats.TotalCount).Error; err != nil {
		return DiseaseStatistics{}, dbError(err, "count-diseases")
	}
	if err := db.Model(&Disease{}).
		Where("LOWER(disease_name) = ?", HealthyLabel).
		Count(&stats.HealthyCount).Error; err != nil {
		return DiseaseStatistics{}, dbError(err, "count-healthy")
	}
	stats.DiseaseCount = stats.TotalCount - stats.HealthyCount

	err := db.Model(&Disease{}).
		Select("LOWER(disease_name) as label, COUNT(*) as count, AVG(confidence) as avg_confidence").
		Group("LOWER(disease_name)").
		Order("count DESC").
		Scan(&stats.ByLabel).Error
	if err != nil {
		return DiseaseStatistics{}, dbError(err, "group-diseases")
	}

	return stats, nil
}

// GetLatestTreatments returns the most recently recorded treatment
// recommendations for a label, ordered by the owning detection's processed
// time. A not-found error signals the caller to fall back to the default
// treatment table.
func (ds *DataStore) GetLatestTreatments(ctx context.Context, label string) ([]string, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))

	var disease Disease
	err := ds.DB.WithContext(ctx).
		Joins("JOIN detections ON detections.id = diseases.detection_id").
		Where("LOWER(diseases.disease_name) = ?", normalized).
		Where("detections.processed_at IS NOT NULL").
		Order("detections.processed_at DESC").
		First(&disease).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError("treatments", normalized)
		}
		return nil, dbError(err, "latest-treatments", "label", normalized)
	}
	if len(disease.Treatments) == 0 {
		return nil, notFoundError("treatments", normalized)
	}
	return disease.Treatments, nil
}

// GetDiseaseTrends buckets disease occurrences by the owning detection's
// processed date and by label, from the given point in time onward.
func (ds *DataStore) GetDiseaseTrends(ctx context.Context, from time.Time) ([]TrendPoint, error) {
	var trends []TrendPoint
	err := ds.DB.WithContext(ctx).
		Model(&Disease{}).
		Select("DATE(detections.processed_at) as date, LOWER(diseases.disease_name) as label, COUNT(*) as count").
		Joins("JOIN detections ON detections.id = diseases.detection_id").
		Where("detections.processed_at >= ?", from).
		Group("DATE(detections.processed_at), LOWER(diseases.disease_name)").
		Order("date ASC, count DESC").
		Scan(&trends).Error
	if err != nil {
		return nil, dbError(err, "disease-trends")
	}
	return trends, nil
}

// SearchDiseases performs a case-insensitive substring match on disease names,
// grouping matches by label with their member detections and mean confidence,
// sorted by mean confidence descending and capped at limit groups.
func (ds *DataStore) SearchDiseases(ctx context.Context, query string, limit int) ([]DiseaseSearchGroup, error) {
	pattern := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	var rows []struct {
		DiseaseName string
		DetectionID string
		Confidence  float64
		ProcessedAt *time.Time
	}
	err := ds.DB.WithContext(ctx).
		Model(&Disease{}).
		Select("LOWER(diseases.disease_name) as disease_name, diseases.detection_id, diseases.confidence, detections.processed_at").
		Joins("JOIN detections ON detections.id = diseases.detection_id").
		Where("LOWER(diseases.disease_name) LIKE ?", pattern).
		Scan(&rows).Error
	if err != nil {
		return nil, dbError(err, "search-diseases", "query", query)
	}

	grouped := make(map[string][]DiseaseOccurrence)
	confidenceSum := make(map[string]float64)
	for _, row := range rows {
		grouped[row.DiseaseName] = append(grouped[row.DiseaseName], DiseaseOccurrence{
			DetectionID: row.DetectionID,
			Confidence:  row.Confidence,
			ProcessedAt: row.ProcessedAt,
		})
		confidenceSum[row.DiseaseName] += row.Confidence
	}

	groups := make([]DiseaseSearchGroup, 0, len(grouped))
	for label, occurrences := range grouped {
		groups = append(groups, DiseaseSearchGroup{
			Label:         label,
			AvgConfidence: confidenceSum[label] / float64(len(occurrences)),
			Detections:    occurrences,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].AvgConfidence != groups[j].AvgConfidence {
			return groups[i].AvgConfidence > groups[j].AvgConfidence
		}
		return groups[i].Label < groups[j].Label
	})

	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}
