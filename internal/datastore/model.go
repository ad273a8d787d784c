// model.go this code defines the data model for the application
package datastore

import (
	"time"

	"gorm.io/datatypes"
)

// Detection status values. Status only moves forward:
// pending -> processing -> {completed, failed}.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// HealthyLabel is the sentinel disease name recorded when no candidate
// crosses the detection threshold. Compared case-insensitively.
const HealthyLabel = "healthy"

// Detection represents one uploaded leaf image and its analysis lifecycle.
type Detection struct {
	ID                  string     `gorm:"type:varchar(36);primaryKey"`
	Owner               string     `gorm:"index:idx_detections_owner;index:idx_detections_owner_created;not null"`
	OriginalArtifactRef string     `gorm:"not null"`
	Status              string     `gorm:"type:varchar(20);index:idx_detections_status;not null"`
	ConfidenceScore     *float64   // set only on completion
	LocationLat         *float64   // optional, write-once, caller-supplied
	LocationLng         *float64   // optional, write-once, caller-supplied
	CreatedAt           time.Time  `gorm:"index:idx_detections_owner_created"`
	UpdatedAt           time.Time  // last transition time, used to spot stuck processing rows
	ProcessedAt         *time.Time `gorm:"index"` // set exactly once at the terminal transition

	Diseases []Disease `gorm:"foreignKey:DetectionID;constraint:OnDelete:CASCADE"`
}

// Disease represents one identified label with confidence and guidance,
// owned by a Detection. Rows are created together at the completed
// transition, never appended afterward.
type Disease struct {
	ID          uint   `gorm:"primaryKey"`
	DetectionID string `gorm:"type:varchar(36);index:idx_diseases_detection;not null;constraint:OnDelete:CASCADE"`
	DiseaseName string `gorm:"index:idx_diseases_name;not null"` // normalized lowercase label
	Confidence  float64

	AffectedRegions datatypes.JSONSlice[Region]
	Treatments      datatypes.JSONSlice[string]
}

// Region is a rectangular affected area within the analyzed image.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether the region has non-negative origin and positive size.
func (r Region) Valid() bool {
	return r.X >= 0 && r.Y >= 0 && r.Width > 0 && r.Height > 0
}

// IsTerminal reports whether the detection reached a terminal state.
func (d *Detection) IsTerminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusFailed
}
