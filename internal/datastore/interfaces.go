// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/errors"
)

// Interface abstracts the underlying database implementation and defines the
// operations the rest of the application performs against it.
type Interface interface {
	Open() error
	Close() error

	// Detection lifecycle
	CreateDetection(ctx context.Context, detection *Detection) error
	GetDetection(ctx context.Context, id, owner string) (Detection, error)
	ListDetections(ctx context.Context, filter DetectionFilter) ([]Detection, int64, error)
	DeleteDetection(ctx context.Context, id, owner string) error
	TransitionToProcessing(ctx context.Context, id, owner string) error
	CompleteDetection(ctx context.Context, id, owner string, confidenceScore float64, processedAt time.Time, diseases []Disease) error
	FailDetection(ctx context.Context, id, owner string, processedAt time.Time) error
	StuckDetections(ctx context.Context, olderThan time.Time) ([]Detection, error)

	// Disease aggregation (read side)
	GetDiseaseStatistics(ctx context.Context) (DiseaseStatistics, error)
	GetLatestTreatments(ctx context.Context, label string) ([]string, error)
	GetDiseaseTrends(ctx context.Context, from time.Time) ([]TrendPoint, error)
	SearchDiseases(ctx context.Context, query string, limit int) ([]DiseaseSearchGroup, error)
}

// DetectionFilter scopes and paginates a detection history query.
// Owner is mandatory; every query is owner-scoped.
type DetectionFilter struct {
	Owner    string
	Status   string     // optional status filter
	DateFrom *time.Time // optional inclusive lower bound on CreatedAt
	DateTo   *time.Time // optional exclusive upper bound on CreatedAt
	Limit    int
	Offset   int
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) (Interface, error) {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}, nil
	default:
		return nil, errors.Newf("no database backend enabled in configuration").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}
