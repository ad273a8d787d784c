package datastore

import (
	"log"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/leafguard-go/internal/logging"
)

// createGormLogger builds a GORM logger; SQL statements are only logged in
// debug mode, slow queries are always surfaced.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.New(
		log.Default(),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// performAutoMigration runs schema migrations for all models.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(&Detection{}, &Disease{}); err != nil {
		return dbError(err, "auto-migrate", "db_type", dbType)
	}

	if debug {
		logging.ForService("datastore").Debug("database migration completed",
			"db_type", dbType,
			"connection", connectionInfo)
	}

	return nil
}
