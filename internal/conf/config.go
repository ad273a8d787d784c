// Package conf loads and validates application configuration from
// config files, environment variables and defaults using viper.
package conf

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/leafguard-go/internal/errors"
)

// Settings contains all runtime configuration for the service.
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string    // name of this node, used to identify log sources
		Log  LogConfig // logging configuration
	}

	WebServer struct {
		Port string // port for the web server
	}

	Upload UploadConfig // upload admission settings

	Artifacts ArtifactsConfig // artifact storage backend settings

	Classifier ClassifierConfig // external classifier settings

	Output struct {
		SQLite struct {
			Enabled bool   // true to enable SQLite
			Path    string // path to database file
		}
		MySQL struct {
			Enabled  bool   // true to enable MySQL
			Username string // username for MySQL
			Password string // password for MySQL
			Database string // database name
			Host     string // host for MySQL
			Port     string // port for MySQL
		}
	}
}

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled bool   // true to enable this log
	Path    string // path to log file
}

// UploadConfig defines upload admission limits.
type UploadConfig struct {
	MaxSize      int64    // maximum accepted upload size in bytes
	AllowedTypes []string // accepted content types
}

// ArtifactsConfig selects and configures the artifact storage backend.
type ArtifactsConfig struct {
	Backend string // "local" or "s3"
	Local   struct {
		Path string // root directory for local artifact storage
	}
	S3 struct {
		Bucket    string // bucket name
		Region    string // AWS region
		Endpoint  string // custom endpoint, empty for AWS default
		PathStyle bool   // true to use path-style addressing
	}
}

// ClassifierConfig configures the external disease classifier service.
type ClassifierConfig struct {
	URL       string        // base URL of the classifier service
	Timeout   time.Duration // per-call timeout applied by the caller
	Threshold float64       // detection confidence threshold
}

// Load reads the configuration from defaults, config file and environment.
func Load() (*Settings, error) {
	settings := &Settings{}

	setDefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/leafguard-go")
	viper.AddConfigPath("/etc/leafguard-go")

	viper.SetEnvPrefix("leafguard")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, errors.New(fmt.Errorf("reading config file: %w", err)).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		// No config file is fine, defaults and environment apply.
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("unmarshaling config: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if err := validateSettings(settings); err != nil {
		return nil, err
	}

	return settings, nil
}

func validateSettings(settings *Settings) error {
	if settings.Upload.MaxSize <= 0 {
		return errors.Newf("upload.maxsize must be positive, got %d", settings.Upload.MaxSize).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Classifier.Threshold < 0 || settings.Classifier.Threshold > 1 {
		return errors.Newf("classifier.threshold must be within [0,1], got %f", settings.Classifier.Threshold).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	switch settings.Artifacts.Backend {
	case "local", "s3":
	default:
		return errors.Newf("artifacts.backend must be 'local' or 's3', got %q", settings.Artifacts.Backend).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.Artifacts.Backend == "s3" && settings.Artifacts.S3.Bucket == "" {
		return errors.Newf("artifacts.s3.bucket is required when the s3 backend is selected").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
