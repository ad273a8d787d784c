package conf

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/leafguard-go/internal/errors"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", settings.WebServer.Port)
	assert.Equal(t, int64(10*1024*1024), settings.Upload.MaxSize)
	assert.Contains(t, settings.Upload.AllowedTypes, "image/webp")
	assert.Equal(t, "local", settings.Artifacts.Backend)
	assert.InDelta(t, 0.70, settings.Classifier.Threshold, 1e-9)
	assert.True(t, settings.Output.SQLite.Enabled)
}

func TestValidateSettings(t *testing.T) {
	resetViper(t)

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"valid defaults", func(s *Settings) {}, false},
		{"zero max size", func(s *Settings) { s.Upload.MaxSize = 0 }, true},
		{"threshold above one", func(s *Settings) { s.Classifier.Threshold = 1.5 }, true},
		{"unknown backend", func(s *Settings) { s.Artifacts.Backend = "ftp" }, true},
		{"s3 without bucket", func(s *Settings) { s.Artifacts.Backend = "s3"; s.Artifacts.S3.Bucket = "" }, true},
		{"s3 with bucket", func(s *Settings) { s.Artifacts.Backend = "s3"; s.Artifacts.S3.Bucket = "leaves" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings, err := Load()
			require.NoError(t, err)
			tt.mutate(settings)

			err = validateSettings(settings)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
