package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets the default configuration values used when a key is
// absent from the config file and environment.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "LeafGuard-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/leafguard.log")

	viper.SetDefault("webserver.port", "8080")

	viper.SetDefault("upload.maxsize", int64(10*1024*1024))
	viper.SetDefault("upload.allowedtypes", []string{"image/jpeg", "image/png", "image/webp"})

	viper.SetDefault("artifacts.backend", "local")
	viper.SetDefault("artifacts.local.path", "artifacts")
	viper.SetDefault("artifacts.s3.bucket", "")
	viper.SetDefault("artifacts.s3.region", "us-east-1")
	viper.SetDefault("artifacts.s3.endpoint", "")
	viper.SetDefault("artifacts.s3.pathstyle", false)

	viper.SetDefault("classifier.url", "http://localhost:8001")
	viper.SetDefault("classifier.timeout", 30*time.Second)
	viper.SetDefault("classifier.threshold", 0.70)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "leafguard.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "leafguard")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "leafguard")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")
}
