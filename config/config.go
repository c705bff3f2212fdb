package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime parameters, loaded from environment variables.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4242"`

	// Secret used to verify bearer tokens issued by the auth service.
	JWTSecret string `envconfig:"JWT_SECRET"`

	// Provider chain, tried in the configured order on a catalog miss.
	EnabledProviders  string        `envconfig:"ENABLED_PROVIDERS" default:"openpetfoodfacts,openfoodfacts"`
	ProviderTimeout   time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"5s"`
	PetFoodFactsURL   string        `envconfig:"PETFOODFACTS_BASE_URL" default:"https://world.openpetfoodfacts.org"`
	OpenFoodFactsURL  string        `envconfig:"OPENFOODFACTS_BASE_URL" default:"https://world.openfoodfacts.org"`
	ProviderUserAgent string        `envconfig:"PROVIDER_USER_AGENT" default:"petscan-catalog"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`

	// Optional S3 target for mirrored product images. Mirroring is skipped
	// when the endpoint is not configured.
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION"`
	S3Bucket string `envconfig:"S3_BUCKET"`
}

// DSN returns the Data Source Name for the PostgreSQL connection.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// MirrorEnabled reports whether image mirroring to S3 is configured.
func (c *Config) MirrorEnabled() bool {
	return c.S3URL != "" && c.S3Bucket != ""
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
