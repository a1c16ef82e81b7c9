package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4280"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Schwellwerte für die Konfidenz-Stufen des Resolvers.
	// Konfiguration statt Konstanten, damit Tuning ohne Deploy möglich ist.
	HighThreshold   float64 `envconfig:"MATCH_HIGH_THRESHOLD" default:"0.9"`
	MediumThreshold float64 `envconfig:"MATCH_MEDIUM_THRESHOLD" default:"0.7"`
	LowThreshold    float64 `envconfig:"MATCH_LOW_THRESHOLD" default:"0.5"`

	// Batch-Parameter für den Linking-Lauf
	LinkBatchSize     int    `envconfig:"LINK_BATCH_SIZE" default:"500"`
	LinkMinTier       string `envconfig:"LINK_MIN_TIER" default:"medium"`
	BootstrapMinOccur int    `envconfig:"BOOTSTRAP_MIN_OCCURRENCES" default:"1"`

	// Nächtlicher Linking-Lauf
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 3 * * *"`
	CronEnabled  bool   `envconfig:"CRON_ENABLED" default:"true"`

	// S3-Export für Review-Entscheidungen (Audit-Archiv)
	ExportS3Key    string `envconfig:"EXPORT_S3_KEY"`
	ExportS3Secret string `envconfig:"EXPORT_S3_SECRET"`
	ExportS3URL    string `envconfig:"EXPORT_S3_URL"`
	ExportS3Region string `envconfig:"EXPORT_S3_REGION"`
	ExportS3Bucket string `envconfig:"EXPORT_S3_BUCKET"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// ExportEnabled meldet, ob der S3-Export konfiguriert ist.
func (c *Config) ExportEnabled() bool {
	return c.ExportS3URL != "" && c.ExportS3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
