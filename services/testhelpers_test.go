package services

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"remisslinker/config"
	"remisslinker/models"
)

// newTestDB öffnet eine frische SQLite-Datenbank im Temp-Verzeichnis des Tests
// und migriert das komplette Schema. Der Busy-Timeout serialisiert
// konkurrierende Schreibzugriffe statt sie mit SQLITE_BUSY abzuweisen.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Mention{},
		&models.Entity{},
		&models.RuleEntry{},
		&models.RuleCandidate{},
		&models.ReviewDecision{},
	))
	return db
}

func testConfig() *config.Config {
	return &config.Config{
		HighThreshold:     0.9,
		MediumThreshold:   0.7,
		LowThreshold:      0.5,
		LinkBatchSize:     500,
		LinkMinTier:       TierMedium,
		BootstrapMinOccur: 1,
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}

func seedEntity(t *testing.T, db *gorm.DB, name string) models.Entity {
	t.Helper()
	entity := models.Entity{
		CanonicalName: name,
		NameKey:       NameKey(name),
		EntityKind:    "organization",
		Provenance:    models.ProvenanceManual,
	}
	require.NoError(t, db.Create(&entity).Error)
	return entity
}

func seedMention(t *testing.T, db *gorm.DB, raw, source string) models.Mention {
	t.Helper()
	mention := models.Mention{
		RawText:         raw,
		NormalizedText:  CleanName(raw),
		SourceReference: source,
		ResolutionState: models.StateUnresolved,
	}
	require.NoError(t, db.Create(&mention).Error)
	return mention
}
