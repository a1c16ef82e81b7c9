package services

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"remisslinker/models"
)

// RegistryService kapselt Lese- und Schreibzugriffe auf die Entitäten-Registry.
type RegistryService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewRegistryService(db *gorm.DB, logger *zap.Logger) *RegistryService {
	return &RegistryService{DB: db, Logger: logger}
}

// Pool lädt alle Kandidaten einer entity_kind, sortiert nach ID.
// Wird pro Batch-Lauf genau einmal aufgerufen (Intra-Batch-Konsistenz).
func (r *RegistryService) Pool(kind string) ([]models.Entity, error) {
	var pool []models.Entity
	if err := r.DB.Where("entity_kind = ?", kind).Order("id asc").Find(&pool).Error; err != nil {
		return nil, fmt.Errorf("loading candidate pool: %w", err)
	}
	return pool, nil
}

// Ensure legt eine Entität an oder liefert die bestehende zurück.
// Der Insert ist conflict-checked über den Unique-Index (name_key, entity_kind):
// verliert ein konkurrierender Lauf das Rennen, wird der Gewinner nachgelesen
// und verlinkt, nicht ein Fehler gemeldet. Das zweite Ergebnis meldet, ob
// die Entität neu angelegt wurde.
func (r *RegistryService) Ensure(canonicalName, kind, provenance string) (*models.Entity, bool, error) {
	name := CleanName(canonicalName)
	key := NameKey(name)
	if key == "" {
		return nil, false, fmt.Errorf("canonical name must not be empty")
	}
	if kind == "" {
		kind = "organization"
	}

	entity := models.Entity{
		CanonicalName: name,
		NameKey:       key,
		EntityKind:    kind,
		Provenance:    provenance,
	}
	res := r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name_key"}, {Name: "entity_kind"}},
		DoNothing: true,
	}).Create(&entity)
	if res.Error != nil {
		return nil, false, fmt.Errorf("creating entity %q: %w", name, res.Error)
	}
	if res.RowsAffected > 0 {
		r.Logger.Info("Entity created",
			zap.Uint("entity_id", entity.ID), zap.String("canonical_name", name), zap.String("provenance", provenance))
		return &entity, true, nil
	}

	// Konflikt: Entität existiert bereits, Gewinner nachlesen
	var existing models.Entity
	if err := r.DB.Where("name_key = ? AND entity_kind = ?", key, kind).First(&existing).Error; err != nil {
		return nil, false, fmt.Errorf("re-querying entity after conflict: %w", err)
	}
	return &existing, false, nil
}
