package models

import (
	"time"
)

// Herkunft eines Registry-Eintrags
const (
	ProvenanceBootstrap  = "bootstrap"
	ProvenanceAutoCreate = "auto_create"
	ProvenanceReview     = "review"
	ProvenanceManual     = "manual"
)

// Entity ist ein kanonischer Registry-Eintrag für eine reale Organisation.
// Die Identität (ID) ist nach dem Anlegen unveränderlich.
type Entity struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CanonicalName string `json:"canonical_name" gorm:"not null"`

	// Kleingeschriebener Normalform-Schlüssel. Der zusammengesetzte Unique-Index
	// mit entity_kind erzwingt die Eindeutigkeit beim Schreiben, nicht nur advisory.
	NameKey    string `json:"name_key" gorm:"index:idx_entities_name_kind,unique;size:512;not null"`
	EntityKind string `json:"entity_kind" gorm:"index:idx_entities_name_kind,unique;size:64;default:'organization'"`

	Role       string `json:"role,omitempty"`
	Provenance string `json:"provenance" gorm:"index"`
}

func (Entity) TableName() string { return "entities" }
