package models

import (
	"time"
)

// Auflösungszustände einer Mention. Übergänge nur vorwärts:
// unresolved -> {auto_linked, queued_for_review, unmatched}
// queued_for_review -> {reviewed_confirmed, reviewed_corrected, reviewed_rejected, entity_created}
// Ein Reset auf unresolved geschieht nur über den expliziten Reprocess-Endpunkt.
const (
	StateUnresolved        = "unresolved"
	StateAutoLinked        = "auto_linked"
	StateQueuedForReview   = "queued_for_review"
	StateReviewedConfirmed = "reviewed_confirmed"
	StateReviewedCorrected = "reviewed_corrected"
	StateReviewedRejected  = "reviewed_rejected"
	StateEntityCreated     = "entity_created"
	StateUnmatched         = "unmatched"
)

// Mention repräsentiert einen beobachteten Organisationsnamen aus einem
// Remissvar-Dokument. Wird nie gelöscht (Audit-Trail).
type Mention struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RawText        string `json:"raw_text" gorm:"type:text;not null"`
	NormalizedText string `json:"normalized_text" gorm:"index"`

	// Herkunft: Konsultations-ID plus Dokument-URL
	SourceReference string `json:"source_reference" gorm:"index"`
	DocumentURL     string `json:"document_url,omitempty"`

	ResolutionState string `json:"resolution_state" gorm:"index;default:'unresolved'"`

	// Verknüpfte Entität (gesetzt bei auto_linked / reviewed_* / entity_created)
	EntityID *uint `json:"entity_id,omitempty" gorm:"index"`

	// Letzter Match-Vorschlag, persistiert für die Review-Ansicht
	SuggestedEntityID *uint    `json:"suggested_entity_id,omitempty"`
	SimilarityScore   *float64 `json:"similarity_score,omitempty"`
	ConfidenceTier    string   `json:"confidence_tier,omitempty" gorm:"index"`
	MatchedName       string   `json:"matched_name,omitempty"`
}

func (Mention) TableName() string { return "mentions" }
