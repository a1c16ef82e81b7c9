package models

import (
	"time"
)

// Urteile der Review-Workbench
const (
	VerdictConfirmed  = "confirmed"
	VerdictCorrected  = "corrected"
	VerdictCreatedNew = "created_new"
	VerdictRejected   = "rejected"
)

// ReviewDecision ist das persistierte Urteil eines Operators zu einer
// Mention in der Review-Queue. Pro Mention existiert genau eine aktuelle
// Entscheidung; erneutes Speichern überschreibt (Upsert auf mention_id).
type ReviewDecision struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	MentionID uint   `json:"mention_id" gorm:"uniqueIndex;not null"`
	Verdict   string `json:"verdict" gorm:"size:32;not null"`

	CorrectedEntityID *uint  `json:"corrected_entity_id,omitempty"`
	Notes             string `json:"notes,omitempty" gorm:"type:text"`
	ReviewedBy        string `json:"reviewed_by,omitempty"`
}

func (ReviewDecision) TableName() string { return "review_decisions" }
