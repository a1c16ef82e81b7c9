package models

import (
	"time"
)

// Regelarten
const (
	RuleBlocklist = "blocklist"
	RuleAlias     = "alias"
)

// RuleEntry ist eine kuratierte Regel, die vor jedem Matching konsultiert wird:
// blocklist unterdrückt bekannte Störnamen, alias ersetzt bekannte Schreibvarianten.
// Pattern und AliasTarget werden auf Normalform-Schlüsseln verglichen.
type RuleEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Pattern     string `json:"pattern" gorm:"index:idx_rules_pattern_kind,unique;size:512;not null"`
	RuleKind    string `json:"rule_kind" gorm:"index:idx_rules_pattern_kind,unique;size:32;not null"`
	AliasTarget string `json:"alias_target,omitempty"`
}

func (RuleEntry) TableName() string { return "rule_entries" }

// RuleCandidate ist ein Regelvorschlag aus der Review-Workbench.
// Vorschläge mutieren die Live-Regelliste nicht direkt, sondern warten
// auf Kurator-Freigabe, damit ein einzelnes Fehlurteil das Matching nicht verfälscht.
type RuleCandidate struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	Pattern     string `json:"pattern" gorm:"size:512;not null"`
	RuleKind    string `json:"rule_kind" gorm:"size:32;not null"`
	AliasTarget string `json:"alias_target,omitempty"`

	// Herkunft des Vorschlags
	MentionID   *uint  `json:"mention_id,omitempty"`
	SuggestedBy string `json:"suggested_by,omitempty"`

	Promoted bool `json:"promoted" gorm:"index;default:false"`
}

func (RuleCandidate) TableName() string { return "rule_candidates" }
