package services

import (
	"sort"
	"strings"

	"remisslinker/models"
)

// Konfidenz-Stufen
const (
	TierHigh      = "high"
	TierMedium    = "medium"
	TierLow       = "low"
	TierUnmatched = "unmatched"
)

// TierRank ordnet die Stufen für Vergleiche (höher = sicherer).
func TierRank(tier string) int {
	switch tier {
	case TierHigh:
		return 3
	case TierMedium:
		return 2
	case TierLow:
		return 1
	default:
		return 0
	}
}

// Thresholds sind die konfigurierbaren Score-Grenzen der Stufen.
type Thresholds struct {
	High   float64 `json:"high"`
	Medium float64 `json:"medium"`
	Low    float64 `json:"low"`
}

// DefaultThresholds entsprechen den Config-Defaults.
var DefaultThresholds = Thresholds{High: 0.9, Medium: 0.7, Low: 0.5}

// MatchResult ist das Ergebnis eines Auflösungsversuchs. Wird pro Lauf
// frisch berechnet; persistiert werden nur die auf die Mention kopierten Felder.
type MatchResult struct {
	MentionID      uint     `json:"mention_id,omitempty"`
	EntityID       *uint    `json:"entity_id"`
	ConfidenceTier string   `json:"confidence_tier"`
	Score          *float64 `json:"similarity_score"`
	MatchedName    string   `json:"matched_name,omitempty"`
}

// Resolver löst normalisierte Namen gegen einen Kandidaten-Pool auf.
type Resolver struct {
	Thresholds Thresholds
}

// NewResolver erstellt einen Resolver mit den gegebenen Schwellwerten.
func NewResolver(t Thresholds) *Resolver {
	return &Resolver{Thresholds: t}
}

// Resolve bestimmt den besten Kandidaten für einen normalisierten Namen.
// Exakter Treffer (case-insensitive) kurzschließt mit Stufe high / Score 1.0,
// sonst entscheidet der höchste Similarity-Score. Ties gehen an die früher
// angelegte Entität (kleinste ID), damit das Ergebnis unabhängig von der
// Scan-Reihenfolge des Pools stabil bleibt. Leerer Pool ergibt unmatched.
func (r *Resolver) Resolve(normalized string, pool []models.Entity) MatchResult {
	key := strings.ToLower(normalized)
	if key == "" || len(pool) == 0 {
		return MatchResult{ConfidenceTier: TierUnmatched}
	}

	// Deterministische Scan-Reihenfolge, egal wie der Pool paginiert wurde
	candidates := make([]models.Entity, len(pool))
	copy(candidates, pool)
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })

	for _, e := range candidates {
		if e.NameKey == key {
			score := 1.0
			id := e.ID
			return MatchResult{
				EntityID:       &id,
				ConfidenceTier: TierHigh,
				Score:          &score,
				MatchedName:    e.CanonicalName,
			}
		}
	}

	var best *models.Entity
	bestScore := 0.0
	for i := range candidates {
		score := Similarity(key, candidates[i].NameKey)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}

	tier := r.tierFor(bestScore)
	score := bestScore
	if tier == TierUnmatched || best == nil {
		// Score bleibt für Analytics erhalten, Entität und Name nicht
		return MatchResult{ConfidenceTier: TierUnmatched, Score: &score}
	}
	id := best.ID
	return MatchResult{
		EntityID:       &id,
		ConfidenceTier: tier,
		Score:          &score,
		MatchedName:    best.CanonicalName,
	}
}

func (r *Resolver) tierFor(score float64) string {
	switch {
	case score >= r.Thresholds.High:
		return TierHigh
	case score >= r.Thresholds.Medium:
		return TierMedium
	case score >= r.Thresholds.Low:
		return TierLow
	default:
		return TierUnmatched
	}
}
