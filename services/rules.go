package services

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"remisslinker/models"
)

// RuleService verwaltet die persistente Blocklist/Alias-Regelliste.
// Batch-Läufe arbeiten auf einem pro Lauf geladenen Snapshot statt auf
// einem Modul-Singleton, damit keine veralteten Regeln hängen bleiben.
type RuleService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewRuleService(db *gorm.DB, logger *zap.Logger) *RuleService {
	return &RuleService{DB: db, Logger: logger}
}

// RuleSnapshot ist die Read-Through-Sicht auf die Regelliste für einen Lauf.
// Lookups laufen über Normalform-Schlüssel (NameKey).
type RuleSnapshot struct {
	blocklist map[string]bool
	aliases   map[string]string
}

// Blocked meldet, ob ein Name auf der Blocklist steht.
func (s *RuleSnapshot) Blocked(nameKey string) bool {
	if s == nil {
		return false
	}
	return s.blocklist[nameKey]
}

// Alias liefert das Alias-Ziel eines Namens, falls eine Regel existiert.
func (s *RuleSnapshot) Alias(nameKey string) (string, bool) {
	if s == nil {
		return "", false
	}
	target, ok := s.aliases[nameKey]
	return target, ok
}

// Snapshot lädt die komplette Regelliste einmalig für einen Batch-Lauf.
func (r *RuleService) Snapshot() (*RuleSnapshot, error) {
	var rules []models.RuleEntry
	if err := r.DB.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("loading rule entries: %w", err)
	}
	snap := &RuleSnapshot{
		blocklist: make(map[string]bool),
		aliases:   make(map[string]string),
	}
	for _, rule := range rules {
		key := NameKey(rule.Pattern)
		if key == "" {
			continue
		}
		switch rule.RuleKind {
		case models.RuleBlocklist:
			snap.blocklist[key] = true
		case models.RuleAlias:
			if target := CleanName(rule.AliasTarget); target != "" {
				snap.aliases[key] = target
			}
		default:
			r.Logger.Warn("Unknown rule kind ignored",
				zap.Uint("rule_id", rule.ID), zap.String("rule_kind", rule.RuleKind))
		}
	}
	return snap, nil
}

// Create legt eine Regel an (Upsert auf pattern+kind, damit Kuratieren idempotent ist).
func (r *RuleService) Create(rule *models.RuleEntry) error {
	rule.Pattern = CleanName(rule.Pattern)
	if rule.Pattern == "" {
		return fmt.Errorf("rule pattern must not be empty")
	}
	if rule.RuleKind != models.RuleBlocklist && rule.RuleKind != models.RuleAlias {
		return fmt.Errorf("unknown rule kind %q", rule.RuleKind)
	}
	if rule.RuleKind == models.RuleAlias && CleanName(rule.AliasTarget) == "" {
		return fmt.Errorf("alias rule requires alias_target")
	}
	return r.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pattern"}, {Name: "rule_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"alias_target", "updated_at"}),
	}).Create(rule).Error
}

// SuggestCandidate legt einen Regelvorschlag aus der Review-Workbench ab.
// Vorschläge mutieren die Live-Liste nicht; Promote übernimmt sie nach Freigabe.
func (r *RuleService) SuggestCandidate(cand *models.RuleCandidate) error {
	cand.Pattern = CleanName(cand.Pattern)
	if cand.Pattern == "" {
		return fmt.Errorf("candidate pattern must not be empty")
	}
	if cand.RuleKind == "" {
		cand.RuleKind = models.RuleAlias
	}
	return r.DB.Create(cand).Error
}

// Promote übernimmt einen Vorschlag in die Live-Regelliste.
func (r *RuleService) Promote(candidateID uint) (*models.RuleEntry, error) {
	var cand models.RuleCandidate
	if err := r.DB.First(&cand, candidateID).Error; err != nil {
		return nil, err
	}
	rule := &models.RuleEntry{
		Pattern:     cand.Pattern,
		RuleKind:    cand.RuleKind,
		AliasTarget: cand.AliasTarget,
	}
	if err := r.Create(rule); err != nil {
		return nil, err
	}
	if err := r.DB.Model(&cand).Update("promoted", true).Error; err != nil {
		return nil, err
	}
	r.Logger.Info("Rule candidate promoted",
		zap.Uint("candidate_id", cand.ID), zap.String("pattern", rule.Pattern), zap.String("rule_kind", rule.RuleKind))
	return rule, nil
}
