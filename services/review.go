package services

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"remisslinker/config"
	"remisslinker/models"
)

// ReviewService ist die Workbench-Logik für Mentions in der Review-Queue:
// approve / reject / create-new, jeweils mit persistierter ReviewDecision
// und optionalen Regel-Vorschlägen.
type ReviewService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Registry *RegistryService
	Rules    *RuleService
}

func NewReviewService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *ReviewService {
	return &ReviewService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Registry: NewRegistryService(db, logger),
		Rules:    NewRuleService(db, logger),
	}
}

// Typisierte Fehler für die HTTP-Schicht
var (
	ErrMentionNotFound = errors.New("mention not found")
	ErrNotReviewable   = errors.New("mention is not in a reviewable state")
)

// DecisionInput ist der Request der Review-Aktion.
type DecisionInput struct {
	MentionID         uint     `json:"mention_id" binding:"required"`
	Verdict           string   `json:"verdict" binding:"required"`
	CorrectedEntityID *uint    `json:"corrected_entity_id"`
	NewEntityName     string   `json:"new_entity_name"`
	EntityKind        string   `json:"entity_kind"`
	Notes             string   `json:"notes"`
	ReviewedBy        string   `json:"reviewed_by"`
	SuggestedAliases  []string `json:"suggested_alias"`
}

// QueueItem sind die Felder für die Seite-an-Seite-Darstellung in der Workbench.
type QueueItem struct {
	MentionID       uint           `json:"mention_id"`
	RawText         string         `json:"raw_text"`
	NormalizedText  string         `json:"normalized_text"`
	SourceReference string         `json:"source_reference"`
	SuggestedEntity *models.Entity `json:"suggested_entity,omitempty"`
	SimilarityScore *float64       `json:"similarity_score,omitempty"`
	ConfidenceTier  string         `json:"confidence_tier"`
}

// Queue liefert eine Seite der Review-Queue, optional nach Stufe gefiltert.
// Ein DB-Fehler wird als Fehler gemeldet, nicht als leere Liste — die
// Workbench unterscheidet "Laden fehlgeschlagen" von "nichts offen".
func (r *ReviewService) Queue(tier string, limit, offset int) ([]QueueItem, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	baseQuery := func() *gorm.DB {
		query := r.DB.Model(&models.Mention{}).Where("resolution_state = ?", models.StateQueuedForReview)
		if tier != "" {
			query = query.Where("confidence_tier = ?", tier)
		}
		return query
	}

	var total int64
	if err := baseQuery().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting review queue: %w", err)
	}

	var mentions []models.Mention
	if err := baseQuery().Order("id asc").Limit(limit).Offset(offset).Find(&mentions).Error; err != nil {
		return nil, 0, fmt.Errorf("loading review queue: %w", err)
	}

	items := make([]QueueItem, 0, len(mentions))
	for _, m := range mentions {
		item := QueueItem{
			MentionID:       m.ID,
			RawText:         m.RawText,
			NormalizedText:  m.NormalizedText,
			SourceReference: m.SourceReference,
			SimilarityScore: m.SimilarityScore,
			ConfidenceTier:  m.ConfidenceTier,
		}
		if m.SuggestedEntityID != nil {
			var entity models.Entity
			if err := r.DB.First(&entity, *m.SuggestedEntityID).Error; err == nil {
				item.SuggestedEntity = &entity
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, 0, fmt.Errorf("loading suggested entity: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, total, nil
}

// Decide wendet ein Operator-Urteil auf eine Mention in der Queue an und
// persistiert die Entscheidung (Upsert auf mention_id — erneutes Speichern
// überschreibt). Vorgeschlagene Aliasse werden als RuleCandidates abgelegt,
// nie direkt in die Live-Regelliste geschrieben.
func (r *ReviewService) Decide(input DecisionInput) (*models.Mention, error) {
	var mention models.Mention
	if err := r.DB.First(&mention, input.MentionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMentionNotFound
		}
		return nil, err
	}

	var err error
	switch input.Verdict {
	case models.VerdictConfirmed:
		err = r.approve(&mention, input)
	case models.VerdictRejected:
		err = r.reject(&mention, input)
	case models.VerdictCorrected:
		err = r.correct(&mention, input)
	case models.VerdictCreatedNew:
		err = r.createNew(&mention, input)
	default:
		return nil, fmt.Errorf("unknown verdict %q", input.Verdict)
	}
	if err != nil {
		return nil, err
	}

	for _, alias := range input.SuggestedAliases {
		cand := &models.RuleCandidate{
			Pattern:     alias,
			RuleKind:    models.RuleAlias,
			AliasTarget: mention.MatchedName,
			MentionID:   &mention.ID,
			SuggestedBy: input.ReviewedBy,
		}
		if cand.AliasTarget == "" {
			cand.AliasTarget = mention.NormalizedText
		}
		if err := r.Rules.SuggestCandidate(cand); err != nil {
			r.Logger.Warn("Failed to record alias candidate",
				zap.Uint("mention_id", mention.ID), zap.String("pattern", alias), zap.Error(err))
		}
	}

	if err := r.DB.First(&mention, mention.ID).Error; err != nil {
		return nil, err
	}
	return &mention, nil
}

func (r *ReviewService) approve(mention *models.Mention, input DecisionInput) error {
	if mention.ResolutionState != models.StateQueuedForReview {
		return ErrNotReviewable
	}
	if mention.SuggestedEntityID == nil {
		return fmt.Errorf("mention %d has no suggested entity to confirm", mention.ID)
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(mention).Updates(map[string]interface{}{
			"resolution_state": models.StateReviewedConfirmed,
			"entity_id":        mention.SuggestedEntityID,
		}).Error; err != nil {
			return err
		}
		return r.saveDecision(tx, mention.ID, models.VerdictConfirmed, nil, input)
	})
}

// reject ist idempotent: ein zweites Reject auf derselben Mention ist ein No-Op.
func (r *ReviewService) reject(mention *models.Mention, input DecisionInput) error {
	if mention.ResolutionState == models.StateReviewedRejected {
		return nil
	}
	if mention.ResolutionState != models.StateQueuedForReview {
		return ErrNotReviewable
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(mention).Updates(map[string]interface{}{
			"resolution_state": models.StateReviewedRejected,
			"entity_id":        nil,
		}).Error; err != nil {
			return err
		}
		return r.saveDecision(tx, mention.ID, models.VerdictRejected, nil, input)
	})
}

func (r *ReviewService) correct(mention *models.Mention, input DecisionInput) error {
	if mention.ResolutionState != models.StateQueuedForReview {
		return ErrNotReviewable
	}
	if input.CorrectedEntityID == nil {
		return fmt.Errorf("verdict corrected requires corrected_entity_id")
	}
	var entity models.Entity
	if err := r.DB.First(&entity, *input.CorrectedEntityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("corrected entity %d not found", *input.CorrectedEntityID)
		}
		return err
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(mention).Updates(map[string]interface{}{
			"resolution_state": models.StateReviewedCorrected,
			"entity_id":        entity.ID,
			"matched_name":     entity.CanonicalName,
		}).Error; err != nil {
			return err
		}
		return r.saveDecision(tx, mention.ID, models.VerdictCorrected, &entity.ID, input)
	})
}

func (r *ReviewService) createNew(mention *models.Mention, input DecisionInput) error {
	if mention.ResolutionState != models.StateQueuedForReview {
		return ErrNotReviewable
	}
	name := input.NewEntityName
	if CleanName(name) == "" {
		name = mention.NormalizedText
	}
	entity, _, err := r.Registry.Ensure(name, input.EntityKind, models.ProvenanceReview)
	if err != nil {
		return err
	}
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(mention).Updates(map[string]interface{}{
			"resolution_state": models.StateEntityCreated,
			"entity_id":        entity.ID,
			"matched_name":     entity.CanonicalName,
		}).Error; err != nil {
			return err
		}
		return r.saveDecision(tx, mention.ID, models.VerdictCreatedNew, &entity.ID, input)
	})
}

func (r *ReviewService) saveDecision(tx *gorm.DB, mentionID uint, verdict string, correctedID *uint, input DecisionInput) error {
	decision := models.ReviewDecision{
		MentionID:         mentionID,
		Verdict:           verdict,
		CorrectedEntityID: correctedID,
		Notes:             input.Notes,
		ReviewedBy:        input.ReviewedBy,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "mention_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"verdict", "corrected_entity_id", "notes", "reviewed_by", "updated_at"}),
	}).Create(&decision).Error
}

// Reprocess setzt eine Mention explizit auf unresolved zurück und widerruft
// die Verlinkung atomar mit dem Zustandswechsel. Einziger erlaubter
// Rückwärts-Übergang im Zustandsgraphen.
func (r *ReviewService) Reprocess(mentionID uint) (*models.Mention, error) {
	var mention models.Mention
	if err := r.DB.First(&mention, mentionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMentionNotFound
		}
		return nil, err
	}
	if err := r.DB.Model(&mention).Updates(map[string]interface{}{
		"resolution_state":    models.StateUnresolved,
		"entity_id":           nil,
		"suggested_entity_id": nil,
		"similarity_score":    nil,
		"confidence_tier":     "",
		"matched_name":        "",
	}).Error; err != nil {
		return nil, err
	}
	if err := r.DB.First(&mention, mentionID).Error; err != nil {
		return nil, err
	}
	r.Logger.Info("Mention reset for reprocessing", zap.Uint("mention_id", mentionID))
	return &mention, nil
}
