package services

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"remisslinker/config"
	"remisslinker/models"
)

// LinkService orchestriert den Batch-Lauf über unaufgelöste Mentions:
// normalisieren, Regelliste prüfen, gegen die Registry auflösen und das
// Ergebnis stufen-abhängig persistieren (auto-link / Review-Queue / unmatched).
type LinkService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Registry *RegistryService
	Rules    *RuleService
	Resolver *Resolver
}

// NewLinkService erstellt eine neue Instanz des LinkService.
func NewLinkService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *LinkService {
	return &LinkService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Registry: NewRegistryService(db, logger),
		Rules:    NewRuleService(db, logger),
		Resolver: NewResolver(Thresholds{High: cfg.HighThreshold, Medium: cfg.MediumThreshold, Low: cfg.LowThreshold}),
	}
}

// RunOptions sind die Parameter eines Linking-Laufs.
type RunOptions struct {
	// SourceReference schränkt auf eine einzelne Konsultation ein (optional)
	SourceReference string `json:"scope_filter"`
	Limit           int    `json:"limit"`
	CreateEntities  bool   `json:"create_entities"`
	DryRun          bool   `json:"dry_run"`
	// MinTier ist die Stufe, ab der automatisch verlinkt wird
	MinTier    string `json:"min_confidence_tier"`
	EntityKind string `json:"entity_kind"`
}

// RunError ist ein Fehler an einer einzelnen Mention; er bricht den Lauf nicht ab.
type RunError struct {
	MentionID uint   `json:"mention_id"`
	Error     string `json:"error"`
}

// NameCount zählt Vorkommen eines Normalform-Namens.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// LowConfidenceSample ist eine Stichprobe für die Operator-Vorschau.
type LowConfidenceSample struct {
	MentionID      uint     `json:"mention_id"`
	RawText        string   `json:"raw_text"`
	NormalizedText string   `json:"normalized_text"`
	MatchedName    string   `json:"matched_name,omitempty"`
	Score          *float64 `json:"similarity_score,omitempty"`
	Tier           string   `json:"confidence_tier"`
}

// RunSummary ist das Ergebnis eines Linking-Laufs.
type RunSummary struct {
	Processed       int `json:"processed"`
	High            int `json:"high"`
	Medium          int `json:"medium"`
	Low             int `json:"low"`
	Unmatched       int `json:"unmatched"`
	AutoLinked      int `json:"auto_linked"`
	Queued          int `json:"queued_for_review"`
	EntitiesCreated int `json:"entities_created"`

	DryRun               bool                  `json:"dry_run"`
	Errors               []RunError            `json:"errors"`
	LowConfidenceSamples []LowConfidenceSample `json:"low_confidence_samples"`
	TopUnmatchedNames    []NameCount           `json:"top_unmatched_names"`
}

const (
	maxSamples       = 20
	maxUnmatchedTops = 20
)

// Run verarbeitet höchstens Limit unaufgelöste Mentions. Kandidaten-Pool und
// Regel-Snapshot werden einmal pro Lauf geladen. Fehler an einzelnen Mentions
// landen in der Summary; nur Konfigurationsfehler brechen vor dem ersten
// Schreibzugriff ab. Wiederholte Läufe sind idempotent, da nur Mentions im
// Zustand unresolved selektiert und write-once aktualisiert werden.
func (l *LinkService) Run(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	if opts.Limit <= 0 {
		opts.Limit = l.Config.LinkBatchSize
	}
	if opts.MinTier == "" {
		opts.MinTier = l.Config.LinkMinTier
	}
	if TierRank(opts.MinTier) == 0 {
		return nil, fmt.Errorf("invalid min_confidence_tier %q", opts.MinTier)
	}
	if opts.EntityKind == "" {
		opts.EntityKind = "organization"
	}

	log := l.Logger.With(
		zap.String("scope_filter", opts.SourceReference),
		zap.Bool("dry_run", opts.DryRun),
	)
	log.Info("Starting linking run", zap.Int("limit", opts.Limit), zap.String("min_tier", opts.MinTier))

	rules, err := l.Rules.Snapshot()
	if err != nil {
		return nil, err
	}
	pool, err := l.Registry.Pool(opts.EntityKind)
	if err != nil {
		return nil, err
	}

	query := l.DB.WithContext(ctx).
		Where("resolution_state = ?", models.StateUnresolved).
		Order("id asc").
		Limit(opts.Limit)
	if opts.SourceReference != "" {
		query = query.Where("source_reference = ?", opts.SourceReference)
	}
	var mentions []models.Mention
	if err := query.Find(&mentions).Error; err != nil {
		return nil, fmt.Errorf("loading unresolved mentions: %w", err)
	}

	summary := &RunSummary{
		DryRun:               opts.DryRun,
		Errors:               []RunError{},
		LowConfidenceSamples: []LowConfidenceSample{},
	}
	unmatchedCounts := map[string]int{}
	wouldCreate := map[string]bool{}

	for i := range mentions {
		mention := &mentions[i]
		summary.Processed++

		normalized := CleanName(mention.RawText)
		key := NameKey(mention.RawText)

		if key == "" || rules.Blocked(key) {
			summary.Unmatched++
			if err := l.persistUnmatched(opts, mention, normalized, nil); err != nil {
				summary.Errors = append(summary.Errors, RunError{MentionID: mention.ID, Error: err.Error()})
			}
			continue
		}
		if target, ok := rules.Alias(key); ok {
			normalized = target
		}

		result := l.Resolver.Resolve(normalized, pool)
		switch result.ConfidenceTier {
		case TierHigh:
			summary.High++
		case TierMedium:
			summary.Medium++
		case TierLow:
			summary.Low++
		default:
			summary.Unmatched++
		}

		switch {
		case result.ConfidenceTier != TierUnmatched && TierRank(result.ConfidenceTier) >= TierRank(opts.MinTier):
			summary.AutoLinked++
			if err := l.persistLink(opts, mention, normalized, result, models.StateAutoLinked); err != nil {
				summary.Errors = append(summary.Errors, RunError{MentionID: mention.ID, Error: err.Error()})
			}

		case result.ConfidenceTier != TierUnmatched:
			// Unter der Auto-Link-Schwelle, aber mit Kandidat: ab in die Review-Queue
			summary.Queued++
			if len(summary.LowConfidenceSamples) < maxSamples {
				summary.LowConfidenceSamples = append(summary.LowConfidenceSamples, LowConfidenceSample{
					MentionID:      mention.ID,
					RawText:        mention.RawText,
					NormalizedText: normalized,
					MatchedName:    result.MatchedName,
					Score:          result.Score,
					Tier:           result.ConfidenceTier,
				})
			}
			if err := l.persistLink(opts, mention, normalized, result, models.StateQueuedForReview); err != nil {
				summary.Errors = append(summary.Errors, RunError{MentionID: mention.ID, Error: err.Error()})
			}

		case opts.CreateEntities:
			created, err := l.createAndLink(opts, mention, normalized, wouldCreate)
			if err != nil {
				summary.Errors = append(summary.Errors, RunError{MentionID: mention.ID, Error: err.Error()})
				continue
			}
			if created {
				summary.EntitiesCreated++
			}

		default:
			unmatchedCounts[normalized]++
			if err := l.persistUnmatched(opts, mention, normalized, result.Score); err != nil {
				summary.Errors = append(summary.Errors, RunError{MentionID: mention.ID, Error: err.Error()})
			}
		}
	}

	summary.TopUnmatchedNames = topNames(unmatchedCounts, maxUnmatchedTops)

	log.Info("Linking run completed",
		zap.Int("processed", summary.Processed),
		zap.Int("auto_linked", summary.AutoLinked),
		zap.Int("queued_for_review", summary.Queued),
		zap.Int("unmatched", summary.Unmatched),
		zap.Int("entities_created", summary.EntitiesCreated),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}

// persistLink schreibt Verlinkung bzw. Review-Vorschlag auf die Mention.
// Die WHERE-Klausel auf unresolved macht den Schreibzugriff write-once,
// auch wenn parallel ein zweiter Lauf dieselbe Mention gezogen hat.
func (l *LinkService) persistLink(opts RunOptions, mention *models.Mention, normalized string, result MatchResult, state string) error {
	if opts.DryRun {
		return nil
	}
	updates := map[string]interface{}{
		"normalized_text":     normalized,
		"resolution_state":    state,
		"suggested_entity_id": result.EntityID,
		"similarity_score":    result.Score,
		"confidence_tier":     result.ConfidenceTier,
		"matched_name":        result.MatchedName,
	}
	if state == models.StateAutoLinked || state == models.StateEntityCreated {
		updates["entity_id"] = result.EntityID
	}
	return l.DB.Model(mention).
		Where("resolution_state = ?", models.StateUnresolved).
		Updates(updates).Error
}

func (l *LinkService) persistUnmatched(opts RunOptions, mention *models.Mention, normalized string, score *float64) error {
	if opts.DryRun {
		return nil
	}
	return l.DB.Model(mention).
		Where("resolution_state = ?", models.StateUnresolved).
		Updates(map[string]interface{}{
			"normalized_text":  normalized,
			"resolution_state": models.StateUnmatched,
			"similarity_score": score,
			"confidence_tier":  TierUnmatched,
		}).Error
}

// createAndLink legt für einen unmatched Namen eine neue Entität an und
// verlinkt die Mention direkt. Im Dry-Run wird die Anlage nur gezählt;
// wouldCreate dedupliziert dabei pro Lauf, damit der Vorschau-Zähler dem
// eines echten Laufs entspricht (Ensure legt pro Schlüssel nur einmal an).
func (l *LinkService) createAndLink(opts RunOptions, mention *models.Mention, normalized string, wouldCreate map[string]bool) (bool, error) {
	if opts.DryRun {
		key := NameKey(normalized)
		if wouldCreate[key] {
			return false, nil
		}
		wouldCreate[key] = true
		return true, nil
	}
	entity, created, err := l.Registry.Ensure(normalized, opts.EntityKind, models.ProvenanceAutoCreate)
	if err != nil {
		return false, err
	}
	id := entity.ID
	score := 1.0
	result := MatchResult{
		EntityID:       &id,
		ConfidenceTier: TierHigh,
		Score:          &score,
		MatchedName:    entity.CanonicalName,
	}
	if err := l.persistLink(opts, mention, normalized, result, models.StateEntityCreated); err != nil {
		return created, err
	}
	return created, nil
}

func topNames(counts map[string]int, limit int) []NameCount {
	tops := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		tops = append(tops, NameCount{Name: name, Count: count})
	}
	sort.Slice(tops, func(i, j int) bool {
		if tops[i].Count != tops[j].Count {
			return tops[i].Count > tops[j].Count
		}
		return tops[i].Name < tops[j].Name
	})
	if len(tops) > limit {
		tops = tops[:limit]
	}
	return tops
}
