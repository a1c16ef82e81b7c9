package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"remisslinker/config"
	"remisslinker/models"
)

// BootstrapService befüllt die Registry aus dem historischen Mention-Korpus.
// Anders als der Linking-Lauf zählt hier die Vorkommenshäufigkeit eines
// Normalform-Namens, nicht die Konfidenz einzelner Mentions.
type BootstrapService struct {
	Config   *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Registry *RegistryService
	Rules    *RuleService
}

func NewBootstrapService(cfg *config.Config, db *gorm.DB, logger *zap.Logger) *BootstrapService {
	return &BootstrapService{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Registry: NewRegistryService(db, logger),
		Rules:    NewRuleService(db, logger),
	}
}

// BootstrapOptions sind die Parameter eines Bootstrap-Laufs.
type BootstrapOptions struct {
	// MinOccurrences ist die Mindest-Vorkommenszahl einer Namensgruppe
	MinOccurrences int    `json:"min_occurrences"`
	EntityKind     string `json:"entity_kind"`
	DryRun         bool   `json:"dry_run"`
}

// BootstrapSummary ist das Ergebnis eines Bootstrap-Laufs.
type BootstrapSummary struct {
	MentionsScanned  int         `json:"mentions_scanned"`
	Groups           int         `json:"groups"`
	Blocked          int         `json:"blocked"`
	BelowThreshold   int         `json:"below_threshold"`
	AlreadyPresent   int         `json:"already_present"`
	EntitiesCreated  int         `json:"entities_created"`
	DryRun           bool        `json:"dry_run"`
	Errors           []RunError  `json:"errors"`
	TopCreatedGroups []NameCount `json:"top_created_groups"`
}

const bootstrapScanBatch = 1000

// Run aggregiert den KOMPLETTEN Mention-Korpus per Pagination (kein
// abgeschnittenes Fenster — Vorkommenszahlen stimmen nur über die Gesamtmenge),
// verwirft Blocklist-Treffer und Gruppen unter MinOccurrences und legt für
// jede verbleibende, noch fehlende Gruppe eine Entität an.
func (b *BootstrapService) Run(ctx context.Context, opts BootstrapOptions) (*BootstrapSummary, error) {
	if opts.MinOccurrences <= 0 {
		opts.MinOccurrences = b.Config.BootstrapMinOccur
	}
	if opts.MinOccurrences <= 0 {
		opts.MinOccurrences = 1
	}
	if opts.EntityKind == "" {
		opts.EntityKind = "organization"
	}

	log := b.Logger.With(zap.Int("min_occurrences", opts.MinOccurrences), zap.Bool("dry_run", opts.DryRun))
	log.Info("Starting bootstrap run")

	rules, err := b.Rules.Snapshot()
	if err != nil {
		return nil, err
	}

	summary := &BootstrapSummary{DryRun: opts.DryRun, Errors: []RunError{}}

	// Gruppierung über Normalform-Schlüssel; Display-Name ist die zuerst
	// gesehene Normalform (Mentions werden in ID-Reihenfolge gescannt).
	counts := map[string]int{}
	displayNames := map[string]string{}

	var batch []models.Mention
	result := b.DB.WithContext(ctx).Order("id asc").FindInBatches(&batch, bootstrapScanBatch, func(tx *gorm.DB, _ int) error {
		for _, mention := range batch {
			summary.MentionsScanned++
			key := NameKey(mention.RawText)
			if key == "" {
				continue
			}
			counts[key]++
			if _, seen := displayNames[key]; !seen {
				displayNames[key] = CleanName(mention.RawText)
			}
		}
		return nil
	})
	if result.Error != nil {
		return nil, fmt.Errorf("scanning mention corpus: %w", result.Error)
	}

	summary.Groups = len(counts)
	created := map[string]int{}
	// Alias-Regeln können mehrere Gruppen auf denselben Zielnamen abbilden;
	// im Dry-Run dedupliziert wouldCreate, was im echten Lauf Ensure erledigt.
	wouldCreate := map[string]bool{}

	for key, count := range counts {
		if rules.Blocked(key) {
			summary.Blocked++
			continue
		}
		if count < opts.MinOccurrences {
			summary.BelowThreshold++
			continue
		}

		name := displayNames[key]
		if target, ok := rules.Alias(key); ok {
			name = target
		}

		if opts.DryRun {
			nameKey := NameKey(name)
			var existing int64
			if err := b.DB.Model(&models.Entity{}).
				Where("name_key = ? AND entity_kind = ?", nameKey, opts.EntityKind).
				Count(&existing).Error; err != nil {
				summary.Errors = append(summary.Errors, RunError{Error: err.Error()})
				continue
			}
			if existing > 0 || wouldCreate[nameKey] {
				summary.AlreadyPresent++
			} else {
				wouldCreate[nameKey] = true
				summary.EntitiesCreated++
				created[name] = count
			}
			continue
		}

		_, wasCreated, err := b.Registry.Ensure(name, opts.EntityKind, models.ProvenanceBootstrap)
		if err != nil {
			summary.Errors = append(summary.Errors, RunError{Error: err.Error()})
			continue
		}
		if wasCreated {
			summary.EntitiesCreated++
			created[name] = count
		} else {
			summary.AlreadyPresent++
		}
	}

	summary.TopCreatedGroups = topNames(created, maxUnmatchedTops)

	log.Info("Bootstrap run completed",
		zap.Int("mentions_scanned", summary.MentionsScanned),
		zap.Int("groups", summary.Groups),
		zap.Int("entities_created", summary.EntitiesCreated),
		zap.Int("already_present", summary.AlreadyPresent),
		zap.Int("errors", len(summary.Errors)),
	)
	return summary, nil
}
