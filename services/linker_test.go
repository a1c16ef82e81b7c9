package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remisslinker/models"
)

func newLinkService(t *testing.T) *LinkService {
	t.Helper()
	return NewLinkService(testConfig(), newTestDB(t), testLogger())
}

func reload(t *testing.T, svc *LinkService, id uint) models.Mention {
	t.Helper()
	var mention models.Mention
	require.NoError(t, svc.DB.First(&mention, id).Error)
	return mention
}

func TestRunAutoLinksExactMatch(t *testing.T) {
	svc := newLinkService(t)
	entity := seedEntity(t, svc.DB, "Naturvårdsverket")
	mention := seedMention(t, svc.DB, "Naturvårdsverket (pdf 140 kB)", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.High)
	assert.Equal(t, 1, summary.AutoLinked)
	assert.Empty(t, summary.Errors)

	got := reload(t, svc, mention.ID)
	assert.Equal(t, models.StateAutoLinked, got.ResolutionState)
	require.NotNil(t, got.EntityID)
	assert.Equal(t, entity.ID, *got.EntityID)
	assert.Equal(t, "Naturvårdsverket", got.NormalizedText)
	assert.Equal(t, TierHigh, got.ConfidenceTier)
}

func TestRunQueuesLowConfidenceMatch(t *testing.T) {
	svc := newLinkService(t)
	seedEntity(t, svc.DB, "Statens energimyndighet")
	// Genug Overlap für low, zu wenig für medium
	mention := seedMention(t, svc.DB, "Energimyndigheten i Sverige AB", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	got := reload(t, svc, mention.ID)
	if summary.Low > 0 {
		assert.Equal(t, models.StateQueuedForReview, got.ResolutionState)
		assert.Nil(t, got.EntityID)
		require.NotNil(t, got.SuggestedEntityID)
		assert.Equal(t, 1, summary.Queued)
		require.Len(t, summary.LowConfidenceSamples, 1)
		assert.Equal(t, mention.ID, summary.LowConfidenceSamples[0].MentionID)
	} else {
		// Fällt der Score unter low, bleibt die Mention unmatched — in beiden
		// Fällen darf kein Auto-Link passieren.
		assert.Equal(t, models.StateUnmatched, got.ResolutionState)
	}
	assert.Zero(t, summary.AutoLinked)
}

func TestRunMarksUnmatched(t *testing.T) {
	svc := newLinkService(t)
	seedEntity(t, svc.DB, "Naturvårdsverket")
	mention := seedMention(t, svc.DB, "Helt okänd förening", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)

	got := reload(t, svc, mention.ID)
	assert.Equal(t, models.StateUnmatched, got.ResolutionState)
	assert.Nil(t, got.EntityID)
	require.Len(t, summary.TopUnmatchedNames, 1)
	assert.Equal(t, "Helt okänd förening", summary.TopUnmatchedNames[0].Name)
	assert.Equal(t, 1, summary.TopUnmatchedNames[0].Count)
}

func TestRunBlocklistShortCircuits(t *testing.T) {
	svc := newLinkService(t)
	seedEntity(t, svc.DB, "Missiv") // würde exakt matchen, Blocklist gewinnt
	require.NoError(t, svc.DB.Create(&models.RuleEntry{
		Pattern:  "Missiv",
		RuleKind: models.RuleBlocklist,
	}).Error)
	mention := seedMention(t, svc.DB, "Missiv (pdf 90 kB)", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)

	got := reload(t, svc, mention.ID)
	assert.Equal(t, models.StateUnmatched, got.ResolutionState)
	assert.Nil(t, got.EntityID)
}

func TestRunAppliesAliasRule(t *testing.T) {
	svc := newLinkService(t)
	entity := seedEntity(t, svc.DB, "Myndigheten för samhällsskydd och beredskap")
	require.NoError(t, svc.DB.Create(&models.RuleEntry{
		Pattern:     "MSB",
		RuleKind:    models.RuleAlias,
		AliasTarget: "Myndigheten för samhällsskydd och beredskap",
	}).Error)
	mention := seedMention(t, svc.DB, "MSB", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.AutoLinked)

	got := reload(t, svc, mention.ID)
	require.NotNil(t, got.EntityID)
	assert.Equal(t, entity.ID, *got.EntityID)
}

func TestRunAutoCreatesEntities(t *testing.T) {
	svc := newLinkService(t)
	mention := seedMention(t, svc.DB, "Svenskt Näringsliv (pdf 200 kB)", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{CreateEntities: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.EntitiesCreated)

	got := reload(t, svc, mention.ID)
	assert.Equal(t, models.StateEntityCreated, got.ResolutionState)
	require.NotNil(t, got.EntityID)

	var entity models.Entity
	require.NoError(t, svc.DB.First(&entity, *got.EntityID).Error)
	assert.Equal(t, "Svenskt Näringsliv", entity.CanonicalName)
	assert.Equal(t, models.ProvenanceAutoCreate, entity.Provenance)
}

func TestRunAutoCreateReusesExistingOnSecondMention(t *testing.T) {
	svc := newLinkService(t)
	first := seedMention(t, svc.DB, "Svenskt Näringsliv", "remiss-2025-01")
	second := seedMention(t, svc.DB, "Svenskt Näringsliv", "remiss-2025-02")

	summary, err := svc.Run(context.Background(), RunOptions{CreateEntities: true})
	require.NoError(t, err)
	// Beide Mentions verlinkt, aber nur eine Entität angelegt
	assert.Equal(t, 1, summary.EntitiesCreated)

	a := reload(t, svc, first.ID)
	b := reload(t, svc, second.ID)
	require.NotNil(t, a.EntityID)
	require.NotNil(t, b.EntityID)
	assert.Equal(t, *a.EntityID, *b.EntityID)

	var count int64
	require.NoError(t, svc.DB.Model(&models.Entity{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRunDryRunWritesNothing(t *testing.T) {
	svc := newLinkService(t)
	seedEntity(t, svc.DB, "Naturvårdsverket")
	mention := seedMention(t, svc.DB, "Naturvårdsverket", "remiss-2025-01")
	seedMention(t, svc.DB, "Okänd aktör", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{DryRun: true, CreateEntities: true})
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.AutoLinked)
	assert.Equal(t, 1, summary.EntitiesCreated)

	// Keine Mutationen: Zustände unverändert, keine neue Entität
	got := reload(t, svc, mention.ID)
	assert.Equal(t, models.StateUnresolved, got.ResolutionState)
	var entityCount int64
	require.NoError(t, svc.DB.Model(&models.Entity{}).Count(&entityCount).Error)
	assert.Equal(t, int64(1), entityCount)
}

func TestRunDryRunCountsDuplicateCreationsOnce(t *testing.T) {
	svc := newLinkService(t)
	// Zwei Mentions mit demselben Normalform-Schlüssel
	seedMention(t, svc.DB, "Svenskt Näringsliv", "remiss-2025-01")
	seedMention(t, svc.DB, "Svenskt Näringsliv (pdf 200 kB)", "remiss-2025-02")

	dry, err := svc.Run(context.Background(), RunOptions{DryRun: true, CreateEntities: true})
	require.NoError(t, err)
	assert.Equal(t, 1, dry.EntitiesCreated)

	// Der Vorschau-Zähler muss dem echten Lauf entsprechen
	live, err := svc.Run(context.Background(), RunOptions{CreateEntities: true})
	require.NoError(t, err)
	assert.Equal(t, dry.EntitiesCreated, live.EntitiesCreated)
}

func TestRunIdempotent(t *testing.T) {
	svc := newLinkService(t)
	seedEntity(t, svc.DB, "Naturvårdsverket")
	seedMention(t, svc.DB, "Naturvårdsverket", "remiss-2025-01")
	seedMention(t, svc.DB, "Okänd aktör", "remiss-2025-01")

	first, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Processed)

	// Zweiter Lauf ohne Pool-Änderung: keine Mention mehr in unresolved,
	// also keine weiteren Zustandsübergänge
	second, err := svc.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, second.Processed)
	assert.Zero(t, second.AutoLinked)
	assert.Zero(t, second.Unmatched)
}

func TestRunScopeFilter(t *testing.T) {
	svc := newLinkService(t)
	seedEntity(t, svc.DB, "Naturvårdsverket")
	inScope := seedMention(t, svc.DB, "Naturvårdsverket", "remiss-2025-01")
	outOfScope := seedMention(t, svc.DB, "Naturvårdsverket", "remiss-2025-02")

	summary, err := svc.Run(context.Background(), RunOptions{SourceReference: "remiss-2025-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)

	assert.Equal(t, models.StateAutoLinked, reload(t, svc, inScope.ID).ResolutionState)
	assert.Equal(t, models.StateUnresolved, reload(t, svc, outOfScope.ID).ResolutionState)
}

func TestRunLimitBoundsBatch(t *testing.T) {
	svc := newLinkService(t)
	seedEntity(t, svc.DB, "Naturvårdsverket")
	for i := 0; i < 5; i++ {
		seedMention(t, svc.DB, "Naturvårdsverket", "remiss-2025-01")
	}

	summary, err := svc.Run(context.Background(), RunOptions{Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Processed)
}

func TestRunInvalidMinTierFailsBeforeAnyWrite(t *testing.T) {
	svc := newLinkService(t)
	mention := seedMention(t, svc.DB, "Naturvårdsverket", "remiss-2025-01")

	_, err := svc.Run(context.Background(), RunOptions{MinTier: "certain"})
	require.Error(t, err)

	// Konfigurationsfehler: keine Mention wurde angefasst
	assert.Equal(t, models.StateUnresolved, reload(t, svc, mention.ID).ResolutionState)
}

func TestRunHighMinTierQueuesMediumMatches(t *testing.T) {
	svc := newLinkService(t)
	// Containment mit kleinem Längenverhältnis: Score knapp über 0.8 -> medium
	entity := seedEntity(t, svc.DB, "Myndigheten för samhällsskydd och beredskap (MSB)")
	mention := seedMention(t, svc.DB, "MSB", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{MinTier: TierHigh})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Medium)
	assert.Zero(t, summary.AutoLinked)
	assert.Equal(t, 1, summary.Queued)

	// Unter der Auto-Link-Schwelle: Review-Queue statt Verlinkung
	got := reload(t, svc, mention.ID)
	assert.Equal(t, models.StateQueuedForReview, got.ResolutionState)
	assert.Nil(t, got.EntityID)
	require.NotNil(t, got.SuggestedEntityID)
	assert.Equal(t, entity.ID, *got.SuggestedEntityID)
}

func TestRunEmptyNameBecomesUnmatched(t *testing.T) {
	svc := newLinkService(t)
	mention := seedMention(t, svc.DB, "   ", "remiss-2025-01")

	summary, err := svc.Run(context.Background(), RunOptions{CreateEntities: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Zero(t, summary.EntitiesCreated)

	got := reload(t, svc, mention.ID)
	assert.Equal(t, models.StateUnmatched, got.ResolutionState)
}
