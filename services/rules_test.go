package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remisslinker/models"
)

func TestSnapshotLooksUpByNameKey(t *testing.T) {
	svc := NewRuleService(newTestDB(t), testLogger())
	require.NoError(t, svc.Create(&models.RuleEntry{Pattern: "Missiv (pdf 90 kB)", RuleKind: models.RuleBlocklist}))
	require.NoError(t, svc.Create(&models.RuleEntry{
		Pattern:     "NV",
		RuleKind:    models.RuleAlias,
		AliasTarget: "Naturvårdsverket",
	}))

	snap, err := svc.Snapshot()
	require.NoError(t, err)

	// Lookup über Normalform-Schlüssel, unabhängig von Groß-/Kleinschreibung
	assert.True(t, snap.Blocked("missiv"))
	assert.True(t, snap.Blocked(NameKey("MISSIV")))
	assert.False(t, snap.Blocked("naturvårdsverket"))

	target, ok := snap.Alias("nv")
	require.True(t, ok)
	assert.Equal(t, "Naturvårdsverket", target)

	_, ok = snap.Alias("missiv")
	assert.False(t, ok)
}

func TestNilSnapshotIsInert(t *testing.T) {
	var snap *RuleSnapshot
	assert.False(t, snap.Blocked("anything"))
	_, ok := snap.Alias("anything")
	assert.False(t, ok)
}

func TestCreateValidatesRules(t *testing.T) {
	svc := NewRuleService(newTestDB(t), testLogger())

	assert.Error(t, svc.Create(&models.RuleEntry{Pattern: "  ", RuleKind: models.RuleBlocklist}))
	assert.Error(t, svc.Create(&models.RuleEntry{Pattern: "x", RuleKind: "unknown"}))
	assert.Error(t, svc.Create(&models.RuleEntry{Pattern: "x", RuleKind: models.RuleAlias}))
}

func TestCreateIsIdempotentPerPatternAndKind(t *testing.T) {
	svc := NewRuleService(newTestDB(t), testLogger())
	require.NoError(t, svc.Create(&models.RuleEntry{Pattern: "missiv", RuleKind: models.RuleBlocklist}))
	require.NoError(t, svc.Create(&models.RuleEntry{Pattern: "Missiv", RuleKind: models.RuleBlocklist}))

	var count int64
	require.NoError(t, svc.DB.Model(&models.RuleEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPromoteMovesCandidateIntoLiveRules(t *testing.T) {
	svc := NewRuleService(newTestDB(t), testLogger())
	cand := &models.RuleCandidate{
		Pattern:     "NV",
		RuleKind:    models.RuleAlias,
		AliasTarget: "Naturvårdsverket",
	}
	require.NoError(t, svc.SuggestCandidate(cand))

	// Vor der Freigabe: Live-Liste unberührt
	snap, err := svc.Snapshot()
	require.NoError(t, err)
	_, ok := snap.Alias("nv")
	assert.False(t, ok)

	rule, err := svc.Promote(cand.ID)
	require.NoError(t, err)
	assert.Equal(t, "NV", rule.Pattern)

	snap, err = svc.Snapshot()
	require.NoError(t, err)
	target, ok := snap.Alias("nv")
	require.True(t, ok)
	assert.Equal(t, "Naturvårdsverket", target)

	var got models.RuleCandidate
	require.NoError(t, svc.DB.First(&got, cand.ID).Error)
	assert.True(t, got.Promoted)
}
