package persona

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/model"
)

func testEngine() *Engine {
	return NewEngine(config.PersonaConfig{
		SeedThreshold:    5,
		EnhanceThreshold: 25,
		MinTypeDiversity: 2,
		BlendAlpha:       0.3,
	})
}

func chunksOf(n int, memType model.MemoryType, content string) []model.MemoryChunk {
	out := make([]model.MemoryChunk, n)
	for i := range out {
		out[i] = model.MemoryChunk{Content: content, MemoryType: memType}
	}
	return out
}

func TestAnalyzeDefaultsOnTinyCorpus(t *testing.T) {
	e := testEngine()

	a := e.Analyze([]string{"too short"})
	assert.Equal(t, defaultAnalysis().Traits, a.Traits)
	assert.Equal(t, 0.1, a.Confidence)

	a = e.Analyze(nil)
	assert.Equal(t, defaultAnalysis().Traits, a.Traits)
}

func TestAnalyzeSeparatesTraits(t *testing.T) {
	e := testEngine()

	artsy := strings.Repeat("I love to create and explore new art and music, always curious and imaginative about travel and culture. ", 6)
	plain := strings.Repeat("The meeting minutes were recorded and filed without any incident on the usual weekday afternoon as before. ", 6)

	a := e.Analyze([]string{artsy})
	b := e.Analyze([]string{plain})

	require.NotEqual(t, a.Traits, b.Traits)
	assert.Greater(t, a.Traits["openness"], b.Traits["openness"],
		"creative corpus should score higher openness")
	for trait, score := range a.Traits {
		assert.GreaterOrEqual(t, score, 0.0, trait)
		assert.LessOrEqual(t, score, 1.0, trait)
	}
}

func TestUpdateBlendsTowardNewAnalysis(t *testing.T) {
	e := testEngine()
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	p := model.NewProfile(ns)
	p.PersonalityTraits["openness"] = 1.0

	// A tiny corpus analyzes to the neutral default (openness 0.5), so
	// the blend result is exactly 0.7*1.0 + 0.3*0.5.
	e.Update(p, chunksOf(1, model.MemoryFactual, "short note"), nil, 1)
	assert.InDelta(t, 0.85, p.PersonalityTraits["openness"], 1e-9)
	assert.Equal(t, 1, p.MemoryCount)
	assert.False(t, p.UpdatedAt.IsZero())
}

func TestStageTransitionsMonotonic(t *testing.T) {
	e := testEngine()
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	p := model.NewProfile(ns)

	require.Equal(t, model.StageEmpty, p.Stage)

	e.Update(p, chunksOf(3, model.MemoryFactual, "a first small memory"), nil, 1)
	assert.Equal(t, model.StageEmpty, p.Stage, "below seed threshold")

	e.Update(p, chunksOf(2, model.MemoryFactual, "another small memory"), nil, 1)
	assert.Equal(t, model.StageSeeded, p.Stage, "seed threshold crossed")

	// Enough chunks for ENHANCED but only one memory type: the
	// diversity gate holds the profile at SEEDED.
	e.Update(p, chunksOf(25, model.MemoryFactual, "many more factual memories"), nil, 1)
	assert.Equal(t, model.StageSeeded, p.Stage, "diversity gate")

	e.Update(p, nil, nil, 2)
	assert.Equal(t, model.StageEnhanced, p.Stage)

	// Nothing demotes an enhanced profile.
	e.Update(p, nil, nil, 1)
	assert.Equal(t, model.StageEnhanced, p.Stage)
}

func TestPersonaPromptDeterministic(t *testing.T) {
	e := testEngine()
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	p := model.NewProfile(ns)
	p.Stage = model.StageSeeded
	p.PersonalityTraits = map[string]float64{
		"openness":      0.85,
		"agreeableness": 0.7,
		"steadiness":    0.4,
	}
	p.CommunicationStyle = map[string]float64{
		"casual":       0.6,
		"storytelling": 0.5,
		"formal":       0.1,
	}
	p.EmotionalPatterns = map[string]float64{
		"optimism": 0.7,
		"empathy":  0.65,
	}

	first := e.BuildPersonaPrompt(p)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, e.BuildPersonaPrompt(p), "prompt must be byte-identical for an unchanged profile")
	}

	assert.Contains(t, first, "very creative and open to new experiences")
	assert.Contains(t, first, "quite kind and cooperative")
	assert.NotContains(t, first, "steady", "below-threshold traits stay out of the prompt")
	assert.Contains(t, first, "casual, friendly language")
}

func TestPersonaPromptEmptyProfile(t *testing.T) {
	e := testEngine()

	assert.Equal(t, DefaultPersonaPrompt, e.BuildPersonaPrompt(nil))

	p := model.NewProfile(model.Namespace{OwnerID: "u1", CompanionID: "c1"})
	assert.Equal(t, DefaultPersonaPrompt, e.BuildPersonaPrompt(p))
}

func TestRebuildFromChunks(t *testing.T) {
	e := testEngine()
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	chunks := append(
		chunksOf(20, model.MemoryFactual, "she loves to explore new places and create art together with friends"),
		chunksOf(10, model.MemoryEmotional, "that evening felt full of love and joy and laughter")...)

	interactions := []model.Interaction{{UserMessage: "I spent the afternoon painting by the river"}}

	p := e.Rebuild(ns, chunks, interactions)
	assert.Equal(t, model.StageEnhanced, p.Stage)
	assert.Equal(t, 30, p.MemoryCount)
	assert.Equal(t, 1, p.InteractionCount)
	assert.Equal(t, model.TraitVocabularyVersion, p.VocabularyVersion)
	assert.NotEmpty(t, p.PersonaPrompt)

	// Rebuilding the same inputs reproduces the same profile scores.
	q := e.Rebuild(ns, chunks, interactions)
	assert.Equal(t, p.PersonalityTraits, q.PersonalityTraits)
	assert.Equal(t, p.PersonaPrompt, q.PersonaPrompt)
}

func TestAdapterReferencePremiumOnly(t *testing.T) {
	e := testEngine()
	p := model.NewProfile(model.Namespace{OwnerID: "u1", CompanionID: "c1"})

	err := e.SetAdapterReference(p, "adapters/u1-c1-v3")
	require.Error(t, err)
	assert.Empty(t, p.AdapterReference)

	p.Level = model.LevelPremium
	require.NoError(t, e.SetAdapterReference(p, "adapters/u1-c1-v3"))
	assert.Equal(t, "adapters/u1-c1-v3", p.AdapterReference)

	e.ClearAdapterReference(p)
	assert.Empty(t, p.AdapterReference)
}

func TestInsightsGatedByLevel(t *testing.T) {
	e := testEngine()
	p := model.NewProfile(model.Namespace{OwnerID: "u1", CompanionID: "c1"})
	p.PersonalityTraits = map[string]float64{
		"openness":          0.9,
		"conscientiousness": 0.8,
		"extraversion":      0.2,
		"agreeableness":     0.75,
	}
	p.CommunicationStyle = map[string]float64{"storytelling": 0.6}
	p.EmotionalPatterns = map[string]float64{"humor": 0.7, "optimism": 0.8}

	basic := e.Insights(p)
	assert.LessOrEqual(t, len(basic), 3)

	p.Level = model.LevelPremium
	premium := e.Insights(p)
	assert.LessOrEqual(t, len(premium), 5)
	assert.GreaterOrEqual(t, len(premium), len(basic))

	// Deterministic ordering.
	assert.Equal(t, premium, e.Insights(p))
}
