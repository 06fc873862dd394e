// Package persona derives a personalization profile from stored
// memories and interactions, and renders it into a persona directive
// for the response generator. Scoring runs against a fixed, versioned
// marker vocabulary so results are reproducible.
package persona

import (
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/model"
)

// minAnalysisWords is the minimum corpus size for lexical scoring.
// Below it the neutral default applies.
const minAnalysisWords = 50

// Analysis is one scoring pass over a text corpus.
type Analysis struct {
	Traits     map[string]float64
	Styles     map[string]float64
	Emotional  map[string]float64
	Confidence float64
	WordCount  int
	TextCount  int
}

// Engine scores memories into profiles and renders persona prompts.
type Engine struct {
	cfg config.PersonaConfig
}

// NewEngine creates a personalization engine.
func NewEngine(cfg config.PersonaConfig) *Engine {
	if cfg.SeedThreshold <= 0 {
		cfg.SeedThreshold = 5
	}
	if cfg.EnhanceThreshold <= 0 {
		cfg.EnhanceThreshold = 25
	}
	if cfg.MinTypeDiversity <= 0 {
		cfg.MinTypeDiversity = 2
	}
	if cfg.BlendAlpha <= 0 || cfg.BlendAlpha > 1 {
		cfg.BlendAlpha = 0.3
	}
	return &Engine{cfg: cfg}
}

// Analyze scores a corpus of memory texts against the trait vocabulary.
// Each score lands in [0,1].
func (e *Engine) Analyze(texts []string) Analysis {
	if len(texts) == 0 {
		return defaultAnalysis()
	}

	combined := strings.ToLower(strings.Join(texts, " "))
	wordCount := len(strings.Fields(combined))
	if wordCount < minAnalysisWords {
		return defaultAnalysis()
	}

	a := Analysis{
		Traits:    map[string]float64{},
		Styles:    map[string]float64{},
		Emotional: map[string]float64{},
		WordCount: wordCount,
		TextCount: len(texts),
	}

	for trait, markers := range traitMarkers {
		a.Traits[trait] = clamp01(traitScore(combined, markers, wordCount))
	}
	for style, markers := range styleMarkers {
		a.Styles[style] = styleScore(combined, markers, wordCount)
	}
	for pattern, keywords := range emotionalMarkers {
		a.Emotional[pattern] = keywordScore(combined, keywords, wordCount)
	}

	a.Confidence = confidence(wordCount, len(texts))
	return a
}

// traitScore counts weighted keyword and pattern occurrences, normalizes
// per 100 words, and squashes through a shifted sigmoid.
func traitScore(text string, markers markerSet, wordCount int) float64 {
	var score float64
	for _, kw := range markers.keywords {
		score += float64(strings.Count(text, kw)) * 0.1
	}
	for _, re := range markers.patterns {
		score += float64(len(re.FindAllStringIndex(text, -1))) * 0.15
	}
	score *= markers.weight
	score /= float64(wordCount) / 100

	return 1 / (1 + math.Exp(-score+2))
}

// styleScore is unweighted occurrence counting, per 100 words, capped.
func styleScore(text string, markers markerSet, wordCount int) float64 {
	var score float64
	for _, kw := range markers.keywords {
		score += float64(strings.Count(text, kw))
	}
	for _, re := range markers.patterns {
		score += float64(len(re.FindAllStringIndex(text, -1)))
	}
	score /= float64(wordCount) / 100
	return math.Min(1, score)
}

func keywordScore(text string, keywords []string, wordCount int) float64 {
	var score float64
	for _, kw := range keywords {
		score += float64(strings.Count(text, kw))
	}
	score /= float64(wordCount) / 100
	return math.Min(1, score)
}

// confidence grows with corpus size: full word confidence at 1000+
// words, full memory confidence at 20+ texts.
func confidence(wordCount, textCount int) float64 {
	wc := math.Min(1, float64(wordCount)/1000)
	mc := math.Min(1, float64(textCount)/20)
	return math.Round((wc*0.7+mc*0.3)*100) / 100
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Update folds new chunks and interactions into the profile. Existing
// scores decay toward the new analysis with weight alpha, so the cost
// of an update is bounded by the new data, not the full history.
// typeDiversity is the number of distinct memory types stored across
// the whole namespace; it gates the ENHANCED transition.
func (e *Engine) Update(p *model.PersonalizationProfile, chunks []model.MemoryChunk, interactions []model.Interaction, typeDiversity int) {
	texts := make([]string, 0, len(chunks)+len(interactions))
	for _, c := range chunks {
		texts = append(texts, c.Content)
	}
	for _, i := range interactions {
		if i.UserMessage != "" {
			texts = append(texts, i.UserMessage)
		}
	}

	if len(texts) > 0 {
		a := e.Analyze(texts)
		blend(p.PersonalityTraits, a.Traits, e.cfg.BlendAlpha)
		blend(p.CommunicationStyle, a.Styles, e.cfg.BlendAlpha)
		blend(p.EmotionalPatterns, a.Emotional, e.cfg.BlendAlpha)
		p.Confidence = (1-e.cfg.BlendAlpha)*p.Confidence + e.cfg.BlendAlpha*a.Confidence
	}

	p.MemoryCount += len(chunks)
	p.InteractionCount += len(interactions)
	p.VocabularyVersion = model.TraitVocabularyVersion
	e.advanceStage(p, typeDiversity)
	p.PersonaPrompt = e.BuildPersonaPrompt(p)
	p.UpdatedAt = time.Now().UTC()
}

// Rebuild reconstructs a profile from scratch out of the full chunk
// set and interaction log. Used when the vocabulary version changes or
// the profile row is lost; chunks plus interactions are the source of
// truth.
func (e *Engine) Rebuild(ns model.Namespace, chunks []model.MemoryChunk, interactions []model.Interaction) *model.PersonalizationProfile {
	p := model.NewProfile(ns)

	texts := make([]string, 0, len(chunks)+len(interactions))
	types := map[model.MemoryType]bool{}
	for _, c := range chunks {
		texts = append(texts, c.Content)
		types[c.MemoryType] = true
	}
	for _, in := range interactions {
		if in.UserMessage != "" {
			texts = append(texts, in.UserMessage)
		}
	}

	a := e.Analyze(texts)
	p.PersonalityTraits = a.Traits
	p.CommunicationStyle = a.Styles
	p.EmotionalPatterns = a.Emotional
	p.Confidence = a.Confidence
	p.MemoryCount = len(chunks)
	p.InteractionCount = len(interactions)
	e.advanceStage(p, len(types))
	p.PersonaPrompt = e.BuildPersonaPrompt(p)
	p.UpdatedAt = time.Now().UTC()

	log.Debug().Str("namespace", ns.Key()).Int("chunks", len(chunks)).
		Str("stage", string(p.Stage)).Msg("profile rebuilt")
	return p
}

// advanceStage moves the profile through EMPTY -> SEEDED -> ENHANCED.
// Transitions are monotonic; a shrinking corpus never demotes.
func (e *Engine) advanceStage(p *model.PersonalizationProfile, typeDiversity int) {
	if p.Stage == model.StageEmpty && p.MemoryCount >= e.cfg.SeedThreshold {
		p.Stage = model.StageSeeded
	}
	if p.Stage == model.StageSeeded &&
		p.MemoryCount >= e.cfg.EnhanceThreshold &&
		typeDiversity >= e.cfg.MinTypeDiversity {
		p.Stage = model.StageEnhanced
	}
}

func blend(old, fresh map[string]float64, alpha float64) {
	for k, v := range fresh {
		if prev, ok := old[k]; ok {
			old[k] = (1-alpha)*prev + alpha*v
		} else {
			old[k] = v
		}
	}
}

// SetAdapterReference records a fine-tuned adapter pointer on the
// profile. Premium only; the engine never loads the adapter itself.
func (e *Engine) SetAdapterReference(p *model.PersonalizationProfile, ref string) error {
	if p.Level != model.LevelPremium {
		return &model.ValidationError{Field: "adapter_reference", Reason: "adapter references require the premium personalization level"}
	}
	p.AdapterReference = ref
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ClearAdapterReference drops the adapter pointer.
func (e *Engine) ClearAdapterReference(p *model.PersonalizationProfile) {
	p.AdapterReference = ""
	p.UpdatedAt = time.Now().UTC()
}
