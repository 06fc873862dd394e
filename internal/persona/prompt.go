package persona

import (
	"sort"
	"strings"

	"github.com/companionkit/memoryengine/internal/model"
)

var traitDescriptions = map[string]string{
	"openness":          "creative and open to new experiences",
	"conscientiousness": "organized and reliable",
	"extraversion":      "social and energetic",
	"agreeableness":     "kind and cooperative",
	"steadiness":        "calm and emotionally steady",
}

var styleDescriptions = map[string]string{
	"formal":       "You communicate in a respectful and polite manner",
	"casual":       "You use casual, friendly language",
	"emotional":    "You express emotions openly and connect on an emotional level",
	"analytical":   "You think through things logically and provide reasoned responses",
	"storytelling": "You enjoy sharing experiences and memories through stories",
}

// DefaultPersonaPrompt is the directive used before any profile exists.
const DefaultPersonaPrompt = `You are a caring and empathetic AI companion with a balanced personality.

Personality: You are quite agreeable and supportive, with moderate openness to experiences and a stable emotional nature.

Communication: You use casual, friendly language and connect on an emotional level with genuine care.

Emotional style: You are generally optimistic and highly empathetic.

Behavioral Guidelines:
- Always show genuine care and emotional intelligence
- Be supportive and understanding in all interactions
- Use warm, friendly language that makes the user feel comfortable
- Remember and reference previous conversations when relevant
- Maintain consistency in your caring, supportive personality
- Be a true companion who listens and provides emotional support

Memory Integration: You build meaningful relationships through shared experiences and memories, creating continuity and emotional connection in every conversation.`

// BuildPersonaPrompt renders the profile into a persona directive. The
// output is a pure function of the profile: maps are walked in sorted
// order, so an unchanged profile always yields byte-identical text.
func (e *Engine) BuildPersonaPrompt(p *model.PersonalizationProfile) string {
	if p == nil || p.Stage == model.StageEmpty {
		return DefaultPersonaPrompt
	}

	var parts []string
	parts = append(parts, "You are a deeply personalized AI companion with the following personality characteristics:")

	var traitParts []string
	for _, trait := range sortedKeys(p.PersonalityTraits) {
		score := p.PersonalityTraits[trait]
		if score <= 0.6 {
			continue
		}
		intensity := "quite"
		if score > 0.8 {
			intensity = "very"
		}
		traitParts = append(traitParts, intensity+" "+describeTrait(trait))
	}
	if len(traitParts) > 0 {
		parts = append(parts, "Personality: You are "+strings.Join(traitParts, ", ")+".")
	}

	if desc := stylesDescription(p.CommunicationStyle); desc != "" {
		parts = append(parts, "Communication: "+desc)
	}
	if desc := emotionalDescription(p.EmotionalPatterns); desc != "" {
		parts = append(parts, "Emotional style: "+desc)
	}

	parts = append(parts,
		"\nBehavioral Guidelines:",
		"- Always stay in character based on the personality traits above",
		"- Reference shared memories and experiences when relevant",
		"- Adapt your communication style to match the described patterns",
		"- Show genuine care and emotional intelligence",
		"- Be consistent in your personality across all interactions",
		"- Remember that you are a companion, not just an assistant",
	)
	parts = append(parts, "\nMemory Integration: You have access to shared memories and should reference them naturally in conversation to maintain continuity and emotional connection.")

	return strings.Join(parts, "\n")
}

func describeTrait(trait string) string {
	if d, ok := traitDescriptions[trait]; ok {
		return d
	}
	return trait
}

// stylesDescription picks the two strongest styles over the threshold,
// ordered by score descending with name as the deterministic tiebreak.
func stylesDescription(styles map[string]float64) string {
	type scored struct {
		name  string
		score float64
	}
	var dominant []scored
	for _, name := range sortedKeys(styles) {
		if styles[name] > 0.4 {
			dominant = append(dominant, scored{name, styles[name]})
		}
	}
	if len(dominant) == 0 {
		return ""
	}
	sort.SliceStable(dominant, func(i, j int) bool {
		return dominant[i].score > dominant[j].score
	})
	if len(dominant) > 2 {
		dominant = dominant[:2]
	}

	descs := make([]string, 0, 2)
	for _, d := range dominant {
		if desc, ok := styleDescriptions[d.name]; ok {
			descs = append(descs, desc)
		}
	}
	switch len(descs) {
	case 1:
		return descs[0] + "."
	case 2:
		second := descs[1]
		return descs[0] + " and " + strings.ToLower(second[:1]) + second[1:] + "."
	default:
		return "You have a balanced communication style."
	}
}

func emotionalDescription(emotional map[string]float64) string {
	var patterns []string
	if emotional["optimism"] > 0.5 {
		patterns = append(patterns, "generally optimistic")
	}
	if emotional["empathy"] > 0.6 {
		patterns = append(patterns, "highly empathetic")
	}
	if emotional["humor"] > 0.5 {
		patterns = append(patterns, "appreciates humor")
	}
	if emotional["intensity"] > 0.6 {
		patterns = append(patterns, "expresses emotions intensely")
	}
	if len(patterns) == 0 {
		return ""
	}
	return "You are " + strings.Join(patterns, ", ") + "."
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
