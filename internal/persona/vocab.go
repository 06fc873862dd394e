package persona

import "regexp"

// markerSet is one scored dimension of the fixed trait vocabulary.
// Weights are bounded; the vocabulary never grows at runtime. Bump
// model.TraitVocabularyVersion when these tables change.
type markerSet struct {
	keywords []string
	patterns []*regexp.Regexp
	weight   float64
}

// traitMarkers is vocabulary v1 for the big-five style personality
// dimensions. steadiness scores anxiety markers with a negative weight,
// so a calm text reads high.
var traitMarkers = map[string]markerSet{
	"openness": {
		keywords: []string{"creative", "imaginative", "curious", "artistic", "innovative", "adventurous", "explore", "new", "different", "unique"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(try|explore|discover|create|imagine|wonder)\b`),
			regexp.MustCompile(`\b(art|music|book|travel|culture)\b`),
		},
		weight: 1.0,
	},
	"conscientiousness": {
		keywords: []string{"organized", "responsible", "disciplined", "careful", "thorough", "reliable", "plan", "schedule", "goal", "achieve"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(plan|organize|schedule|prepare|goal|target)\b`),
			regexp.MustCompile(`\b(work|study|complete|finish|accomplish)\b`),
		},
		weight: 1.0,
	},
	"extraversion": {
		keywords: []string{"social", "outgoing", "energetic", "talkative", "assertive", "party", "friends", "people", "crowd", "meeting"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(party|social|friends|people|crowd|meeting|gathering)\b`),
			regexp.MustCompile(`\b(talk|speak|chat|discuss|share)\b`),
		},
		weight: 1.0,
	},
	"agreeableness": {
		keywords: []string{"kind", "sympathetic", "helpful", "cooperative", "trusting", "caring", "compassionate", "understanding", "support", "help"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(help|support|care|love|kind|nice|good)\b`),
			regexp.MustCompile(`\b(family|friend|relationship|together)\b`),
		},
		weight: 1.0,
	},
	"steadiness": {
		keywords: []string{"anxious", "worried", "stressed", "nervous", "tense", "moody", "sad", "angry", "fear", "upset"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(worry|stress|anxious|nervous|scared|afraid)\b`),
			regexp.MustCompile(`\b(sad|angry|upset|frustrated|disappointed)\b`),
		},
		weight: -1.0,
	},
}

// styleMarkers is vocabulary v1 for communication styles.
var styleMarkers = map[string]markerSet{
	"formal": {
		keywords: []string{"please", "thank you", "sir", "madam", "respectfully", "sincerely"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(please|thank you|sir|madam|respectfully)\b`),
			regexp.MustCompile(`\b(would|could|might|may)\b`),
		},
	},
	"casual": {
		keywords: []string{"hey", "yeah", "cool", "awesome", "great", "nice", "fun", "lol", "haha"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(hey|yeah|cool|awesome|great|nice|fun)\b`),
			regexp.MustCompile(`\b(gonna|wanna|gotta)\b`),
		},
	},
	"emotional": {
		keywords: []string{"feel", "heart", "soul", "love", "hate", "passion", "emotion", "feeling"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(feel|felt|emotion|heart|soul|love|hate)\b`),
			regexp.MustCompile(`\b(happy|sad|excited|angry|joy)\b`),
		},
	},
	"analytical": {
		keywords: []string{"think", "analyze", "consider", "reason", "logic", "fact", "data", "evidence"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(think|analyze|consider|reason|logic)\b`),
			regexp.MustCompile(`\b(fact|data|evidence|research|study)\b`),
		},
	},
	"storytelling": {
		keywords: []string{"story", "remember", "once", "happened", "experience", "time", "moment"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\b(story|remember|once|happened|experience)\b`),
			regexp.MustCompile(`\b(time|moment|day|when|where)\b`),
		},
	},
}

// emotionalMarkers is vocabulary v1 for emotional patterns. Keyword
// only, no regexps.
var emotionalMarkers = map[string][]string{
	"optimism":  {"positive", "hope", "bright", "good", "great", "wonderful", "amazing", "fantastic"},
	"pessimism": {"negative", "bad", "terrible", "awful", "horrible", "worst", "hate", "dislike"},
	"empathy":   {"understand", "feel", "sorry", "sympathy", "compassion", "care", "support"},
	"humor":     {"funny", "laugh", "joke", "hilarious", "amusing", "comedy", "smile", "giggle"},
	"intensity": {"very", "extremely", "incredibly", "absolutely", "totally", "completely", "really"},
}

// defaultAnalysis is the neutral profile used when there is too little
// text for reliable scoring. Skewed slightly warm and steady.
func defaultAnalysis() Analysis {
	return Analysis{
		Traits: map[string]float64{
			"openness":          0.5,
			"conscientiousness": 0.5,
			"extraversion":      0.5,
			"agreeableness":     0.6,
			"steadiness":        0.7,
		},
		Styles: map[string]float64{
			"formal":       0.3,
			"casual":       0.5,
			"emotional":    0.4,
			"analytical":   0.3,
			"storytelling": 0.4,
		},
		Emotional: map[string]float64{
			"optimism":  0.6,
			"pessimism": 0.2,
			"empathy":   0.7,
			"humor":     0.4,
			"intensity": 0.3,
		},
		Confidence: 0.1,
	}
}
