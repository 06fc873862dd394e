package persona

import (
	"github.com/companionkit/memoryengine/internal/model"
)

var traitInsights = map[string]map[string]string{
	"openness": {
		"high": "You show strong creativity and openness to new experiences in your memories.",
		"low":  "You tend to prefer familiar experiences and established routines.",
	},
	"conscientiousness": {
		"high": "Your memories show you're highly organized and goal-oriented.",
		"low":  "You appear to have a more flexible, spontaneous approach to life.",
	},
	"extraversion": {
		"high": "You're very social and energetic, enjoying interactions with others.",
		"low":  "You seem to prefer quieter, more intimate settings and interactions.",
	},
	"agreeableness": {
		"high": "You show strong empathy and care for others in your memories.",
		"low":  "You tend to be more direct and independent in your approach.",
	},
	"steadiness": {
		"high": "You appear to have a stable, calm emotional nature.",
		"low":  "Your memories show you experience emotions intensely.",
	},
}

var styleInsights = map[string]string{
	"formal":       "You tend to communicate in a respectful and structured manner.",
	"casual":       "Your communication style is relaxed and friendly.",
	"emotional":    "You express your feelings openly and connect emotionally.",
	"analytical":   "You approach conversations thoughtfully and logically.",
	"storytelling": "You enjoy sharing experiences through detailed stories.",
}

var emotionalInsights = map[string]string{
	"optimism":  "Your memories reflect a generally positive outlook on life.",
	"empathy":   "You show deep understanding and care for others' feelings.",
	"humor":     "You appreciate and use humor in your interactions.",
	"intensity": "You experience and express emotions with great intensity.",
}

// insightCap returns the per-level insight quota.
func insightCap(level model.PersonalizationLevel) int {
	if level == model.LevelBasic {
		return 3
	}
	return 5
}

// Insights renders the profile into human-readable observations, in
// deterministic order. Higher personalization levels get more detail.
func (e *Engine) Insights(p *model.PersonalizationProfile) []string {
	if p == nil {
		return nil
	}
	limit := insightCap(p.Level)
	var insights []string

	for _, trait := range sortedKeys(p.PersonalityTraits) {
		score := p.PersonalityTraits[trait]
		var level string
		switch {
		case score > 0.7:
			level = "high"
		case score < 0.3:
			level = "low"
		default:
			continue
		}
		if text := traitInsights[trait][level]; text != "" {
			insights = append(insights, text)
		}
	}

	var bestStyle string
	var bestScore float64
	for _, style := range sortedKeys(p.CommunicationStyle) {
		if s := p.CommunicationStyle[style]; s > bestScore {
			bestStyle, bestScore = style, s
		}
	}
	if bestScore > 0.5 {
		if text := styleInsights[bestStyle]; text != "" {
			insights = append(insights, text)
		}
	}

	for _, pattern := range sortedKeys(p.EmotionalPatterns) {
		if p.EmotionalPatterns[pattern] > 0.6 {
			if text := emotionalInsights[pattern]; text != "" {
				insights = append(insights, text)
			}
		}
	}

	if len(insights) > limit {
		insights = insights[:limit]
	}
	return insights
}
