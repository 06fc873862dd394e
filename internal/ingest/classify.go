package ingest

import (
	"strings"

	"github.com/companionkit/memoryengine/internal/model"
)

// emotionalCues flag a chunk as an emotional memory when they are dense
// enough in its text.
var emotionalCues = []string{
	"love", "miss", "cried", "cry", "tears", "happy", "happiest", "joy",
	"heartbroken", "heart", "grief", "afraid", "scared", "proud", "excited",
	"laughed", "laughter", "angry", "hurt", "lonely", "grateful", "hug",
	"kissed", "felt", "feel", "feeling",
}

// classifyMemoryType assigns the memory type at ingestion time. Chat
// turns are conversational; other sources split on emotional cue
// density.
func classifyMemoryType(text string, source model.SourceType) model.MemoryType {
	if source == model.SourceChat {
		return model.MemoryConversational
	}

	lower := strings.ToLower(text)
	words := len(strings.Fields(lower))
	if words == 0 {
		return model.MemoryFactual
	}
	hits := 0
	for _, cue := range emotionalCues {
		hits += strings.Count(lower, cue)
	}
	// Over one cue per 40 words reads as an emotional memory.
	if float64(hits)/float64(words) > 1.0/40 {
		return model.MemoryEmotional
	}
	return model.MemoryFactual
}

// classifyRetention maps type and source to a retention class:
// conversational chat is ephemeral, emotional memories are permanent,
// everything else sits in the middle.
func classifyRetention(memType model.MemoryType, source model.SourceType) model.RetentionClass {
	switch {
	case memType == model.MemoryEmotional:
		return model.RetentionLongTerm
	case memType == model.MemoryConversational && source == model.SourceChat:
		return model.RetentionShortTerm
	default:
		return model.RetentionMidTerm
	}
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "that": true, "this": true,
	"with": true, "was": true, "were": true, "are": true, "have": true,
	"had": true, "has": true, "she": true, "her": true, "him": true,
	"his": true, "they": true, "them": true, "you": true, "your": true,
	"but": true, "not": true, "all": true, "very": true, "just": true,
	"from": true, "about": true, "when": true, "what": true, "there": true,
}

// extractKeywords pulls up to limit distinct salient words, in order of
// first appearance.
func extractKeywords(text string, limit int) []string {
	seen := map[string]bool{}
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if len(word) < 4 || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
		if len(keywords) == limit {
			break
		}
	}
	return keywords
}
