// Package chunker splits normalized memory text into semantically
// bounded chunks for embedding and indexing.
package chunker

import (
	"regexp"
	"strings"
)

const (
	// DefaultMinTokens and DefaultMaxTokens bound chunk size in
	// token-equivalent units (whitespace-delimited words).
	DefaultMinTokens = 500
	DefaultMaxTokens = 1500

	// TruncationMarker is appended where a single oversized sentence
	// had to be hard-split.
	TruncationMarker = "…"
)

// Options configures chunking behavior.
type Options struct {
	MinTokens int
	MaxTokens int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{MinTokens: DefaultMinTokens, MaxTokens: DefaultMaxTokens}
}

// Candidate is one ordered chunk of source text. Sequence follows source
// order; downstream consumers rely on it for thread reconstruction.
type Candidate struct {
	Text      string
	Sequence  int
	Truncated bool
}

var paragraphSep = regexp.MustCompile(`\n[ \t]*\n+`)

// Chunk splits text into ordered candidates. Empty or whitespace-only
// input yields an empty slice, not an error. Sentences are never split
// except when a single sentence alone exceeds MaxTokens, in which case
// it is hard-split and marked with TruncationMarker. Chunks close at
// paragraph boundaries once they reach MinTokens; a trailing chunk
// below the floor is merged into its predecessor when the combined
// size stays within MaxTokens.
func Chunk(text string, opts Options) []Candidate {
	if opts.MaxTokens == 0 {
		opts = DefaultOptions()
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []Candidate
	var cur []string // accumulated sentences for the open chunk
	curTokens := 0
	truncated := false

	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.Join(cur, " ")
		// A fragment under the floor folds into the preceding chunk
		// when the merge stays within the ceiling.
		if curTokens < opts.MinTokens && len(out) > 0 {
			prev := &out[len(out)-1]
			if !prev.Truncated && tokenCount(prev.Text)+curTokens <= opts.MaxTokens {
				prev.Text += " " + text
				cur = nil
				curTokens = 0
				truncated = false
				return
			}
		}
		out = append(out, Candidate{
			Text:      text,
			Sequence:  len(out),
			Truncated: truncated,
		})
		cur = nil
		curTokens = 0
		truncated = false
	}

	for _, para := range paragraphSep.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, sent := range splitSentences(para) {
			n := tokenCount(sent)

			if n > opts.MaxTokens {
				// A single sentence beyond the ceiling: flush what we
				// have and hard-split the sentence on word boundaries.
				flush()
				for _, piece := range hardSplit(sent, opts.MaxTokens) {
					out = append(out, Candidate{
						Text:      piece,
						Sequence:  len(out),
						Truncated: true,
					})
				}
				continue
			}

			if curTokens+n > opts.MaxTokens {
				flush()
			}
			cur = append(cur, sent)
			curTokens += n
		}
		// Prefer paragraph boundaries as chunk ends once the floor is
		// reached; sub-floor paragraphs keep accumulating.
		if curTokens >= opts.MinTokens {
			flush()
		}
	}
	flush()

	return out
}

// tokenCount approximates token usage as whitespace-delimited words.
func tokenCount(s string) int {
	return len(strings.Fields(s))
}

// splitSentences breaks a paragraph on sentence enders. The next
// sentence starts after '.', '!' or '?' (plus any closing quote)
// followed by whitespace.
func splitSentences(para string) []string {
	var sentences []string
	runes := []rune(para)
	start := 0

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			j := i + 1
			for j < len(runes) && (runes[j] == '"' || runes[j] == '\'' || runes[j] == ')') {
				j++
			}
			if j >= len(runes) || runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\n' {
				s := strings.TrimSpace(string(runes[start:j]))
				if s != "" {
					sentences = append(sentences, s)
				}
				start = j
				i = j
			}
		}
	}
	if start < len(runes) {
		s := strings.TrimSpace(string(runes[start:]))
		if s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// hardSplit breaks an oversized sentence into word windows of at most
// maxTokens, appending the truncation marker to every piece but the
// last.
func hardSplit(sent string, maxTokens int) []string {
	words := strings.Fields(sent)
	var pieces []string
	for i := 0; i < len(words); i += maxTokens {
		end := i + maxTokens
		if end > len(words) {
			end = len(words)
		}
		piece := strings.Join(words[i:end], " ")
		if end < len(words) {
			piece += TruncationMarker
		}
		pieces = append(pieces, piece)
	}
	return pieces
}
