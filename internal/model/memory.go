// Package model defines the core memory data types.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

// MemoryType classifies what a chunk captures.
type MemoryType string

const (
	MemoryEmotional      MemoryType = "emotional"
	MemoryFactual        MemoryType = "factual"
	MemoryConversational MemoryType = "conversational"
)

// SourceType records which kind of artifact a chunk came from.
type SourceType string

const (
	SourceText  SourceType = "text"
	SourceVoice SourceType = "voice"
	SourcePhoto SourceType = "photo"
	SourceChat  SourceType = "chat"
)

// RetentionClass controls how long a chunk survives before automatic deletion.
type RetentionClass string

const (
	RetentionShortTerm RetentionClass = "short_term"
	RetentionMidTerm   RetentionClass = "mid_term"
	RetentionLongTerm  RetentionClass = "long_term"
)

// PrivacyLevel controls who may read a chunk.
type PrivacyLevel string

const (
	PrivacyPrivate   PrivacyLevel = "private"
	PrivacyCompanion PrivacyLevel = "companion"
	PrivacyShared    PrivacyLevel = "shared"
)

// ValidMemoryTypes is the closed set of accepted memory types.
var ValidMemoryTypes = map[MemoryType]bool{
	MemoryEmotional:      true,
	MemoryFactual:        true,
	MemoryConversational: true,
}

// ValidSourceTypes is the closed set of accepted source types.
var ValidSourceTypes = map[SourceType]bool{
	SourceText:  true,
	SourceVoice: true,
	SourcePhoto: true,
	SourceChat:  true,
}

// ValidRetentionClasses is the closed set of accepted retention classes.
var ValidRetentionClasses = map[RetentionClass]bool{
	RetentionShortTerm: true,
	RetentionMidTerm:   true,
	RetentionLongTerm:  true,
}

// ValidPrivacyLevels is the closed set of accepted privacy levels.
var ValidPrivacyLevels = map[PrivacyLevel]bool{
	PrivacyPrivate:   true,
	PrivacyCompanion: true,
	PrivacyShared:    true,
}

// Namespace is the (owner, companion) pair that strictly isolates one
// user's one companion's memories. No operation may ever cross it.
type Namespace struct {
	OwnerID     string `json:"owner_id"`
	CompanionID string `json:"companion_id"`
}

// Key renders a stable single-string form used for collection names and
// lock keying.
func (n Namespace) Key() string {
	return n.OwnerID + "/" + n.CompanionID
}

// IsZero reports whether either half of the namespace is missing.
func (n Namespace) IsZero() bool {
	return n.OwnerID == "" || n.CompanionID == ""
}

const (
	// MinContentLength and MaxContentLength bound chunk content size.
	MinContentLength = 10
	MaxContentLength = 10000
)

// MemoryChunk is the atomic retrievable unit. Content and embedding are
// immutable once written; re-embedding requires a new chunk plus
// tombstoning the old one.
type MemoryChunk struct {
	ID             string         `json:"id"`
	Namespace      Namespace      `json:"namespace"`
	Content        string         `json:"content"`
	Embedding      []float32      `json:"embedding,omitempty"`
	MemoryType     MemoryType     `json:"memory_type"`
	SourceType     SourceType     `json:"source_type"`
	RetentionClass RetentionClass `json:"retention_class"`
	PrivacyLevel   PrivacyLevel   `json:"privacy_level"`
	CreatedAt      time.Time      `json:"created_at"`

	// ContentHash deduplicates identical uploads within a namespace.
	ContentHash string `json:"content_hash,omitempty"`
	// Keywords feed the sparse side of hybrid search.
	Keywords []string `json:"keywords,omitempty"`
	// Sequence is the chunk's position within its source artifact.
	// Downstream consumers rely on it for thread reconstruction.
	Sequence int `json:"sequence"`
	// SourceRef names the originating file, when known.
	SourceRef string `json:"source_ref,omitempty"`
}

// Validate checks structural invariants. dim is the deployment's fixed
// embedding dimensionality; pass 0 to skip the dimension check (e.g. for
// candidates that have not been embedded yet).
func (c *MemoryChunk) Validate(dim int) error {
	if c.Namespace.IsZero() {
		return &ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	if strings.TrimSpace(c.Content) == "" {
		return &ValidationError{Field: "content", Reason: "content cannot be empty"}
	}
	if utf8.RuneCountInString(c.Content) < MinContentLength {
		return &ValidationError{Field: "content", Reason: "content below minimum length"}
	}
	if len(c.Content) > MaxContentLength {
		return &ValidationError{Field: "content", Reason: "content exceeds maximum length"}
	}
	if !ValidMemoryTypes[c.MemoryType] {
		return &ValidationError{Field: "memory_type", Reason: "unknown memory type " + string(c.MemoryType)}
	}
	if !ValidSourceTypes[c.SourceType] {
		return &ValidationError{Field: "source_type", Reason: "unknown source type " + string(c.SourceType)}
	}
	if !ValidRetentionClasses[c.RetentionClass] {
		return &ValidationError{Field: "retention_class", Reason: "unknown retention class " + string(c.RetentionClass)}
	}
	if !ValidPrivacyLevels[c.PrivacyLevel] {
		return &ValidationError{Field: "privacy_level", Reason: "unknown privacy level " + string(c.PrivacyLevel)}
	}
	if dim > 0 {
		if len(c.Embedding) == 0 {
			return &ValidationError{Field: "embedding", Reason: "embedding is required"}
		}
		if len(c.Embedding) != dim {
			return &ValidationError{Field: "embedding", Reason: "embedding dimensionality mismatch"}
		}
	}
	return nil
}

// HashContent returns the canonical content hash used for deduplication.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Age returns how old the chunk is relative to now.
func (c *MemoryChunk) Age(now time.Time) time.Duration {
	return now.Sub(c.CreatedAt)
}
