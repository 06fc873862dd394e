// Package store provides namespace-isolated durable memory storage with
// hybrid dense/sparse search. SQLite holds the rows and the FTS5 sparse
// index; an embedded chromem-go database holds the dense vector index,
// one collection per namespace.
package store

import (
	"context"
	"time"

	"github.com/companionkit/memoryengine/internal/model"
)

// WriteParams holds parameters for storing a memory chunk.
type WriteParams struct {
	Chunk model.MemoryChunk
	// IdempotencyToken deduplicates retried writes. A second Write with
	// the same token returns the first stored chunk unchanged.
	IdempotencyToken string
}

// SearchParams holds parameters for hybrid search within one namespace.
type SearchParams struct {
	Namespace      model.Namespace
	Query          string
	QueryEmbedding []float32
	K              int
	// MemoryTypes restricts results to the given types when non-empty.
	MemoryTypes []model.MemoryType
}

// SearchResult is one ranked chunk with its score breakdown.
type SearchResult struct {
	Chunk  model.MemoryChunk
	Score  float64
	Dense  float64
	Sparse float64
}

// RetentionStats reports one retention sweep.
type RetentionStats struct {
	Expired int `json:"expired"`
	Purged  int `json:"purged"`
}

// NamespaceStats summarizes one namespace's stored memories.
type NamespaceStats struct {
	Namespace        model.Namespace              `json:"namespace"`
	TotalChunks      int                          `json:"total_chunks"`
	ByMemoryType     map[model.MemoryType]int     `json:"by_memory_type"`
	BySourceType     map[model.SourceType]int     `json:"by_source_type"`
	ByRetentionClass map[model.RetentionClass]int `json:"by_retention_class"`
	OldestChunk      *time.Time                   `json:"oldest_chunk,omitempty"`
	NewestChunk      *time.Time                   `json:"newest_chunk,omitempty"`
}

// Store defines the core memory storage contract.
type Store interface {
	// Write stores a chunk. Returns the stored chunk, which may be a
	// previously written one when the idempotency token or content hash
	// matches.
	Write(ctx context.Context, p WriteParams) (*model.MemoryChunk, error)

	// Get retrieves one chunk by id within a namespace.
	Get(ctx context.Context, ns model.Namespace, id string) (*model.MemoryChunk, error)

	// Search runs hybrid dense/sparse retrieval within one namespace.
	Search(ctx context.Context, p SearchParams) ([]SearchResult, error)

	// DeleteNamespace tombstones every chunk in the namespace and
	// schedules the purge. Returns the number of chunks deleted.
	DeleteNamespace(ctx context.Context, ns model.Namespace) (int, error)

	// Close releases the store.
	Close() error
}
