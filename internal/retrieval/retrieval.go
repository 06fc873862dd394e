// Package retrieval assembles conversation context: persona directive
// plus the highest-value memories that fit a token budget.
package retrieval

import (
	"context"
	"sort"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog/log"

	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/embed"
	"github.com/companionkit/memoryengine/internal/model"
	"github.com/companionkit/memoryengine/internal/persona"
	"github.com/companionkit/memoryengine/internal/store"
)

// MemorySearcher is the search surface the orchestrator consumes.
type MemorySearcher interface {
	Search(ctx context.Context, p store.SearchParams) ([]store.SearchResult, error)
}

// ProfileReader loads persisted personalization profiles.
type ProfileReader interface {
	GetProfile(ctx context.Context, ns model.Namespace) (*model.PersonalizationProfile, error)
}

// RankedChunk is one packed memory with its final score.
type RankedChunk struct {
	Chunk model.MemoryChunk `json:"chunk"`
	Score float64           `json:"score"`
}

// ConversationContext is the assembled payload handed to the response
// generator.
type ConversationContext struct {
	Namespace     model.Namespace `json:"namespace"`
	PersonaPrompt string          `json:"persona_prompt"`
	Chunks        []RankedChunk   `json:"chunks"`
	TokenBudget   int             `json:"token_budget"`
	TokensUsed    int             `json:"tokens_used"`
	// Degraded marks a persona-only context produced because retrieval
	// failed, as opposed to a genuinely empty namespace.
	Degraded bool `json:"degraded,omitempty"`
}

// Orchestrator builds conversation context from the store, the profile,
// and a live query.
type Orchestrator struct {
	searcher MemorySearcher
	profiles ProfileReader
	embedder embed.Embedder
	personas *persona.Engine
	cache    *ristretto.Cache
	cfg      config.RetrievalConfig
}

// NewOrchestrator wires the retrieval pipeline. The query-embedding
// cache is sized from cfg.CacheSize.
func NewOrchestrator(searcher MemorySearcher, profiles ProfileReader, embedder embed.Embedder, personas *persona.Engine, cfg config.RetrievalConfig) (*Orchestrator, error) {
	if cfg.EmotionalBoost <= 0 {
		cfg.EmotionalBoost = 1.2
	}
	if cfg.PersonaReserveFraction <= 0 {
		cfg.PersonaReserveFraction = 0.25
	}
	if cfg.PersonaReserveMin <= 0 {
		cfg.PersonaReserveMin = 200
	}
	if cfg.SearchK <= 0 {
		cfg.SearchK = 40
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(cfg.CacheSize) * 10,
		MaxCost:     int64(cfg.CacheSize),
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		searcher: searcher,
		profiles: profiles,
		embedder: embedder,
		personas: personas,
		cache:    cache,
		cfg:      cfg,
	}, nil
}

// estimateTokens is the rough proxy used for budgeting: 1 token ≈ 4
// chars.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// BuildContext embeds the live query, searches the namespace, and packs
// the ranked chunks into the budget after reserving room for the
// persona directive. An empty namespace yields a persona-only context;
// so does a retrieval failure, marked Degraded.
func (o *Orchestrator) BuildContext(ctx context.Context, ns model.Namespace, liveQuery string, maxTokens int) (*ConversationContext, error) {
	if ns.IsZero() {
		return nil, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	personaPrompt := o.personaPrompt(ctx, ns)
	out := &ConversationContext{
		Namespace:     ns,
		PersonaPrompt: personaPrompt,
		Chunks:        []RankedChunk{},
		TokenBudget:   maxTokens,
	}

	reserve := int(float64(maxTokens) * o.cfg.PersonaReserveFraction)
	if reserve < o.cfg.PersonaReserveMin {
		reserve = o.cfg.PersonaReserveMin
	}
	chunkBudget := maxTokens - reserve
	if chunkBudget <= 0 {
		out.TokensUsed = estimateTokens(personaPrompt)
		return out, nil
	}

	results, err := o.search(ctx, ns, liveQuery)
	if err != nil {
		// The conversation turn must not fail on memory-layer trouble.
		log.Warn().Err(err).Str("namespace", ns.Key()).Msg("retrieval degraded to persona-only context")
		out.Degraded = true
		out.TokensUsed = estimateTokens(personaPrompt)
		return out, nil
	}

	ranked := o.rank(results)

	// The directive counts at its real size: a prompt that overflows
	// its reserve eats into the chunk budget rather than letting the
	// packed context exceed maxTokens.
	used := estimateTokens(personaPrompt)
	for _, rc := range ranked {
		cost := estimateTokens(rc.Chunk.Content)
		if used+cost > maxTokens {
			continue
		}
		out.Chunks = append(out.Chunks, rc)
		used += cost
	}
	out.TokensUsed = used
	return out, nil
}

// search embeds the query (through the cache) and runs hybrid search
// with a candidate pool larger than the final packing needs.
func (o *Orchestrator) search(ctx context.Context, ns model.Namespace, liveQuery string) ([]store.SearchResult, error) {
	var queryVec []float32
	if v, ok := o.cache.Get(liveQuery); ok {
		queryVec = v.([]float32)
	} else {
		vec, err := o.embedder.Embed(ctx, liveQuery)
		if err != nil {
			return nil, err
		}
		queryVec = vec
		o.cache.Set(liveQuery, vec, 1)
	}

	return o.searcher.Search(ctx, store.SearchParams{
		Namespace:      ns,
		Query:          liveQuery,
		QueryEmbedding: queryVec,
		K:              o.cfg.SearchK,
	})
}

// rank applies the emotional significance multiplier and re-sorts.
// Emotionally tagged memories outrank equal-scored neutral ones.
func (o *Orchestrator) rank(results []store.SearchResult) []RankedChunk {
	ranked := make([]RankedChunk, 0, len(results))
	for _, r := range results {
		score := r.Score
		if r.Chunk.MemoryType == model.MemoryEmotional {
			score *= o.cfg.EmotionalBoost
		}
		ranked = append(ranked, RankedChunk{Chunk: r.Chunk, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Chunk.CreatedAt.After(ranked[j].Chunk.CreatedAt)
	})
	return ranked
}

// personaPrompt loads the stored directive, falling back to the default
// for a namespace with no profile yet.
func (o *Orchestrator) personaPrompt(ctx context.Context, ns model.Namespace) string {
	profile, err := o.profiles.GetProfile(ctx, ns)
	if err != nil {
		return persona.DefaultPersonaPrompt
	}
	if profile.PersonaPrompt == "" {
		return o.personas.BuildPersonaPrompt(profile)
	}
	return profile.PersonaPrompt
}

// Close releases the embedding cache.
func (o *Orchestrator) Close() {
	o.cache.Close()
}
