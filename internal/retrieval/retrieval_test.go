package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/embed"
	"github.com/companionkit/memoryengine/internal/model"
	"github.com/companionkit/memoryengine/internal/persona"
	"github.com/companionkit/memoryengine/internal/store"
)

type fakeSearcher struct {
	results []store.SearchResult
	err     error
	calls   int
}

func (f *fakeSearcher) Search(ctx context.Context, p store.SearchParams) ([]store.SearchResult, error) {
	f.calls++
	return f.results, f.err
}

type fakeProfiles struct {
	profile *model.PersonalizationProfile
}

func (f *fakeProfiles) GetProfile(ctx context.Context, ns model.Namespace) (*model.PersonalizationProfile, error) {
	if f.profile == nil {
		return nil, model.ErrNotFound
	}
	return f.profile, nil
}

type countingEmbedder struct {
	inner embed.Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) Dims() int { return c.inner.Dims() }

func newTestOrchestrator(t *testing.T, searcher MemorySearcher, profiles ProfileReader, embedder embed.Embedder) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(searcher, profiles, embedder, persona.NewEngine(config.PersonaConfig{}), config.RetrievalConfig{})
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func result(content string, memType model.MemoryType, score float64, createdAt time.Time) store.SearchResult {
	return store.SearchResult{
		Chunk: model.MemoryChunk{
			ID:         content,
			Content:    content,
			MemoryType: memType,
			CreatedAt:  createdAt,
		},
		Score: score,
	}
}

func TestColdStartPersonaOnly(t *testing.T) {
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	o := newTestOrchestrator(t, &fakeSearcher{}, &fakeProfiles{}, embed.NewMockEmbedder(32))

	out, err := o.BuildContext(context.Background(), ns, "tell me about her", 2000)
	require.NoError(t, err, "cold start must not error")
	assert.Empty(t, out.Chunks)
	assert.False(t, out.Degraded)
	assert.Equal(t, persona.DefaultPersonaPrompt, out.PersonaPrompt)
	assert.Greater(t, out.TokensUsed, 0)
}

func TestRetrievalFailureDegrades(t *testing.T) {
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	searcher := &fakeSearcher{err: errors.New("store offline")}
	o := newTestOrchestrator(t, searcher, &fakeProfiles{}, embed.NewMockEmbedder(32))

	out, err := o.BuildContext(context.Background(), ns, "tell me about her", 2000)
	require.NoError(t, err, "the conversation turn must not fail")
	assert.True(t, out.Degraded)
	assert.Empty(t, out.Chunks)
	assert.NotEmpty(t, out.PersonaPrompt)
}

func TestEmotionalBoostReorders(t *testing.T) {
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	now := time.Now().UTC()
	searcher := &fakeSearcher{results: []store.SearchResult{
		result("she mentioned the sea in passing", model.MemoryFactual, 0.5, now),
		result("she cried with joy at the beach", model.MemoryEmotional, 0.5, now.Add(-time.Hour)),
	}}
	o := newTestOrchestrator(t, searcher, &fakeProfiles{}, embed.NewMockEmbedder(32))

	out, err := o.BuildContext(context.Background(), ns, "the beach", 4000)
	require.NoError(t, err)
	require.Len(t, out.Chunks, 2)
	assert.Equal(t, model.MemoryEmotional, out.Chunks[0].Chunk.MemoryType,
		"equal base scores must rank the emotional chunk first")
	assert.InDelta(t, 0.6, out.Chunks[0].Score, 1e-9)
}

func TestBudgetPackingAndPersonaReserve(t *testing.T) {
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	now := time.Now().UTC()

	big := strings.Repeat("a long remembered story about the two of them ", 40)
	searcher := &fakeSearcher{results: []store.SearchResult{
		result("her favorite color is teal", model.MemoryFactual, 0.9, now),
		result(big, model.MemoryFactual, 0.8, now),
		result("she plays violin on sundays", model.MemoryFactual, 0.7, now),
	}}
	o := newTestOrchestrator(t, searcher, &fakeProfiles{}, embed.NewMockEmbedder(32))

	out, err := o.BuildContext(context.Background(), ns, "what does she like", 400)
	require.NoError(t, err)
	assert.LessOrEqual(t, out.TokensUsed, out.TokenBudget)
	for _, rc := range out.Chunks {
		assert.NotEqual(t, big, rc.Chunk.Content, "oversized chunk must be skipped, not truncated")
	}
	assert.NotEmpty(t, out.Chunks, "small chunks still fit after the reserve")

	// A budget below the persona reserve leaves no room for chunks.
	// The directive still ships and is reported at its real size.
	tiny, err := o.BuildContext(context.Background(), ns, "what does she like", 100)
	require.NoError(t, err)
	assert.Empty(t, tiny.Chunks)
	assert.Equal(t, estimateTokens(tiny.PersonaPrompt), tiny.TokensUsed)
}

func TestOversizedPersonaPromptCountsAgainstBudget(t *testing.T) {
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	now := time.Now().UTC()

	// A stored directive well past the 200-token reserve must eat into
	// the chunk budget instead of letting the context overflow.
	profile := model.NewProfile(ns)
	profile.Stage = model.StageSeeded
	profile.PersonaPrompt = strings.Repeat("You remember her stories with warmth and detail. ", 25)

	memory := strings.Repeat("she loves the sea at dusk ", 8)
	searcher := &fakeSearcher{results: []store.SearchResult{
		result(memory+"one", model.MemoryFactual, 0.9, now),
		result(memory+"two", model.MemoryFactual, 0.8, now),
		result(memory+"three", model.MemoryFactual, 0.7, now),
		result(memory+"four", model.MemoryFactual, 0.6, now),
	}}
	o := newTestOrchestrator(t, searcher, &fakeProfiles{profile: profile}, embed.NewMockEmbedder(32))

	out, err := o.BuildContext(context.Background(), ns, "what does she love", 400)
	require.NoError(t, err)

	total := estimateTokens(out.PersonaPrompt)
	for _, rc := range out.Chunks {
		total += estimateTokens(rc.Chunk.Content)
	}
	assert.Equal(t, total, out.TokensUsed)
	assert.LessOrEqual(t, total, 400, "shipped context must stay within the budget")
	assert.Less(t, len(out.Chunks), 4, "some chunks must be dropped to absorb the oversized directive")
	assert.NotEmpty(t, out.Chunks)
}

func TestStoredPersonaPromptPreferred(t *testing.T) {
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	profile := model.NewProfile(ns)
	profile.Stage = model.StageSeeded
	profile.PersonaPrompt = "You are warm, playful, and remember everything about her."

	o := newTestOrchestrator(t, &fakeSearcher{}, &fakeProfiles{profile: profile}, embed.NewMockEmbedder(32))

	out, err := o.BuildContext(context.Background(), ns, "hello", 2000)
	require.NoError(t, err)
	assert.Equal(t, profile.PersonaPrompt, out.PersonaPrompt)
}

func TestQueryEmbeddingCached(t *testing.T) {
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	emb := &countingEmbedder{inner: embed.NewMockEmbedder(32)}
	o := newTestOrchestrator(t, &fakeSearcher{}, &fakeProfiles{}, emb)

	_, err := o.BuildContext(context.Background(), ns, "what is her favorite color", 2000)
	require.NoError(t, err)
	require.Equal(t, 1, emb.calls)

	// ristretto admits asynchronously.
	o.cache.Wait()

	_, err = o.BuildContext(context.Background(), ns, "what is her favorite color", 2000)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.calls, "repeated query must hit the embedding cache")
}
