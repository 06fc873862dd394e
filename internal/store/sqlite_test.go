package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/companionkit/memoryengine/internal/embed"
	"github.com/companionkit/memoryengine/internal/model"
)

const testDims = 32

var testEmbedder = embed.NewMockEmbedder(testDims)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"), Options{Dims: testDims})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testChunk(t *testing.T, ns model.Namespace, content string, memType model.MemoryType) model.MemoryChunk {
	t.Helper()
	vec, err := testEmbedder.Embed(context.Background(), content)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	return model.MemoryChunk{
		Namespace:      ns,
		Content:        content,
		Embedding:      vec,
		MemoryType:     memType,
		SourceType:     model.SourceText,
		RetentionClass: model.RetentionMidTerm,
		PrivacyLevel:   model.PrivacyPrivate,
	}
}

func TestWriteAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	stored, err := s.Write(ctx, WriteParams{Chunk: testChunk(t, ns, "she loves rainy evenings", model.MemoryFactual)})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if stored.ID == "" {
		t.Error("expected non-empty ID")
	}
	if stored.ContentHash == "" {
		t.Error("expected content hash to be filled")
	}

	got, err := s.Get(ctx, ns, stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "she loves rainy evenings" {
		t.Errorf("unexpected content %q", got.Content)
	}
	if len(got.Embedding) != testDims {
		t.Errorf("expected %d-dim embedding, got %d", testDims, len(got.Embedding))
	}

	// Same id under a different namespace must read as not found.
	other := model.Namespace{OwnerID: "u2", CompanionID: "c1"}
	if _, err := s.Get(ctx, other, stored.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound across namespaces, got %v", err)
	}
}

func TestWriteValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	c := testChunk(t, ns, "her favorite color is teal", model.MemoryFactual)
	c.Embedding = c.Embedding[:8] // wrong dimensionality
	if _, err := s.Write(ctx, WriteParams{Chunk: c}); err == nil {
		t.Error("expected dimension mismatch to be rejected")
	} else {
		var ve *model.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	}

	c2 := testChunk(t, model.Namespace{}, "her favorite color is teal", model.MemoryFactual)
	if _, err := s.Write(ctx, WriteParams{Chunk: c2}); err == nil {
		t.Error("expected missing namespace to be rejected")
	}
}

func TestIdempotentWrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	first, err := s.Write(ctx, WriteParams{
		Chunk:            testChunk(t, ns, "we met in goa in 2019", model.MemoryFactual),
		IdempotencyToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	second, err := s.Write(ctx, WriteParams{
		Chunk:            testChunk(t, ns, "we met in goa in 2019", model.MemoryFactual),
		IdempotencyToken: "tok-1",
	})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected identical chunk from retried write, got %s and %s", first.ID, second.ID)
	}

	stats, err := s.Stats(ctx, ns)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChunks != 1 {
		t.Errorf("expected exactly 1 stored chunk, got %d", stats.TotalChunks)
	}
}

func TestInteractionLogRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	err := s.SaveInteractions(ctx, ns, []model.Interaction{
		{UserMessage: "I had a lovely walk today"},
		{UserMessage: "work has been stressful lately"},
	})
	if err != nil {
		t.Fatalf("save interactions: %v", err)
	}

	got, err := s.ListInteractions(ctx, ns)
	if err != nil {
		t.Fatalf("list interactions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 interactions, got %d", len(got))
	}
	if got[0].UserMessage != "I had a lovely walk today" {
		t.Errorf("expected chronological order, got %q first", got[0].UserMessage)
	}

	other, err := s.ListInteractions(ctx, model.Namespace{OwnerID: "u2", CompanionID: "c1"})
	if err != nil {
		t.Fatalf("list other namespace: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("interaction log leaked across namespaces: %d rows", len(other))
	}

	if _, err := s.DeleteNamespace(ctx, ns); err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	got, err = s.ListInteractions(ctx, ns)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected interaction log removed with namespace, got %d rows", len(got))
	}
}

func TestIdempotencyTokenScopedToNamespace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	alice := model.Namespace{OwnerID: "alice", CompanionID: "c1"}
	bob := model.Namespace{OwnerID: "bob", CompanionID: "c1"}

	aliceChunk, err := s.Write(ctx, WriteParams{
		Chunk:            testChunk(t, alice, "she loves rainy evenings", model.MemoryFactual),
		IdempotencyToken: "upload-1",
	})
	if err != nil {
		t.Fatalf("alice write: %v", err)
	}

	bobChunk, err := s.Write(ctx, WriteParams{
		Chunk:            testChunk(t, bob, "he collects old film cameras", model.MemoryFactual),
		IdempotencyToken: "upload-1",
	})
	if err != nil {
		t.Fatalf("bob write: %v", err)
	}

	if bobChunk.Namespace != bob {
		t.Fatalf("bob's write returned a chunk from namespace %s", bobChunk.Namespace.Key())
	}
	if bobChunk.ID == aliceChunk.ID {
		t.Errorf("token reuse across namespaces must not resolve to the other owner's chunk")
	}
	if bobChunk.Content != "he collects old film cameras" {
		t.Errorf("bob's content was not stored, got %q", bobChunk.Content)
	}

	stats, err := s.Stats(ctx, bob)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalChunks != 1 {
		t.Errorf("expected bob's chunk persisted, got %d chunks", stats.TotalChunks)
	}
}

func TestContentHashDedup(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	first, _ := s.Write(ctx, WriteParams{Chunk: testChunk(t, ns, "she grew up near the ocean", model.MemoryFactual)})
	second, err := s.Write(ctx, WriteParams{Chunk: testChunk(t, ns, "she grew up near the ocean", model.MemoryFactual)})
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if first.ID != second.ID {
		t.Error("identical content within a namespace should dedupe")
	}

	// The same content in another namespace is a separate chunk.
	other := model.Namespace{OwnerID: "u2", CompanionID: "c1"}
	third, err := s.Write(ctx, WriteParams{Chunk: testChunk(t, other, "she grew up near the ocean", model.MemoryFactual)})
	if err != nil {
		t.Fatalf("other namespace write: %v", err)
	}
	if third.ID == first.ID {
		t.Error("content hash dedup must not cross namespaces")
	}
}

func TestRetentionSweep(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	old := testChunk(t, ns, "a short lived conversational fragment", model.MemoryConversational)
	old.RetentionClass = model.RetentionShortTerm
	old.CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
	oldStored, err := s.Write(ctx, WriteParams{Chunk: old})
	if err != nil {
		t.Fatalf("write old: %v", err)
	}

	oldMid := testChunk(t, ns, "a mid term memory just as old", model.MemoryFactual)
	oldMid.CreatedAt = time.Now().UTC().Add(-40 * 24 * time.Hour)
	midStored, _ := s.Write(ctx, WriteParams{Chunk: oldMid})

	fresh := testChunk(t, ns, "a fresh short term fragment", model.MemoryConversational)
	fresh.RetentionClass = model.RetentionShortTerm
	freshStored, _ := s.Write(ctx, WriteParams{Chunk: fresh})

	stats, err := s.ApplyRetention(ctx, time.Now())
	if err != nil {
		t.Fatalf("retention: %v", err)
	}
	if stats.Expired != 1 {
		t.Errorf("expected 1 expired chunk, got %d", stats.Expired)
	}

	if _, err := s.Get(ctx, ns, oldStored.ID); !errors.Is(err, model.ErrNotFound) {
		t.Error("expired short_term chunk should be gone")
	}
	if _, err := s.Get(ctx, ns, midStored.ID); err != nil {
		t.Errorf("mid_term chunk must be untouched: %v", err)
	}
	if _, err := s.Get(ctx, ns, freshStored.ID); err != nil {
		t.Errorf("fresh short_term chunk must be untouched: %v", err)
	}
}

func TestDeleteNamespace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	other := model.Namespace{OwnerID: "u2", CompanionID: "c1"}

	s.Write(ctx, WriteParams{Chunk: testChunk(t, ns, "she loves rainy evenings", model.MemoryFactual)})
	s.Write(ctx, WriteParams{Chunk: testChunk(t, ns, "her favorite color is teal", model.MemoryFactual)})
	kept, _ := s.Write(ctx, WriteParams{Chunk: testChunk(t, other, "a neighbour memory that must survive", model.MemoryFactual)})

	count, err := s.DeleteNamespace(ctx, ns)
	if err != nil {
		t.Fatalf("delete namespace: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 deleted chunks, got %d", count)
	}

	stats, _ := s.Stats(ctx, ns)
	if stats.TotalChunks != 0 {
		t.Errorf("expected empty namespace, %d chunks remain", stats.TotalChunks)
	}
	if _, err := s.Get(ctx, other, kept.ID); err != nil {
		t.Errorf("neighbour namespace must be untouched: %v", err)
	}
}

func TestExportPinBlocksDeletion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	s.Write(ctx, WriteParams{Chunk: testChunk(t, ns, "she loves rainy evenings", model.MemoryFactual)})

	n, err := s.PinForExport(ctx, ns)
	if err != nil {
		t.Fatalf("pin: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pinned chunk, got %d", n)
	}

	if _, err := s.DeleteNamespace(ctx, ns); !errors.Is(err, model.ErrRetentionConflict) {
		t.Errorf("expected ErrRetentionConflict while pinned, got %v", err)
	}

	if err := s.Unpin(ctx, ns); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if _, err := s.DeleteNamespace(ctx, ns); err != nil {
		t.Errorf("delete after unpin: %v", err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	if _, err := s.GetProfile(ctx, ns); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing profile, got %v", err)
	}

	p := model.NewProfile(ns)
	p.Stage = model.StageSeeded
	p.PersonalityTraits["openness"] = 0.7
	p.CommunicationStyle["warmth"] = 0.55
	p.PersonaPrompt = "You are warm and curious."
	p.MemoryCount = 6
	p.UpdatedAt = time.Now().UTC()
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("save profile: %v", err)
	}

	got, err := s.GetProfile(ctx, ns)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if got.Stage != model.StageSeeded {
		t.Errorf("expected seeded stage, got %s", got.Stage)
	}
	if got.PersonalityTraits["openness"] != 0.7 {
		t.Errorf("traits lost: %v", got.PersonalityTraits)
	}
	if got.PersonaPrompt != p.PersonaPrompt {
		t.Errorf("persona prompt lost: %q", got.PersonaPrompt)
	}

	// Upsert overwrites in place.
	p.Stage = model.StageEnhanced
	p.UpdatedAt = time.Now().UTC()
	if err := s.SaveProfile(ctx, p); err != nil {
		t.Fatalf("re-save profile: %v", err)
	}
	got, _ = s.GetProfile(ctx, ns)
	if got.Stage != model.StageEnhanced {
		t.Errorf("expected enhanced stage after upsert, got %s", got.Stage)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}

	sess := &model.UploadSession{
		SessionID: "sess-1",
		Namespace: ns,
		Status:    model.SessionProcessing,
		Files: []model.FileRecord{
			{FileRef: "diary.txt", SourceType: model.SourceText, Status: model.FileProcessing},
		},
		StartedAt: time.Now().UTC(),
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("save session: %v", err)
	}

	sess.Status = model.SessionCompleted
	sess.Files[0].Status = model.FileCompleted
	sess.Files[0].ChunksCreated = 3
	sess.TotalChunksCreated = 3
	done := time.Now().UTC()
	sess.CompletedAt = &done
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("update session: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Status != model.SessionCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.Files[0].ChunksCreated != 3 {
		t.Errorf("file record lost: %+v", got.Files[0])
	}

	n, err := s.DeleteSessionsBefore(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("gc sessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 collected session, got %d", n)
	}
	if _, err := s.GetSession(ctx, "sess-1"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound after gc, got %v", err)
	}
}

func TestRehydrateOnReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(path, Options{Dims: testDims})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	ns := model.Namespace{OwnerID: "u1", CompanionID: "c1"}
	s.Write(ctx, WriteParams{Chunk: testChunk(t, ns, "her favorite color is teal", model.MemoryFactual)})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewSQLiteStore(path, Options{Dims: testDims})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	vec, _ := testEmbedder.Embed(ctx, "what is her favorite color")
	results, err := s2.Search(ctx, SearchParams{
		Namespace:      ns,
		Query:          "what is her favorite color",
		QueryEmbedding: vec,
		K:              5,
	})
	if err != nil {
		t.Fatalf("search after reopen: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected the stored chunk after reopen, got %d results", len(results))
	}
}
