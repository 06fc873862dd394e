// Package engine wires the ingestion pipeline, memory store, persona
// engine, and retrieval orchestrator into one facade with a background
// retention sweep.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/companionkit/memoryengine/internal/chunker"
	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/embed"
	"github.com/companionkit/memoryengine/internal/ingest"
	"github.com/companionkit/memoryengine/internal/model"
	"github.com/companionkit/memoryengine/internal/normalize"
	"github.com/companionkit/memoryengine/internal/persona"
	"github.com/companionkit/memoryengine/internal/retrieval"
	"github.com/companionkit/memoryengine/internal/store"
)

// Services holds the optional external collaborators for voice and
// photo artifacts. Nil fields disable the corresponding source type.
type Services struct {
	Transcriber normalize.Transcriber
	Captioner   normalize.Captioner
}

// Engine is the top-level facade over the memory engine.
type Engine struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	embedder embed.Embedder
	pipeline *ingest.Pipeline
	personas *persona.Engine
	retrieve *retrieval.Orchestrator
	sched    *cron.Cron
}

// New builds a fully wired engine from configuration and starts the
// background retention sweep when a schedule is configured.
func New(cfg *config.Config, svcs Services) (*Engine, error) {
	embedder := embed.NewFromConfig(cfg.Embedding)
	if embedder == nil {
		return nil, fmt.Errorf("engine: unknown embedding provider %q", cfg.Embedding.Provider)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath, store.Options{
		Dims:         cfg.Embedding.Dimension,
		DenseWeight:  cfg.Search.DenseWeight,
		SparseWeight: cfg.Search.SparseWeight,
		ReadRetries:  cfg.Search.ReadRetries,
		ShortTermTTL: cfg.Retention.ShortTermTTL,
	})
	if err != nil {
		return nil, err
	}

	normalizer := normalize.New(cfg.Ingest.MaxArtifactBytes, svcs.Transcriber, svcs.Captioner, normalize.RetryPolicy{})
	personas := persona.NewEngine(cfg.Persona)

	pipeline := ingest.New(normalizer, embedder, st, st,
		chunker.Options{MinTokens: cfg.Chunker.MinTokens, MaxTokens: cfg.Chunker.MaxTokens},
		cfg.Ingest)

	retrieve, err := retrieval.NewOrchestrator(st, st, embedder, personas, cfg.Retrieval)
	if err != nil {
		st.Close()
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		pipeline: pipeline,
		personas: personas,
		retrieve: retrieve,
	}

	if cfg.Retention.SweepSchedule != "" {
		e.sched = cron.New()
		if _, err := e.sched.AddFunc(cfg.Retention.SweepSchedule, e.sweep); err != nil {
			retrieve.Close()
			st.Close()
			return nil, fmt.Errorf("engine: invalid sweep schedule %q: %w", cfg.Retention.SweepSchedule, err)
		}
		e.sched.Start()
	}
	return e, nil
}

// Close stops the sweep scheduler and releases the store.
func (e *Engine) Close() error {
	if e.sched != nil {
		<-e.sched.Stop().Done()
	}
	e.retrieve.Close()
	return e.store.Close()
}

// Ingest runs one upload batch and refreshes the namespace profile
// from the chunks the batch created.
func (e *Engine) Ingest(ctx context.Context, ns model.Namespace, artifacts []ingest.Artifact, idempotencyToken string) (*model.UploadSession, error) {
	sess, err := e.pipeline.Run(ctx, ns, artifacts, idempotencyToken)
	if err != nil {
		return nil, err
	}

	if sess.TotalChunksCreated > 0 {
		if err := e.refreshProfile(ctx, ns, sess.StartedAt); err != nil {
			// The chunks are stored; the profile catches up on the
			// next update or an explicit rebuild.
			log.Warn().Err(err).Str("namespace", ns.Key()).Msg("profile refresh after ingest failed")
		}
	}
	return sess, nil
}

// SubmitArtifact ingests a single artifact and returns its session ID.
func (e *Engine) SubmitArtifact(ctx context.Context, ns model.Namespace, data []byte, declared model.SourceType, idempotencyToken string) (string, error) {
	sess, err := e.Ingest(ctx, ns, []ingest.Artifact{
		{FileRef: "artifact", Data: data, Declared: declared},
	}, idempotencyToken)
	if err != nil {
		return "", err
	}
	return sess.SessionID, nil
}

// GetSession returns the recorded state of one upload session.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	return e.store.GetSession(ctx, sessionID)
}

// GetContext assembles the conversation context for one turn.
func (e *Engine) GetContext(ctx context.Context, ns model.Namespace, liveQuery string, maxTokens int) (*retrieval.ConversationContext, error) {
	return e.retrieve.BuildContext(ctx, ns, liveQuery, maxTokens)
}

// Search runs a raw hybrid search without context packing.
func (e *Engine) Search(ctx context.Context, ns model.Namespace, query string, k int, types []model.MemoryType) ([]store.SearchResult, error) {
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return e.store.Search(ctx, store.SearchParams{
		Namespace:      ns,
		Query:          query,
		QueryEmbedding: vec,
		K:              k,
		MemoryTypes:    types,
	})
}

// Profile returns the namespace profile, rebuilding it from the chunk
// set when the trait vocabulary has changed since it was scored.
func (e *Engine) Profile(ctx context.Context, ns model.Namespace) (*model.PersonalizationProfile, error) {
	p, err := e.store.GetProfile(ctx, ns)
	if errors.Is(err, model.ErrNotFound) {
		return model.NewProfile(ns), nil
	}
	if err != nil {
		return nil, err
	}
	if p.VocabularyVersion != model.TraitVocabularyVersion {
		return e.RebuildProfile(ctx, ns)
	}
	return p, nil
}

// RebuildProfile reconstructs the profile from the full chunk set and
// interaction log, then persists it.
func (e *Engine) RebuildProfile(ctx context.Context, ns model.Namespace) (*model.PersonalizationProfile, error) {
	chunks, err := e.store.ListNamespace(ctx, ns)
	if err != nil {
		return nil, err
	}
	interactions, err := e.store.ListInteractions(ctx, ns)
	if err != nil {
		return nil, err
	}
	p := e.personas.Rebuild(ns, chunks, interactions)
	if err := e.store.SaveProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Insights lists human-readable profile observations, capped by the
// namespace's personalization level.
func (e *Engine) Insights(ctx context.Context, ns model.Namespace) ([]string, error) {
	p, err := e.Profile(ctx, ns)
	if err != nil {
		return nil, err
	}
	return e.personas.Insights(p), nil
}

// RecordInteraction appends conversational exchanges to the interaction
// log and blends them into the profile. The log survives independently
// so a vocabulary-version rebuild can replay it.
func (e *Engine) RecordInteraction(ctx context.Context, ns model.Namespace, interactions ...model.Interaction) (*model.PersonalizationProfile, error) {
	if len(interactions) == 0 {
		return e.Profile(ctx, ns)
	}
	if err := e.store.SaveInteractions(ctx, ns, interactions); err != nil {
		return nil, err
	}
	p, err := e.Profile(ctx, ns)
	if err != nil {
		return nil, err
	}
	diversity, err := e.typeDiversity(ctx, ns)
	if err != nil {
		return nil, err
	}
	e.personas.Update(p, nil, interactions, diversity)
	if err := e.store.SaveProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// SetAdapterReference stores a fine-tuned adapter pointer on the
// profile. Restricted to the premium personalization level.
func (e *Engine) SetAdapterReference(ctx context.Context, ns model.Namespace, ref string) error {
	p, err := e.Profile(ctx, ns)
	if err != nil {
		return err
	}
	if err := e.personas.SetAdapterReference(p, ref); err != nil {
		return err
	}
	return e.store.SaveProfile(ctx, p)
}

// Stats summarizes the namespace's stored memories.
func (e *Engine) Stats(ctx context.Context, ns model.Namespace) (*store.NamespaceStats, error) {
	return e.store.Stats(ctx, ns)
}

// ExportBundle is the full portable copy of one namespace.
type ExportBundle struct {
	Namespace  model.Namespace               `json:"namespace"`
	ExportedAt time.Time                     `json:"exported_at"`
	Chunks     []model.MemoryChunk           `json:"chunks"`
	Profile    *model.PersonalizationProfile `json:"profile,omitempty"`
}

// ExportAll produces a complete bundle of the namespace's memories and
// profile. Chunks are pinned for the duration of the export so a
// concurrent deletion cannot race it.
func (e *Engine) ExportAll(ctx context.Context, ns model.Namespace) (*ExportBundle, error) {
	pinned, err := e.store.PinForExport(ctx, ns)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := e.store.Unpin(context.WithoutCancel(ctx), ns); err != nil {
			log.Error().Err(err).Str("namespace", ns.Key()).Msg("unpin after export failed")
		}
	}()

	chunks, err := e.store.ListNamespace(ctx, ns)
	if err != nil {
		return nil, err
	}

	bundle := &ExportBundle{
		Namespace:  ns,
		ExportedAt: time.Now().UTC(),
		Chunks:     chunks,
	}
	if p, err := e.store.GetProfile(ctx, ns); err == nil {
		bundle.Profile = p
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	log.Info().Str("namespace", ns.Key()).Int("pinned", pinned).
		Int("chunks", len(chunks)).Msg("namespace exported")
	return bundle, nil
}

// DeletionConfirmation reports what a completed namespace deletion
// removed.
type DeletionConfirmation struct {
	Namespace     model.Namespace `json:"namespace"`
	ChunksDeleted int             `json:"chunks_deleted"`
	DeletedAt     time.Time       `json:"deleted_at"`
}

// DeleteAll removes every memory and the profile of one namespace.
func (e *Engine) DeleteAll(ctx context.Context, ns model.Namespace) (*DeletionConfirmation, error) {
	n, err := e.store.DeleteNamespace(ctx, ns)
	if err != nil {
		return nil, err
	}
	return &DeletionConfirmation{
		Namespace:     ns,
		ChunksDeleted: n,
		DeletedAt:     time.Now().UTC(),
	}, nil
}

// RunRetention triggers one retention sweep immediately.
func (e *Engine) RunRetention(ctx context.Context) (store.RetentionStats, error) {
	return e.store.ApplyRetention(ctx, time.Now().UTC())
}

// refreshProfile blends chunks created at or after since into the
// namespace profile.
func (e *Engine) refreshProfile(ctx context.Context, ns model.Namespace, since time.Time) error {
	all, err := e.store.ListNamespace(ctx, ns)
	if err != nil {
		return err
	}
	var fresh []model.MemoryChunk
	for _, c := range all {
		if !c.CreatedAt.Before(since) {
			fresh = append(fresh, c)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	p, err := e.store.GetProfile(ctx, ns)
	if errors.Is(err, model.ErrNotFound) {
		p = model.NewProfile(ns)
	} else if err != nil {
		return err
	}

	diversity, err := e.typeDiversity(ctx, ns)
	if err != nil {
		return err
	}
	e.personas.Update(p, fresh, nil, diversity)
	return e.store.SaveProfile(ctx, p)
}

func (e *Engine) typeDiversity(ctx context.Context, ns model.Namespace) (int, error) {
	stats, err := e.store.Stats(ctx, ns)
	if err != nil {
		return 0, err
	}
	return len(stats.ByMemoryType), nil
}

// sweep is the scheduled retention pass: expire short_term chunks,
// purge tombstones, and drop old terminal upload sessions.
func (e *Engine) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if _, err := e.store.ApplyRetention(ctx, time.Now().UTC()); err != nil {
		log.Error().Err(err).Msg("retention sweep failed")
	}
	if e.cfg.Ingest.SessionRetention > 0 {
		cutoff := time.Now().UTC().Add(-e.cfg.Ingest.SessionRetention)
		if n, err := e.store.DeleteSessionsBefore(ctx, cutoff); err != nil {
			log.Error().Err(err).Msg("session GC failed")
		} else if n > 0 {
			log.Info().Int("sessions", n).Msg("expired upload sessions removed")
		}
	}
}
