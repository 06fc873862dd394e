// Package ingest runs the write path: normalize uploaded artifacts,
// chunk them, embed the chunks, and store them under an upload session
// that records per-file outcomes.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/companionkit/memoryengine/internal/chunker"
	"github.com/companionkit/memoryengine/internal/config"
	"github.com/companionkit/memoryengine/internal/embed"
	"github.com/companionkit/memoryengine/internal/model"
	"github.com/companionkit/memoryengine/internal/normalize"
	"github.com/companionkit/memoryengine/internal/store"
)

// ChunkWriter is the store surface the pipeline writes through.
type ChunkWriter interface {
	Write(ctx context.Context, p store.WriteParams) (*model.MemoryChunk, error)
}

// SessionStore persists upload-session progress.
type SessionStore interface {
	SaveSession(ctx context.Context, sess *model.UploadSession) error
	GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error)
}

// Artifact is one uploaded file.
type Artifact struct {
	FileRef  string
	Data     []byte
	Declared model.SourceType
}

// Pipeline is the ingestion service.
type Pipeline struct {
	normalizer *normalize.Normalizer
	embedder   embed.Embedder
	writer     ChunkWriter
	sessions   SessionStore
	chunkOpts  chunker.Options
	cfg        config.IngestConfig
}

// New assembles an ingestion pipeline.
func New(normalizer *normalize.Normalizer, embedder embed.Embedder, writer ChunkWriter, sessions SessionStore, chunkOpts chunker.Options, cfg config.IngestConfig) *Pipeline {
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = 4
	}
	return &Pipeline{
		normalizer: normalizer,
		embedder:   embedder,
		writer:     writer,
		sessions:   sessions,
		chunkOpts:  chunkOpts,
		cfg:        cfg,
	}
}

// Run ingests a batch of artifacts for one namespace. A failing file is
// recorded and does not abort its siblings; cancellation marks the
// session cancelled and keeps chunks already written. The idempotency
// token scopes chunk tokens so a retried batch never duplicates chunks.
func (p *Pipeline) Run(ctx context.Context, ns model.Namespace, artifacts []Artifact, idempotencyToken string) (*model.UploadSession, error) {
	if ns.IsZero() {
		return nil, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	if len(artifacts) == 0 {
		return nil, &model.ValidationError{Field: "artifacts", Reason: "at least one artifact is required"}
	}

	sess := &model.UploadSession{
		SessionID: uuid.New().String(),
		Namespace: ns,
		Status:    model.SessionProcessing,
		StartedAt: time.Now().UTC(),
	}
	for _, a := range artifacts {
		sess.Files = append(sess.Files, model.FileRecord{
			FileRef:    a.FileRef,
			SourceType: a.Declared,
			SizeBytes:  len(a.Data),
			Status:     model.FilePending,
		})
	}
	if err := p.sessions.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	for i, a := range artifacts {
		if ctx.Err() != nil {
			return p.finish(sess, model.SessionCancelled)
		}

		sess.Files[i].Status = model.FileProcessing
		p.saveProgress(ctx, sess)

		created, err := p.ingestFile(ctx, ns, a, idempotencyToken)
		if err != nil {
			if ctx.Err() != nil {
				sess.Files[i].Status = model.FileFailed
				sess.Files[i].Error = "cancelled"
				sess.Files[i].ChunksCreated = created
				sess.TotalChunksCreated += created
				return p.finish(sess, model.SessionCancelled)
			}
			log.Warn().Err(err).Str("file", a.FileRef).Str("namespace", ns.Key()).Msg("file ingestion failed")
			sess.Files[i].Status = model.FileFailed
			sess.Files[i].Error = err.Error()
			sess.Files[i].ChunksCreated = created
			sess.TotalChunksCreated += created
			p.saveProgress(ctx, sess)
			continue
		}
		sess.Files[i].Status = model.FileCompleted
		sess.Files[i].ChunksCreated = created
		sess.TotalChunksCreated += created
		p.saveProgress(ctx, sess)
	}

	status := model.SessionCompleted
	if allFailed(sess.Files) {
		status = model.SessionFailed
	}
	return p.finish(sess, status)
}

// ingestFile runs one artifact through normalize, chunk, embed, write.
// Returns how many chunks were stored even when it errors midway.
func (p *Pipeline) ingestFile(ctx context.Context, ns model.Namespace, a Artifact, idempotencyToken string) (int, error) {
	normalized, err := p.normalizer.Normalize(ctx, a.Data, a.Declared)
	if err != nil {
		return 0, err
	}

	candidates := chunker.Chunk(normalized.Text, p.chunkOpts)
	if len(candidates) == 0 {
		return 0, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	vectors, err := embed.EmbedBatch(ctx, p.embedder, texts, p.cfg.EmbedConcurrency)
	if err != nil {
		return 0, err
	}

	written := 0
	for i, cand := range candidates {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}

		memType := classifyMemoryType(cand.Text, normalized.SourceType)
		chunk := model.MemoryChunk{
			Namespace:      ns,
			Content:        cand.Text,
			Embedding:      vectors[i],
			MemoryType:     memType,
			SourceType:     normalized.SourceType,
			RetentionClass: classifyRetention(memType, normalized.SourceType),
			PrivacyLevel:   model.PrivacyPrivate,
			Keywords:       extractKeywords(cand.Text, 8),
			Sequence:       cand.Sequence,
			SourceRef:      a.FileRef,
		}
		_, err := p.writer.Write(ctx, store.WriteParams{
			Chunk:            chunk,
			IdempotencyToken: chunkToken(idempotencyToken, a.FileRef, cand.Sequence),
		})
		if err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// saveProgress persists an intermediate session state. Failures are
// logged, not fatal: the terminal save in finish is the one that must
// land, and a session stuck in processing needs to be diagnosable.
func (p *Pipeline) saveProgress(ctx context.Context, sess *model.UploadSession) {
	if err := p.sessions.SaveSession(ctx, sess); err != nil {
		log.Warn().Err(err).Str("session", sess.SessionID).Msg("session progress save failed")
	}
}

func (p *Pipeline) finish(sess *model.UploadSession, status model.SessionStatus) (*model.UploadSession, error) {
	sess.Status = status
	done := time.Now().UTC()
	sess.CompletedAt = &done

	// Persist the terminal state with a fresh context so cancellation
	// does not lose the record.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.sessions.SaveSession(saveCtx, sess); err != nil {
		return sess, err
	}

	sum := sess.Summarize()
	log.Info().
		Str("session", sess.SessionID).
		Str("namespace", sess.Namespace.Key()).
		Str("status", string(status)).
		Int("files", sum.TotalFiles).
		Int("failed", sum.FailedFiles).
		Int("chunks", sum.TotalChunks).
		Msg("upload session finished")
	return sess, nil
}

func allFailed(files []model.FileRecord) bool {
	for _, f := range files {
		if f.Status != model.FileFailed {
			return false
		}
	}
	return len(files) > 0
}

// chunkToken derives a stable per-chunk idempotency token, so retrying
// a batch with the same token resolves to the already-written chunks.
func chunkToken(batchToken, fileRef string, seq int) string {
	if batchToken == "" {
		return ""
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d", batchToken, fileRef, seq)
	return hex.EncodeToString(h.Sum(nil))
}
