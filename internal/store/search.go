package store

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/companionkit/memoryengine/internal/model"
)

// DefaultSearchK is the candidate pool size when the caller passes no K.
const DefaultSearchK = 20

// Search runs hybrid retrieval: dense cosine similarity from the chromem
// collection blended with FTS5 keyword relevance, both scoped to one
// namespace. Every returned row is re-verified against the requested
// namespace; a mismatch fails the whole request.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	if p.Namespace.IsZero() {
		return nil, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	k := p.K
	if k <= 0 {
		k = DefaultSearchK
	}

	type scored struct {
		dense  float64
		sparse float64
	}
	candidates := map[string]*scored{}

	if len(p.QueryEmbedding) > 0 {
		hits, err := s.dense.query(ctx, p.Namespace, p.QueryEmbedding, k)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			sim := h.Similarity
			if sim < 0 {
				sim = 0
			}
			candidates[h.ID] = &scored{dense: sim}
		}
	}

	if strings.TrimSpace(p.Query) != "" {
		sparse, err := s.sparseSearch(ctx, p.Namespace, p.Query, k)
		if err != nil {
			return nil, err
		}
		for id, score := range sparse {
			if c, ok := candidates[id]; ok {
				c.sparse = score
			} else {
				candidates[id] = &scored{sparse: score}
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	chunks, err := s.loadChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	typeFilter := map[model.MemoryType]bool{}
	for _, t := range p.MemoryTypes {
		typeFilter[t] = true
	}

	results := make([]SearchResult, 0, len(chunks))
	for _, c := range chunks {
		// Namespace check on every row. A violation is fatal for the
		// request and audited, never silently dropped.
		if c.Namespace != p.Namespace {
			violation := &model.SecurityInvariantViolation{
				Requested: p.Namespace,
				Got:       c.Namespace,
				ChunkID:   c.ID,
			}
			log.Error().
				Str("requested", p.Namespace.Key()).
				Str("got", c.Namespace.Key()).
				Str("chunk_id", c.ID).
				Msg("namespace isolation violated in search result")
			return nil, violation
		}
		if len(typeFilter) > 0 && !typeFilter[c.MemoryType] {
			continue
		}
		sc := candidates[c.ID]
		results = append(results, SearchResult{
			Chunk:  *c,
			Dense:  sc.dense,
			Sparse: sc.sparse,
			Score:  s.opts.DenseWeight*sc.dense + s.opts.SparseWeight*sc.sparse,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.CreatedAt.After(results[j].Chunk.CreatedAt)
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// sparseSearch returns FTS5 matches with bm25 relevance normalized into
// [0,1).
func (s *SQLiteStore) sparseSearch(ctx context.Context, ns model.Namespace, query string, k int) (map[string]float64, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	scores := map[string]float64{}
	err := s.withReadRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT c.id, bm25(chunks_fts) AS rank
			FROM chunks_fts
			JOIN chunks c ON c.rowid = chunks_fts.rowid
			WHERE chunks_fts MATCH ?
			  AND c.owner_id = ? AND c.companion_id = ?
			  AND c.tombstoned_at IS NULL
			ORDER BY rank
			LIMIT ?`,
			match, ns.OwnerID, ns.CompanionID, k)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(scores)
		for rows.Next() {
			var id string
			var rank float64
			if err := rows.Scan(&id, &rank); err != nil {
				return err
			}
			// fts5 bm25 is negative, lower is better.
			raw := -rank
			if raw < 0 {
				raw = 0
			}
			scores[id] = raw / (raw + 1)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// ftsQuery turns free text into an OR-of-terms FTS5 match expression,
// quoting each term so user punctuation cannot break the query syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

func (s *SQLiteStore) loadChunks(ctx context.Context, ids []string) ([]*model.MemoryChunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var chunks []*model.MemoryChunk
	err := s.withReadRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+chunkColumns+`
			FROM chunks
			WHERE id IN (`+placeholders+`) AND tombstoned_at IS NULL`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		chunks = chunks[:0]
		for rows.Next() {
			c, err := scanChunk(rows)
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
