package store

import (
	"context"

	"github.com/companionkit/memoryengine/internal/model"
)

// ListNamespace returns every live chunk in the namespace ordered by
// creation time then source sequence, for export bundles.
func (s *SQLiteStore) ListNamespace(ctx context.Context, ns model.Namespace) ([]model.MemoryChunk, error) {
	if ns.IsZero() {
		return nil, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}

	var chunks []model.MemoryChunk
	err := s.withReadRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT `+chunkColumns+`
			FROM chunks
			WHERE owner_id = ? AND companion_id = ? AND tombstoned_at IS NULL
			ORDER BY created_at, seq`,
			ns.OwnerID, ns.CompanionID)
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
			chunks = append(chunks, *c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
