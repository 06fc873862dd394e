package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/companionkit/memoryengine/internal/model"
)

// Stats summarizes one namespace's live chunks.
func (s *SQLiteStore) Stats(ctx context.Context, ns model.Namespace) (*NamespaceStats, error) {
	if ns.IsZero() {
		return nil, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}

	stats := &NamespaceStats{
		Namespace:        ns,
		ByMemoryType:     map[model.MemoryType]int{},
		BySourceType:     map[model.SourceType]int{},
		ByRetentionClass: map[model.RetentionClass]int{},
	}

	err := s.withReadRetry(ctx, func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT memory_type, source_type, retention_class, created_at
			FROM chunks
			WHERE owner_id = ? AND companion_id = ? AND tombstoned_at IS NULL`,
			ns.OwnerID, ns.CompanionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		*stats = NamespaceStats{
			Namespace:        ns,
			ByMemoryType:     map[model.MemoryType]int{},
			BySourceType:     map[model.SourceType]int{},
			ByRetentionClass: map[model.RetentionClass]int{},
		}
		for rows.Next() {
			var memType, srcType, retClass, createdAt string
			if err := rows.Scan(&memType, &srcType, &retClass, &createdAt); err != nil {
				return err
			}
			stats.TotalChunks++
			stats.ByMemoryType[model.MemoryType(memType)]++
			stats.BySourceType[model.SourceType(srcType)]++
			stats.ByRetentionClass[model.RetentionClass(retClass)]++

			t, err := time.Parse(time.RFC3339Nano, createdAt)
			if err != nil {
				continue
			}
			if stats.OldestChunk == nil || t.Before(*stats.OldestChunk) {
				oldest := t
				stats.OldestChunk = &oldest
			}
			if stats.NewestChunk == nil || t.After(*stats.NewestChunk) {
				newest := t
				stats.NewestChunk = &newest
			}
		}
		return rows.Err()
	})
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return stats, nil
}
