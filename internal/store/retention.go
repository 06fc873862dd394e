package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/companionkit/memoryengine/internal/model"
)

// ApplyRetention hard-deletes short_term chunks past their TTL and
// purges any tombstoned rows left behind by namespace deletions.
// mid_term and long_term chunks are never touched. Pinned chunks are
// skipped until their export completes.
func (s *SQLiteStore) ApplyRetention(ctx context.Context, now time.Time) (RetentionStats, error) {
	var stats RetentionStats
	cutoff := now.Add(-s.opts.ShortTermTTL).UTC().Format(time.RFC3339Nano)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, companion_id FROM chunks
		WHERE retention_class = ? AND created_at < ?
		  AND pinned_at IS NULL AND tombstoned_at IS NULL`,
		string(model.RetentionShortTerm), cutoff)
	if err != nil {
		return stats, err
	}
	type victim struct {
		id string
		ns model.Namespace
	}
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.ns.OwnerID, &v.ns.CompanionID); err != nil {
			rows.Close()
			return stats, err
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	byNS := map[model.Namespace][]string{}
	for _, v := range victims {
		byNS[v.ns] = append(byNS[v.ns], v.id)
	}
	for ns, ids := range byNS {
		lock := s.nsLock(ns)
		lock.Lock()
		err := func() error {
			args := make([]any, len(ids))
			placeholders := ""
			for i, id := range ids {
				args[i] = id
				if i > 0 {
					placeholders += ","
				}
				placeholders += "?"
			}
			res, err := s.db.ExecContext(ctx, `
				DELETE FROM chunks WHERE id IN (`+placeholders+`) AND pinned_at IS NULL`, args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			stats.Expired += int(n)
			return s.dense.remove(ctx, ns, ids...)
		}()
		lock.Unlock()
		if err != nil {
			return stats, err
		}
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE tombstoned_at IS NOT NULL`)
	if err != nil {
		return stats, err
	}
	purged, _ := res.RowsAffected()
	stats.Purged = int(purged)

	if stats.Expired > 0 || stats.Purged > 0 {
		log.Info().Int("expired", stats.Expired).Int("purged", stats.Purged).Msg("retention sweep")
	}
	return stats, nil
}

// PinForExport protects every live chunk in the namespace from deletion
// and retention until Unpin. Returns the number of chunks pinned.
func (s *SQLiteStore) PinForExport(ctx context.Context, ns model.Namespace) (int, error) {
	if ns.IsZero() {
		return 0, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET pinned_at = ?
		WHERE owner_id = ? AND companion_id = ? AND tombstoned_at IS NULL`,
		now, ns.OwnerID, ns.CompanionID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Unpin releases an export pin.
func (s *SQLiteStore) Unpin(ctx context.Context, ns model.Namespace) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET pinned_at = NULL
		WHERE owner_id = ? AND companion_id = ?`,
		ns.OwnerID, ns.CompanionID)
	return err
}
