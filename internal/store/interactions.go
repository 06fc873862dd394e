package store

import (
	"context"
	"time"

	"github.com/companionkit/memoryengine/internal/model"
)

// SaveInteractions appends conversational exchanges to the namespace's
// interaction log. The log is part of the profile's source of truth:
// a profile rebuild replays it alongside the chunk set.
func (s *SQLiteStore) SaveInteractions(ctx context.Context, ns model.Namespace, interactions []model.Interaction) error {
	if ns.IsZero() {
		return &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	for _, in := range interactions {
		occurred := in.OccurredAt
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO interactions (owner_id, companion_id, user_message, occurred_at)
			VALUES (?, ?, ?, ?)`,
			ns.OwnerID, ns.CompanionID, in.UserMessage, occurred.Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return nil
}

// ListInteractions returns the namespace's interaction log in
// chronological order.
func (s *SQLiteStore) ListInteractions(ctx context.Context, ns model.Namespace) ([]model.Interaction, error) {
	var out []model.Interaction
	err := s.withReadRetry(ctx, func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, `
			SELECT user_message, occurred_at
			FROM interactions
			WHERE owner_id = ? AND companion_id = ?
			ORDER BY occurred_at`,
			ns.OwnerID, ns.CompanionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var in model.Interaction
			var occurred string
			if err := rows.Scan(&in.UserMessage, &occurred); err != nil {
				return err
			}
			in.OccurredAt, err = time.Parse(time.RFC3339Nano, occurred)
			if err != nil {
				return err
			}
			out = append(out, in)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
