package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/companionkit/memoryengine/internal/model"
)

// SaveProfile upserts a namespace's personalization profile.
func (s *SQLiteStore) SaveProfile(ctx context.Context, p *model.PersonalizationProfile) error {
	if p.Namespace.IsZero() {
		return &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}
	traits, _ := json.Marshal(p.PersonalityTraits)
	style, _ := json.Marshal(p.CommunicationStyle)
	emotional, _ := json.Marshal(p.EmotionalPatterns)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (owner_id, companion_id, stage, traits, style, emotional,
			persona_prompt, adapter_reference, level, confidence,
			memory_count, interaction_count, vocab_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, companion_id) DO UPDATE SET
			stage = excluded.stage,
			traits = excluded.traits,
			style = excluded.style,
			emotional = excluded.emotional,
			persona_prompt = excluded.persona_prompt,
			adapter_reference = excluded.adapter_reference,
			level = excluded.level,
			confidence = excluded.confidence,
			memory_count = excluded.memory_count,
			interaction_count = excluded.interaction_count,
			vocab_version = excluded.vocab_version,
			updated_at = excluded.updated_at`,
		p.Namespace.OwnerID, p.Namespace.CompanionID, string(p.Stage),
		string(traits), string(style), string(emotional),
		p.PersonaPrompt, p.AdapterReference, string(p.Level), p.Confidence,
		p.MemoryCount, p.InteractionCount, p.VocabularyVersion,
		p.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// GetProfile loads a namespace's profile, or ErrNotFound.
func (s *SQLiteStore) GetProfile(ctx context.Context, ns model.Namespace) (*model.PersonalizationProfile, error) {
	if ns.IsZero() {
		return nil, &model.ValidationError{Field: "namespace", Reason: "owner_id and companion_id are required"}
	}

	var p *model.PersonalizationProfile
	err := s.withReadRetry(ctx, func() error {
		row := s.db.QueryRowContext(ctx, `
			SELECT stage, traits, style, emotional, persona_prompt, adapter_reference,
				level, confidence, memory_count, interaction_count, vocab_version, updated_at
			FROM profiles WHERE owner_id = ? AND companion_id = ?`,
			ns.OwnerID, ns.CompanionID)

		got := model.NewProfile(ns)
		var stage, traits, style, emotional, level, updatedAt string
		err := row.Scan(&stage, &traits, &style, &emotional, &got.PersonaPrompt, &got.AdapterReference,
			&level, &got.Confidence, &got.MemoryCount, &got.InteractionCount, &got.VocabularyVersion, &updatedAt)
		if err == sql.ErrNoRows {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}

		got.Stage = model.ProfileStage(stage)
		got.Level = model.PersonalizationLevel(level)
		if err := json.Unmarshal([]byte(traits), &got.PersonalityTraits); err != nil {
			return fmt.Errorf("unmarshal traits: %w", err)
		}
		if err := json.Unmarshal([]byte(style), &got.CommunicationStyle); err != nil {
			return fmt.Errorf("unmarshal style: %w", err)
		}
		if err := json.Unmarshal([]byte(emotional), &got.EmotionalPatterns); err != nil {
			return fmt.Errorf("unmarshal emotional patterns: %w", err)
		}
		got.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return fmt.Errorf("parse updated_at: %w", err)
		}
		p = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
