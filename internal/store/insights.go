package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sibyl/internal/dedup"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
)

// WriteInsights persists surviving insights append-only. These rows are what
// later sessions' decision-history and open-item searches read.
func (s *Store) WriteInsights(ctx context.Context, orgID, projectID string, items []insight.Insight) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, it := range items {
		var vec any
		if len(it.Fingerprint) > 0 {
			vec = pgVector(it.Fingerprint)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO insights (id, session_id, organization_id, project_id, chunk_index, kind, content, speaker, topic, confidence, embedding, resolved, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::vector, false, $12)
			ON CONFLICT (id) DO NOTHING`,
			it.ID, it.SessionID, orgID, projectID, it.ChunkIndex, string(it.Kind),
			it.Content, it.Speaker, it.Topic, it.Confidence, vec, it.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert insight %s: %w", it.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// WriteUpdates records dedup update annotations against their originals.
func (s *Store) WriteUpdates(ctx context.Context, updates []dedup.Update) error {
	if len(updates) == 0 {
		return nil
	}

	for _, up := range updates {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO insight_updates (id, original_id, duplicate_id, content, similarity, strategy, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())`,
			uuid.New(), up.OriginalID, up.DuplicateID, up.Content, up.Similarity, up.Strategy,
		)
		if err != nil {
			return fmt.Errorf("insert update for %s: %w", up.OriginalID, err)
		}
	}
	return nil
}

// MarkResolved flags an open item (question or action item) as resolved, so
// it stops surfacing in open-item searches.
func (s *Store) MarkResolved(ctx context.Context, insightID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE insights SET resolved = true WHERE id = $1`, insightID)
	if err != nil {
		return fmt.Errorf("mark resolved %s: %w", insightID, err)
	}
	return nil
}
