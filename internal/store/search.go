package store

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/sibyl/internal/search"
)

// Search implements search.Searcher over the pgvector-indexed corpora.
// The score returned is cosine similarity in [0,1] for normalized embeddings.
func (s *Store) Search(ctx context.Context, query string, scope search.Scope, topK int) ([]search.Match, error) {
	if topK <= 0 {
		topK = 5
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec := pgVector(vecs[0])

	switch scope.Corpus {
	case search.CorpusKnowledge:
		return s.searchKnowledge(ctx, vec, scope, topK)
	case search.CorpusDecisions:
		return s.searchInsights(ctx, vec, scope, topK, []string{"decision"}, false)
	case search.CorpusOpenItems:
		return s.searchInsights(ctx, vec, scope, topK, []string{"action_item", "question"}, true)
	default:
		return nil, fmt.Errorf("unknown corpus %q", scope.Corpus)
	}
}

func (s *Store) searchKnowledge(ctx context.Context, vec string, scope search.Scope, topK int) ([]search.Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, content, source, created_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM knowledge_documents
		WHERE organization_id = $2
		  AND ($3 = '' OR project_id = $3)
		ORDER BY embedding <=> $1::vector
		LIMIT $4`,
		vec, scope.OrganizationID, scope.ProjectID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query knowledge documents: %w", err)
	}
	defer rows.Close()

	var matches []search.Match
	for rows.Next() {
		var m search.Match
		if err := rows.Scan(&m.ID, &m.Text, &m.Source, &m.Date, &m.Score); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge rows: %w", err)
	}
	return matches, nil
}

func (s *Store) searchInsights(ctx context.Context, vec string, scope search.Scope, topK int, kinds []string, openOnly bool) ([]search.Match, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, session_id, created_at,
		       1 - (embedding <=> $1::vector) AS score
		FROM insights
		WHERE organization_id = $2
		  AND ($3 = '' OR project_id = $3)
		  AND kind = ANY($4)
		  AND (NOT $5 OR resolved = false)
		  AND embedding IS NOT NULL
		ORDER BY embedding <=> $1::vector
		LIMIT $6`,
		vec, scope.OrganizationID, scope.ProjectID, kinds, openOnly, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var matches []search.Match
	for rows.Next() {
		var m search.Match
		var sessionID string
		if err := rows.Scan(&m.ID, &m.Text, &sessionID, &m.Date, &m.Score); err != nil {
			return nil, fmt.Errorf("scan insight row: %w", err)
		}
		m.Source = "session:" + sessionID
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate insight rows: %w", err)
	}
	return matches, nil
}
