//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/sibyl/internal/dedup"
	"github.com/MikeSquared-Agency/sibyl/internal/embed"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/search"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}
	embedURL := os.Getenv("EMBED_URL")
	if embedURL == "" {
		t.Skip("EMBED_URL not set, skipping integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL, embed.NewClient(embedURL))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_WriteSearchResolve(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	sessionID := "integration-" + uuid.New().String()[:8]

	items := []insight.Insight{
		{
			ID:          insight.NewID(sessionID, 0, 0),
			SessionID:   sessionID,
			ChunkIndex:  0,
			Kind:        insight.KindDecision,
			Content:     "We will keep the March launch date",
			Speaker:     "ana",
			Topic:       "launch",
			Confidence:  0.9,
			Fingerprint: []float64{0.1, 0.2, 0.3},
			CreatedAt:   time.Now().UTC(),
		},
		{
			ID:         insight.NewID(sessionID, 0, 1),
			SessionID:  sessionID,
			ChunkIndex: 0,
			Kind:       insight.KindQuestion,
			Content:    "Who owns the launch comms?",
			Speaker:    "ben",
			Confidence: 0.8,
			CreatedAt:  time.Now().UTC(),
		},
	}
	if err := s.WriteInsights(ctx, "org-test", "proj-test", items); err != nil {
		t.Fatalf("WriteInsights failed: %v", err)
	}

	// Idempotent on replay.
	if err := s.WriteInsights(ctx, "org-test", "proj-test", items); err != nil {
		t.Fatalf("WriteInsights replay failed: %v", err)
	}

	matches, err := s.Search(ctx, "launch date decision", search.Scope{
		OrganizationID: "org-test",
		ProjectID:      "proj-test",
		Corpus:         search.CorpusDecisions,
	}, 5)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	found := false
	for _, m := range matches {
		if m.ID == items[0].ID {
			found = true
		}
	}
	if !found {
		t.Errorf("expected the written decision among matches, got %+v", matches)
	}

	if err := s.WriteUpdates(ctx, []dedup.Update{{
		OriginalID:  items[0].ID,
		DuplicateID: insight.NewID(sessionID, 1, 0),
		Content:     "We will keep the March launch date as discussed",
		Similarity:  0.93,
		Strategy:    "annotate",
	}}); err != nil {
		t.Fatalf("WriteUpdates failed: %v", err)
	}

	if err := s.MarkResolved(ctx, items[1].ID); err != nil {
		t.Fatalf("MarkResolved failed: %v", err)
	}

	open, err := s.Search(ctx, "launch comms owner", search.Scope{
		OrganizationID: "org-test",
		ProjectID:      "proj-test",
		Corpus:         search.CorpusOpenItems,
	}, 5)
	if err != nil {
		t.Fatalf("open-item search failed: %v", err)
	}
	for _, m := range open {
		if m.ID == items[1].ID {
			t.Errorf("resolved question still surfaces in open items")
		}
	}
}
