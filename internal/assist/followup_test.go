package assist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/search"
)

func followUpConfig() FollowUpConfig {
	return FollowUpConfig{Relevance: 0.70, Floor: 0.60, MaxResults: 3, JudgeTimeout: time.Second}
}

func followUpMatches() map[search.Corpus][]search.Match {
	return map[search.Corpus][]search.Match{
		search.CorpusOpenItems: {
			{ID: "open-1", Text: "Auth migration still blocked on SSO vendor", Score: 0.82, Date: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)},
			{ID: "open-2", Text: "Retro notes from January", Score: 0.40},
		},
		search.CorpusDecisions: {
			{ID: "dec-9", Text: "We agreed auth work ships before billing", Score: 0.78, Date: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func TestFollowUp_SuggestsRelatedWork(t *testing.T) {
	srch := &fakeSearcher{matches: followUpMatches()}
	// Candidate list after the relevance filter: [open-1, dec-9].
	llm := &fakeLLM{responses: []string{`{"suggestions": [
		{"index": 0, "reason": "The SSO blocker gates this decision", "urgency": "high"},
		{"index": 1, "reason": "Sequencing decision still applies", "urgency": "medium"}
	], "confidence": 0.8}`}}
	d := NewFollowUpDetector(srch, llm, followUpConfig(), discardLogger())

	items, err := d.Detect(context.Background(), testSession(t), insight.Insight{
		ID: "s1:2:0", Kind: insight.KindDecision,
		Content: "We'll start the billing revamp next sprint",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if item.Type != TypeFollowUp {
		t.Errorf("expected follow_up_suggestion, got %s", item.Type)
	}
	if len(item.Suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(item.Suggestions))
	}
	if item.Suggestions[0].SourceID != "open-1" || item.Suggestions[0].Urgency != "high" {
		t.Errorf("unexpected first suggestion: %+v", item.Suggestions[0])
	}
	if item.Suggestions[1].SourceID != "dec-9" {
		t.Errorf("expected dec-9 second, got %+v", item.Suggestions[1])
	}

	// Both corpora must have been searched.
	srch.mu.Lock()
	corpora := map[search.Corpus]bool{}
	for _, q := range srch.queries {
		corpora[q.Corpus] = true
	}
	srch.mu.Unlock()
	if !corpora[search.CorpusOpenItems] || !corpora[search.CorpusDecisions] {
		t.Errorf("expected searches over open items and decisions, got %v", corpora)
	}
}

func TestFollowUp_MaxResultsCapped(t *testing.T) {
	srch := &fakeSearcher{matches: map[search.Corpus][]search.Match{
		search.CorpusOpenItems: {
			{ID: "a", Text: "a", Score: 0.9}, {ID: "b", Text: "b", Score: 0.9},
			{ID: "c", Text: "c", Score: 0.9}, {ID: "d", Text: "d", Score: 0.9},
		},
	}}
	llm := &fakeLLM{responses: []string{`{"suggestions": [
		{"index": 0, "urgency": "high"}, {"index": 1, "urgency": "high"},
		{"index": 2, "urgency": "low"}, {"index": 3, "urgency": "low"}
	], "confidence": 0.9}`}}
	d := NewFollowUpDetector(srch, llm, followUpConfig(), discardLogger())

	items, err := d.Detect(context.Background(), testSession(t), insight.Insight{
		ID: "s1:2:0", Kind: insight.KindKeyPoint, Content: "statement",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || len(items[0].Suggestions) != 3 {
		t.Fatalf("expected suggestions capped at 3, got %+v", items)
	}
}

func TestFollowUp_EmptyRankingOrLowConfidence(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"model declines", `{"suggestions": [], "confidence": 0.9}`},
		{"below floor", `{"suggestions": [{"index": 0, "urgency": "high"}], "confidence": 0.3}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srch := &fakeSearcher{matches: followUpMatches()}
			llm := &fakeLLM{responses: []string{tt.response}}
			d := NewFollowUpDetector(srch, llm, followUpConfig(), discardLogger())

			items, err := d.Detect(context.Background(), testSession(t), insight.Insight{
				ID: "s1:2:0", Kind: insight.KindDecision, Content: "statement",
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(items) != 0 {
				t.Errorf("expected no suggestions, got %+v", items)
			}
		})
	}
}

func TestFollowUp_SearchFailurePropagates(t *testing.T) {
	srch := &fakeSearcher{err: errors.New("vector store down")}
	d := NewFollowUpDetector(srch, &fakeLLM{}, followUpConfig(), discardLogger())

	_, err := d.Detect(context.Background(), testSession(t), insight.Insight{
		ID: "s1:2:0", Kind: insight.KindDecision, Content: "statement",
	})
	if err == nil {
		t.Fatal("expected the search failure to surface to the router")
	}
}

func TestFollowUp_Wants(t *testing.T) {
	d := NewFollowUpDetector(&fakeSearcher{}, &fakeLLM{}, followUpConfig(), discardLogger())
	if !d.Wants(insight.KindDecision) || !d.Wants(insight.KindKeyPoint) {
		t.Error("follow-up must cover decisions and key points")
	}
	if d.Wants(insight.KindActionItem) {
		t.Error("follow-up must not cover action items")
	}
}
