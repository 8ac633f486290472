package assist

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/insight"
)

func qualityConfig() QualityConfig {
	return QualityConfig{Threshold: 0.80, RewriteTimeout: time.Second}
}

func TestScoreActionItem(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantScore  float64
		wantIssues []string
	}{
		{
			name:       "missing owner and deadline",
			content:    "Someone should fix this soon",
			wantScore:  0.4,
			wantIssues: []string{"missing_owner", "missing_deadline"},
		},
		{
			name:      "complete item",
			content:   "Ben will update the rollout doc by Friday",
			wantScore: 1.0,
		},
		{
			name:       "vague verb only",
			content:    "Priya will look into the flaky deploy pipeline by Thursday",
			wantScore:  0.85,
			wantIssues: []string{"vague_verb"},
		},
		{
			name:       "missing deadline only",
			content:    "Ana will rewrite the ingestion retry logic",
			wantScore:  0.7,
			wantIssues: []string{"missing_deadline"},
		},
		{
			name:       "short and ownerless",
			content:    "Handle deploys tomorrow",
			wantScore:  0.5,
			wantIssues: []string{"missing_owner", "vague_verb", "too_short"},
		},
		{
			name:       "every check fails",
			content:    "Sort out stuff",
			wantScore:  0.2,
			wantIssues: []string{"missing_owner", "missing_deadline", "vague_verb", "too_short"},
		},
		{
			name:      "first person commitment counts as owner",
			content:   "I'll ship the migration script by end of week",
			wantScore: 1.0,
		},
		{
			name:       "sentence-initial name without commitment verb is not an owner",
			content:    "Friday looked like a reasonable target for everybody there",
			wantScore:  0.7, // "friday" satisfies the deadline check
			wantIssues: []string{"missing_owner"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, issues := ScoreActionItem(tt.content)
			if math.Abs(score-tt.wantScore) > 1e-9 {
				t.Errorf("score = %f, want %f (issues %+v)", score, tt.wantScore, issues)
			}
			if len(issues) != len(tt.wantIssues) {
				t.Fatalf("got %d issues %+v, want kinds %v", len(issues), issues, tt.wantIssues)
			}
			for i, want := range tt.wantIssues {
				if issues[i].Kind != want {
					t.Errorf("issue[%d] = %s, want %s", i, issues[i].Kind, want)
				}
			}
		})
	}
}

func TestQuality_CompleteItemProducesNothing(t *testing.T) {
	llm := &fakeLLM{}
	d := NewQualityDetector(llm, qualityConfig(), discardLogger())
	sess := testSession(t)

	items, err := d.Detect(context.Background(), sess, insight.Insight{
		ID: "s1:0:0", Kind: insight.KindActionItem,
		Content: "Ben will update the rollout doc by Friday",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("complete action item must not be flagged, got %+v", items)
	}
	if llm.callCount() != 0 {
		t.Errorf("above-threshold items must not trigger a rewrite, got %d calls", llm.callCount())
	}
}

func TestQuality_IncompleteItemGetsRewrite(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"improved": "Priya will fix the login redirect bug by Friday"}`}}
	d := NewQualityDetector(llm, qualityConfig(), discardLogger())
	sess := testSession(t)

	items, err := d.Detect(context.Background(), sess, insight.Insight{
		ID: "s1:0:0", Kind: insight.KindActionItem,
		Content: "Someone should fix this soon",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if item.Type != TypeIncompleteAction {
		t.Errorf("expected incomplete_action_item, got %s", item.Type)
	}
	if math.Abs(item.CompletenessScore-0.4) > 1e-9 {
		t.Errorf("completeness score = %f, want 0.4", item.CompletenessScore)
	}
	if item.ImprovedVersion != "Priya will fix the login redirect bug by Friday" {
		t.Errorf("unexpected rewrite: %q", item.ImprovedVersion)
	}
	// Two critical issues: 0.7 + 2*0.1.
	if math.Abs(item.Confidence-0.9) > 1e-9 {
		t.Errorf("confidence = %f, want 0.9", item.Confidence)
	}
}

func TestQuality_RewriteFailureStillFlags(t *testing.T) {
	llm := &fakeLLM{err: errors.New("model down")}
	d := NewQualityDetector(llm, qualityConfig(), discardLogger())
	sess := testSession(t)

	items, err := d.Detect(context.Background(), sess, insight.Insight{
		ID: "s1:0:0", Kind: insight.KindActionItem,
		Content: "Someone should fix this soon",
	})
	if err != nil {
		t.Fatalf("rewrite failure must not surface: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ImprovedVersion != "" {
		t.Errorf("expected empty improved version on rewrite failure, got %q", items[0].ImprovedVersion)
	}
}
