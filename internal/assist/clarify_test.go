package assist

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

func clarifyConfig() ClarifyConfig {
	return ClarifyConfig{PatternFloor: 0.60, ModelFloor: 0.70, ModelTimeout: time.Second}
}

func actionItem(content string) insight.Insight {
	return insight.Insight{ID: "s1:0:0", SessionID: "s1", Kind: insight.KindActionItem, Content: content}
}

func TestMatchVagueness(t *testing.T) {
	tests := []struct {
		name      string
		statement string
		want      []string
	}{
		{"missing time", "We'll deploy the fix soon", []string{VagueMissingTime}},
		{"missing owner", "Someone should review the PR on Friday", []string{VagueMissingOwner}},
		{"missing detail", "Ben will look into it on Friday", []string{VagueMissingDetail}},
		{"unclear scope", "Ana will migrate everything on Friday", []string{VagueUnclearScope}},
		{"multiple categories", "Someone should sort it out soon", []string{VagueMissingTime, VagueMissingOwner, VagueMissingDetail}},
		{"clean statement", "Ben will update the rollout doc on Friday", nil},
		{"cue inside a word does not fire", "Ana will fetch the metrics on Friday", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchVagueness(tt.statement)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchVagueness(%q) = %v, want %v", tt.statement, got, tt.want)
			}
		})
	}
}

func TestClarify_PatternPath(t *testing.T) {
	// Refinement call fails; canned questions must survive.
	llm := &fakeLLM{err: errors.New("model down")}
	d := NewClarifyDetector(llm, clarifyConfig(), discardLogger())
	sess := testSession(t)

	items, err := d.Detect(context.Background(), sess, actionItem("Someone should fix the login bug soon"))
	if err != nil {
		t.Fatalf("pattern path must not fail on refinement error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if item.Type != TypeClarification {
		t.Errorf("expected clarification_needed, got %s", item.Type)
	}
	if !reflect.DeepEqual(item.VaguenessCategories, []string{VagueMissingTime, VagueMissingOwner}) {
		t.Errorf("unexpected categories: %v", item.VaguenessCategories)
	}
	if len(item.ClarifyingQuestions) < 2 || len(item.ClarifyingQuestions) > 3 {
		t.Errorf("expected 2-3 clarifying questions, got %d", len(item.ClarifyingQuestions))
	}
	if item.Confidence < 0.60 {
		t.Errorf("pattern-path confidence below floor: %f", item.Confidence)
	}
}

func TestClarify_RefinementUsesContext(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"questions": ["Should Priya own the login fix?", "Is end of sprint the deadline?"]}`}}
	d := NewClarifyDetector(llm, clarifyConfig(), discardLogger())
	sess := testSession(t)
	if err := sess.Admit(session.Chunk{SessionID: "s1", Index: 0, Text: "priya knows the login flow best", Speaker: "ben"}); err != nil {
		t.Fatal(err)
	}

	items, err := d.Detect(context.Background(), sess, actionItem("Someone should fix the login bug soon"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ClarifyingQuestions[0] != "Should Priya own the login fix?" {
		t.Errorf("expected refined questions, got %v", items[0].ClarifyingQuestions)
	}
}

func TestClarify_ModelPath(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"vague": true, "categories": ["unclear_scope"], "questions": ["Which services does the migration cover?", "Does it include the legacy cluster?"], "confidence": 0.8}`}}
	d := NewClarifyDetector(llm, clarifyConfig(), discardLogger())
	sess := testSession(t)

	// No lexical cue fires here; the model path must catch it.
	items, err := d.Detect(context.Background(), sess, actionItem("Ben will migrate the platform on Friday"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item via model path, got %d", len(items))
	}
	if items[0].Confidence != 0.8 {
		t.Errorf("expected model confidence 0.8, got %f", items[0].Confidence)
	}
	if items[0].VaguenessCategories[0] != "unclear_scope" {
		t.Errorf("unexpected categories: %v", items[0].VaguenessCategories)
	}
}

func TestClarify_ModelPathBelowFloor(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"vague": true, "categories": ["missing_detail"], "questions": ["?"], "confidence": 0.5}`}}
	d := NewClarifyDetector(llm, clarifyConfig(), discardLogger())
	sess := testSession(t)

	items, err := d.Detect(context.Background(), sess, actionItem("Ben will migrate the platform on Friday"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("sub-floor model verdict must be suppressed, got %+v", items)
	}
}

func TestClarify_ModelPathNotVague(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"vague": false, "confidence": 0.9}`}}
	d := NewClarifyDetector(llm, clarifyConfig(), discardLogger())
	sess := testSession(t)

	items, err := d.Detect(context.Background(), sess, actionItem("Ben will update the rollout doc on Friday"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("clear statement must not produce clarification, got %+v", items)
	}
}

func TestClarify_Wants(t *testing.T) {
	d := NewClarifyDetector(&fakeLLM{}, clarifyConfig(), discardLogger())
	if !d.Wants(insight.KindDecision) || !d.Wants(insight.KindActionItem) {
		t.Error("clarification must cover decisions and action items")
	}
	if d.Wants(insight.KindQuestion) || d.Wants(insight.KindRisk) {
		t.Error("clarification must not cover questions or risks")
	}
}
