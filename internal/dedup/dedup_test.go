package dedup

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/MikeSquared-Agency/sibyl/internal/insight"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mk(id string, kind insight.Kind, content string, fp []float64) insight.Insight {
	return insight.Insight{ID: id, SessionID: "s1", Kind: kind, Content: content, Fingerprint: fp}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1.0},
		{"scaled", []float64{1, 1}, []float64{3, 3}, 1.0},
		{"length mismatch", []float64{1, 2}, []float64{1, 2, 3}, 0.0},
		{"empty", nil, nil, 0.0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFilter_FreshWhenBelowThreshold(t *testing.T) {
	d := New(0.85, MergeAnnotate, discardLogger())
	history := []insight.Insight{mk("s1:0:0", insight.KindQuestion, "What is the budget?", []float64{1, 0})}
	cands := []insight.Insight{mk("s1:1:0", insight.KindQuestion, "When do we ship?", []float64{0, 1})}

	res := d.Filter(cands, history)
	if len(res.Fresh) != 1 || len(res.Updates) != 0 || res.Dropped != 0 {
		t.Fatalf("expected 1 fresh, got %+v", res)
	}
}

func TestFilter_DropsExactRepeat(t *testing.T) {
	d := New(0.85, MergeAnnotate, discardLogger())
	history := []insight.Insight{mk("s1:0:0", insight.KindQuestion, "What's the Q4 budget?", []float64{1, 0.1})}
	cands := []insight.Insight{mk("s1:1:0", insight.KindQuestion, "what's  the q4 budget?", []float64{1, 0.11})}

	res := d.Filter(cands, history)
	if len(res.Fresh) != 0 {
		t.Fatalf("expected no fresh insights, got %d", len(res.Fresh))
	}
	if res.Dropped != 1 {
		t.Errorf("expected 1 dropped exact repeat, got %d", res.Dropped)
	}
	if len(res.Updates) != 0 {
		t.Errorf("exact repeat must not produce an update, got %+v", res.Updates)
	}
}

func TestFilter_ResolvedDuplicateBecomesUpdate(t *testing.T) {
	d := New(0.85, MergeAnnotate, discardLogger())
	history := []insight.Insight{mk("s1:0:0", insight.KindActionItem, "Someone should fix the login bug", []float64{1, 0.1})}
	cands := []insight.Insight{mk("s1:2:0", insight.KindActionItem, "Ben will fix the login bug by Friday", []float64{1, 0.12})}

	res := d.Filter(cands, history)
	if len(res.Fresh) != 0 {
		t.Fatalf("resolved duplicate must not re-emit, got %d fresh", len(res.Fresh))
	}
	if len(res.Updates) != 1 {
		t.Fatalf("expected 1 update annotation, got %d", len(res.Updates))
	}
	up := res.Updates[0]
	if up.OriginalID != "s1:0:0" || up.DuplicateID != "s1:2:0" {
		t.Errorf("unexpected update ids: %+v", up)
	}
	if up.Content != "Ben will fix the login bug by Friday" {
		t.Errorf("annotate strategy should carry the new wording, got %q", up.Content)
	}
	if up.Similarity < 0.85 {
		t.Errorf("update similarity below threshold: %f", up.Similarity)
	}
}

func TestFilter_MergeStrategies(t *testing.T) {
	history := []insight.Insight{mk("s1:0:0", insight.KindDecision, "Ship Tuesday.", []float64{1, 0})}
	cands := []insight.Insight{mk("s1:1:0", insight.KindDecision, "Ship Tuesday at noon.", []float64{1, 0.01})}

	tests := []struct {
		strategy MergeStrategy
		want     string
	}{
		{MergeAnnotate, "Ship Tuesday at noon."},
		{MergeReplace, "Ship Tuesday at noon."},
		{MergeAppend, "Ship Tuesday. Ship Tuesday at noon."},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			d := New(0.85, tt.strategy, discardLogger())
			res := d.Filter(cands, history)
			if len(res.Updates) != 1 {
				t.Fatalf("expected 1 update, got %+v", res)
			}
			if res.Updates[0].Content != tt.want {
				t.Errorf("strategy %s: got %q, want %q", tt.strategy, res.Updates[0].Content, tt.want)
			}
		})
	}
}

func TestFilter_KindScoped(t *testing.T) {
	// A question and a decision about the same thing are not duplicates.
	d := New(0.85, MergeAnnotate, discardLogger())
	history := []insight.Insight{mk("s1:0:0", insight.KindQuestion, "Should we ship Tuesday?", []float64{1, 0})}
	cands := []insight.Insight{mk("s1:1:0", insight.KindDecision, "We ship Tuesday", []float64{1, 0})}

	res := d.Filter(cands, history)
	if len(res.Fresh) != 1 {
		t.Fatalf("cross-kind match must not dedup, got %+v", res)
	}
}

func TestFilter_WithinBatch(t *testing.T) {
	d := New(0.85, MergeAnnotate, discardLogger())
	cands := []insight.Insight{
		mk("s1:0:0", insight.KindQuestion, "What's the budget?", []float64{1, 0}),
		mk("s1:0:1", insight.KindQuestion, "What's the budget?", []float64{1, 0.01}),
	}

	res := d.Filter(cands, nil)
	if len(res.Fresh) != 1 {
		t.Fatalf("expected within-batch dedup to keep one, got %d", len(res.Fresh))
	}
	if res.Dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", res.Dropped)
	}
}

func TestFilter_NoFingerprintPassesThrough(t *testing.T) {
	d := New(0.85, MergeAnnotate, discardLogger())
	history := []insight.Insight{mk("s1:0:0", insight.KindRisk, "vendor risk", []float64{1, 0})}
	cands := []insight.Insight{mk("s1:1:0", insight.KindRisk, "vendor risk", nil)}

	res := d.Filter(cands, history)
	if len(res.Fresh) != 1 {
		t.Fatalf("fingerprint-less candidate must pass through, got %+v", res)
	}
}
