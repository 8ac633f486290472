package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/search"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

const conflictJudgeSystem = `You judge whether a new meeting statement genuinely conflicts with a past decision from the same project.
A conflict is a contradiction, reversal, or omission of something the past decision requires — NOT mere topical overlap.
Severity: "high" for a direct reversal of a recent decision, "medium" for a partial contradiction or a reversal of an old decision, "low" for an omission or indirect tension.
Respond with valid JSON:
{"conflict": true|false, "conflicting_index": 0-based index into the candidate list, "severity": "high|medium|low", "reasoning": "string", "resolutions": ["1-3 concrete suggestions"], "confidence": 0.0-1.0}
Be conservative: when in doubt, "conflict": false. Return ONLY the JSON object.`

// ConflictConfig carries the detector's search and acceptance tunables.
type ConflictConfig struct {
	Relevance       float64
	ConfidenceFloor float64
	JudgeTimeout    time.Duration
}

// ConflictDetector checks decisions and action items against past
// decision-type content in the same project. Deliberately conservative:
// retrieval narrows candidates, the model confirms a genuine contradiction.
type ConflictDetector struct {
	searcher search.Searcher
	llm      Completer
	cfg      ConflictConfig
	logger   *slog.Logger
}

func NewConflictDetector(searcher search.Searcher, llm Completer, cfg ConflictConfig, logger *slog.Logger) *ConflictDetector {
	return &ConflictDetector{searcher: searcher, llm: llm, cfg: cfg, logger: logger}
}

func (d *ConflictDetector) Name() string { return "conflict" }

func (d *ConflictDetector) Wants(kind insight.Kind) bool {
	return kind == insight.KindDecision || kind == insight.KindActionItem
}

func (d *ConflictDetector) Detect(ctx context.Context, sess *session.Session, in insight.Insight) ([]Item, error) {
	matches, err := d.searcher.Search(ctx, in.Content, search.Scope{
		OrganizationID: sess.OrganizationID,
		ProjectID:      sess.ProjectID,
		Corpus:         search.CorpusDecisions,
	}, 5)
	if err != nil {
		return nil, fmt.Errorf("decision search: %w", err)
	}

	candidates := matches[:0]
	for _, m := range matches {
		if m.Score >= d.cfg.Relevance && m.ID != in.ID {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	verdict, err := d.judge(ctx, in, candidates)
	if err != nil {
		return nil, err
	}
	if verdict == nil {
		return nil, nil
	}

	chosen := candidates[verdict.ConflictingIndex]
	return []Item{{
		Type:               TypeConflict,
		InsightID:          in.ID,
		Confidence:         verdict.Confidence,
		Reasoning:          verdict.Reasoning,
		Timestamp:          time.Now().UTC(),
		ConflictingID:      chosen.ID,
		ConflictingContent: chosen.Text,
		Severity:           verdict.Severity,
		Resolutions:        verdict.Resolutions,
	}}, nil
}

type conflictVerdict struct {
	Conflict         bool     `json:"conflict"`
	ConflictingIndex int      `json:"conflicting_index"`
	Severity         string   `json:"severity"`
	Reasoning        string   `json:"reasoning"`
	Resolutions      []string `json:"resolutions"`
	Confidence       float64  `json:"confidence"`
}

func (d *ConflictDetector) judge(ctx context.Context, in insight.Insight, candidates []search.Match) (*conflictVerdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "New statement: %s\n\nPast decisions:\n", in.Content)
	for i, m := range candidates {
		fmt.Fprintf(&b, "%d. [%s, %s] %s\n", i, m.ID, m.Date.Format("2006-01-02"), m.Text)
	}

	jctx, cancel := context.WithTimeout(ctx, d.cfg.JudgeTimeout)
	defer cancel()

	raw, err := d.llm.CompleteWithTemperature(jctx, conflictJudgeSystem, []anthropic.Message{{Role: "user", Content: b.String()}}, 1024, 0)
	if err != nil {
		return nil, fmt.Errorf("conflict judge: %w", err)
	}

	var v conflictVerdict
	if err := json.Unmarshal([]byte(stripFences(raw)), &v); err != nil {
		return nil, fmt.Errorf("conflict judge output: %w", err)
	}
	if !v.Conflict || v.Confidence < d.cfg.ConfidenceFloor {
		return nil, nil
	}
	if v.ConflictingIndex < 0 || v.ConflictingIndex >= len(candidates) {
		d.logger.Warn("conflict judge returned out-of-range index", "index", v.ConflictingIndex)
		return nil, nil
	}
	switch v.Severity {
	case "high", "medium", "low":
	default:
		v.Severity = "low"
	}
	return &v, nil
}
