package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/search"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

const followUpSystem = `You rank candidate follow-up topics for a meeting, given a statement just made and retrieved related items (open unresolved work and past decisions).
Pick the candidates genuinely worth raising NOW in this meeting — related enough that skipping them would cost the team later.
Urgency: "high" blocks the current work, "medium" should be scheduled, "low" worth a mention.
Respond with valid JSON:
{"suggestions": [{"index": 0-based index into the candidate list, "reason": "string", "urgency": "high|medium|low"}], "confidence": 0.0-1.0}
Suggest at most three, best first; an empty list is a fine answer. Return ONLY the JSON object.`

// FollowUpConfig carries the suggester's tunables.
type FollowUpConfig struct {
	Relevance    float64
	Floor        float64
	MaxResults   int
	JudgeTimeout time.Duration
}

// FollowUpDetector proposes follow-up topics for decisions and key points:
// two parallel scoped searches (open items, past decisions), then one model
// ranking pass over the merged candidates.
type FollowUpDetector struct {
	searcher search.Searcher
	llm      Completer
	cfg      FollowUpConfig
	logger   *slog.Logger
}

func NewFollowUpDetector(searcher search.Searcher, llm Completer, cfg FollowUpConfig, logger *slog.Logger) *FollowUpDetector {
	return &FollowUpDetector{searcher: searcher, llm: llm, cfg: cfg, logger: logger}
}

func (d *FollowUpDetector) Name() string { return "follow_up" }

func (d *FollowUpDetector) Wants(kind insight.Kind) bool {
	return kind == insight.KindDecision || kind == insight.KindKeyPoint
}

func (d *FollowUpDetector) Detect(ctx context.Context, sess *session.Session, in insight.Insight) ([]Item, error) {
	scope := search.Scope{
		OrganizationID: sess.OrganizationID,
		ProjectID:      sess.ProjectID,
	}

	var openItems, pastDecisions []search.Match
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s := scope
		s.Corpus = search.CorpusOpenItems
		var err error
		openItems, err = d.searcher.Search(gctx, in.Content, s, 5)
		return err
	})
	g.Go(func() error {
		s := scope
		s.Corpus = search.CorpusDecisions
		var err error
		pastDecisions, err = d.searcher.Search(gctx, in.Content, s, 5)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("follow-up search: %w", err)
	}

	var candidates []search.Match
	for _, m := range append(openItems, pastDecisions...) {
		if m.Score >= d.cfg.Relevance && m.ID != in.ID {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	suggestions, confidence, err := d.rank(ctx, in, candidates)
	if err != nil {
		return nil, err
	}
	if len(suggestions) == 0 || confidence < d.cfg.Floor {
		return nil, nil
	}

	return []Item{{
		Type:        TypeFollowUp,
		InsightID:   in.ID,
		Confidence:  confidence,
		Reasoning:   fmt.Sprintf("%d related open items and past decisions worth raising", len(suggestions)),
		Timestamp:   time.Now().UTC(),
		Suggestions: suggestions,
	}}, nil
}

func (d *FollowUpDetector) rank(ctx context.Context, in insight.Insight, candidates []search.Match) ([]FollowUp, float64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Statement: %s\n\nCandidates:\n", in.Content)
	for i, m := range candidates {
		fmt.Fprintf(&b, "%d. [%s, %s] %s\n", i, m.ID, m.Date.Format("2006-01-02"), m.Text)
	}

	jctx, cancel := context.WithTimeout(ctx, d.cfg.JudgeTimeout)
	defer cancel()

	raw, err := d.llm.CompleteWithTemperature(jctx, followUpSystem, []anthropic.Message{{Role: "user", Content: b.String()}}, 1024, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("follow-up ranking: %w", err)
	}

	var out struct {
		Suggestions []struct {
			Index   int    `json:"index"`
			Reason  string `json:"reason"`
			Urgency string `json:"urgency"`
		} `json:"suggestions"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, 0, fmt.Errorf("follow-up ranking output: %w", err)
	}

	var suggestions []FollowUp
	for _, s := range out.Suggestions {
		if s.Index < 0 || s.Index >= len(candidates) {
			continue
		}
		if len(suggestions) == d.cfg.MaxResults {
			break
		}
		m := candidates[s.Index]
		switch s.Urgency {
		case "high", "medium", "low":
		default:
			s.Urgency = "low"
		}
		suggestions = append(suggestions, FollowUp{
			Content:  m.Text,
			Reason:   s.Reason,
			Urgency:  s.Urgency,
			SourceID: m.ID,
			Date:     m.Date,
		})
	}
	return suggestions, out.Confidence, nil
}
