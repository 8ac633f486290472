package assist

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/sibyl/internal/dedup"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/search"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

// AnswerConfig carries the waterfall's tier tunables.
type AnswerConfig struct {
	KBTimeout           time.Duration
	KBRelevance         float64
	InMeetingSimilarity float64
	ListenWindow        time.Duration
	FallbackTimeout     time.Duration
	FallbackConfidence  float64
}

// AnswerDetector runs the four-tier answer waterfall for question insights,
// ordered from most to least grounded and short-circuiting at the first
// acceptable hit. Tiers 1-2 run inside the chunk's critical path; tier 3
// (live listen) and tier 4 (model fallback, reached only when the listen
// window closes empty) run in the background and surface as late answers.
type AnswerDetector struct {
	searcher search.Searcher
	llm      Completer
	cfg      AnswerConfig
	onLate   func(sessionID string, item Item)
	logger   *slog.Logger
}

func NewAnswerDetector(searcher search.Searcher, llm Completer, cfg AnswerConfig, onLate func(sessionID string, item Item), logger *slog.Logger) *AnswerDetector {
	return &AnswerDetector{
		searcher: searcher,
		llm:      llm,
		cfg:      cfg,
		onLate:   onLate,
		logger:   logger,
	}
}

func (d *AnswerDetector) Name() string { return "answer_waterfall" }

func (d *AnswerDetector) Wants(kind insight.Kind) bool { return kind == insight.KindQuestion }

func (d *AnswerDetector) Detect(ctx context.Context, sess *session.Session, in insight.Insight) ([]Item, error) {
	// Tier 1: knowledge-base search, project-scoped.
	if item, ok := d.searchKnowledgeBase(ctx, sess, in); ok {
		return []Item{item}, nil
	}

	// Tier 2: was this question already answered earlier in this session?
	if item, ok := d.searchInMeeting(sess, in); ok {
		return []Item{item}, nil
	}

	// Tier 3: listen to the live conversation for an answer; tier 4 fallback
	// fires only if the listen window closes without one. Never awaited here.
	d.listen(sess, in)

	return nil, nil
}

func (d *AnswerDetector) searchKnowledgeBase(ctx context.Context, sess *session.Session, in insight.Insight) (Item, bool) {
	kbCtx, cancel := context.WithTimeout(ctx, d.cfg.KBTimeout)
	defer cancel()

	matches, err := d.searcher.Search(kbCtx, in.Content, search.Scope{
		OrganizationID: sess.OrganizationID,
		ProjectID:      sess.ProjectID,
		Corpus:         search.CorpusKnowledge,
	}, 3)
	if err != nil {
		// Timeout or collaborator failure: this tier is empty, move on.
		d.logger.Warn("knowledge-base tier unavailable",
			"session_id", sess.ID,
			"insight_id", in.ID,
			"error", err,
		)
		return Item{}, false
	}

	for _, m := range matches {
		if m.Score < d.cfg.KBRelevance {
			continue
		}
		sess.RecordAnswer(session.AnsweredQuestion{
			InsightID:   in.ID,
			Question:    in.Content,
			Answer:      m.Text,
			Source:      SourceKnowledgeBase,
			Fingerprint: in.Fingerprint,
			AnsweredAt:  time.Now().UTC(),
		})
		return Item{
			Type:         TypeAutoAnswer,
			InsightID:    in.ID,
			Confidence:   m.Score,
			Reasoning:    fmt.Sprintf("Found in indexed content %s (relevance %.2f)", m.ID, m.Score),
			Timestamp:    time.Now().UTC(),
			Answer:       m.Text,
			AnswerSource: SourceKnowledgeBase,
			Citation: &Citation{
				SourceID: m.ID,
				Snippet:  snippet(m.Text, 200),
				Date:     m.Date,
			},
		}, true
	}
	return Item{}, false
}

func (d *AnswerDetector) searchInMeeting(sess *session.Session, in insight.Insight) (Item, bool) {
	if len(in.Fingerprint) == 0 {
		return Item{}, false
	}

	var best *session.AnsweredQuestion
	bestScore := 0.0
	for _, aq := range sess.AnsweredQuestions() {
		score := dedup.CosineSimilarity(in.Fingerprint, aq.Fingerprint)
		if score >= d.cfg.InMeetingSimilarity && score > bestScore {
			q := aq
			best, bestScore = &q, score
		}
	}
	if best == nil {
		return Item{}, false
	}

	return Item{
		Type:         TypeAutoAnswer,
		InsightID:    in.ID,
		Confidence:   bestScore,
		Reasoning:    fmt.Sprintf("Same question was answered earlier in this meeting (similarity %.2f)", bestScore),
		Timestamp:    time.Now().UTC(),
		Answer:       best.Answer,
		AnswerSource: SourceInMeeting,
		Citation: &Citation{
			SourceID: best.InsightID,
			Snippet:  snippet(best.Answer, 200),
			Date:     best.AnsweredAt,
		},
	}, true
}

func snippet(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so a multi-byte character is never split.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
