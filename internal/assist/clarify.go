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
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

// Vagueness categories.
const (
	VagueMissingTime   = "missing_time"
	VagueMissingOwner  = "missing_owner"
	VagueMissingDetail = "missing_detail"
	VagueUnclearScope  = "unclear_scope"
)

// vagueCues are the per-category lexical patterns for the fast path.
// Matching is case-insensitive substring over the statement.
var vagueCues = map[string][]string{
	VagueMissingTime: {
		"soon", "later", "eventually", "at some point", "when we get a chance",
		"one of these days", "shortly", "in a bit",
	},
	VagueMissingOwner: {
		"someone", "somebody", "anyone", "we should", "we need to", "they need to",
		"it would be good if", "has to be done",
	},
	VagueMissingDetail: {
		"fix this", "handle it", "sort it out", "deal with it", "look into it",
		"figure it out", "clean this up", "take care of it",
	},
	VagueUnclearScope: {
		"everything", "the whole thing", "all of it", "and so on", "etcetera",
		"etc", "stuff", "all the things",
	},
}

// clarifyTemplates are the canned questions per category; refined by the
// model when session context permits.
var clarifyTemplates = map[string]string{
	VagueMissingTime:   "By when should this be done?",
	VagueMissingOwner:  "Who specifically owns this?",
	VagueMissingDetail: "What concretely needs to happen here?",
	VagueUnclearScope:  "What exactly is in scope — and what is out?",
}

const clarifyModelSystem = `You check whether a meeting statement (a decision or action item) is too vague to act on.
Categories: missing_time, missing_owner, missing_detail, unclear_scope.
Respond with valid JSON:
{"vague": true|false, "categories": ["..."], "questions": ["2-3 concrete clarifying questions"], "confidence": 0.0-1.0}
Return ONLY the JSON object.`

const clarifyRefineSystem = `Given a vague meeting statement, recent conversation context, and canned clarifying questions, rewrite the questions to be concrete for THIS meeting (name people and artifacts from context where possible). Keep 2-3 questions.
Respond with valid JSON: {"questions": ["..."]}. Return ONLY the JSON object.`

// ClarifyConfig carries the detector's confidence floors.
type ClarifyConfig struct {
	PatternFloor float64
	ModelFloor   float64
	ModelTimeout time.Duration
}

// ClarifyDetector flags vague decisions and action items and proposes
// clarifying questions. Lexical fast path first; a single model call catches
// subtler cases only when no pattern fires.
type ClarifyDetector struct {
	llm    Completer
	cfg    ClarifyConfig
	logger *slog.Logger
}

func NewClarifyDetector(llm Completer, cfg ClarifyConfig, logger *slog.Logger) *ClarifyDetector {
	return &ClarifyDetector{llm: llm, cfg: cfg, logger: logger}
}

func (d *ClarifyDetector) Name() string { return "clarification" }

func (d *ClarifyDetector) Wants(kind insight.Kind) bool {
	return kind == insight.KindDecision || kind == insight.KindActionItem
}

func (d *ClarifyDetector) Detect(ctx context.Context, sess *session.Session, in insight.Insight) ([]Item, error) {
	if cats := MatchVagueness(in.Content); len(cats) > 0 {
		questions := d.refineQuestions(ctx, sess, in, templatedQuestions(cats))
		return []Item{{
			Type:                TypeClarification,
			InsightID:           in.ID,
			Confidence:          d.patternConfidence(cats),
			Reasoning:           "Statement matches vagueness cues: " + strings.Join(cats, ", "),
			Timestamp:           time.Now().UTC(),
			VaguenessCategories: cats,
			ClarifyingQuestions: questions,
		}}, nil
	}

	// Fast path found nothing; one model call for the subtler cases.
	return d.modelPath(ctx, in)
}

// MatchVagueness returns the vagueness categories whose lexical cues appear
// in the statement, in a fixed category order.
func MatchVagueness(statement string) []string {
	lower := strings.ToLower(statement)
	var cats []string
	for _, cat := range []string{VagueMissingTime, VagueMissingOwner, VagueMissingDetail, VagueUnclearScope} {
		for _, cue := range vagueCues[cat] {
			if containsWord(lower, cue) {
				cats = append(cats, cat)
				break
			}
		}
	}
	return cats
}

// containsWord matches a cue at word boundaries, so "etc" doesn't fire
// inside "fetch".
func containsWord(haystack, cue string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], cue)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(cue)
		beforeOK := start == 0 || !isWordChar(haystack[start-1])
		afterOK := end == len(haystack) || !isWordChar(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func templatedQuestions(cats []string) []string {
	questions := make([]string, 0, 3)
	for _, cat := range cats {
		if len(questions) == 3 {
			break
		}
		questions = append(questions, clarifyTemplates[cat])
	}
	return questions
}

// patternConfidence rises with the number of matched categories, floored at
// the pattern path's configured minimum.
func (d *ClarifyDetector) patternConfidence(cats []string) float64 {
	conf := d.cfg.PatternFloor + 0.1*float64(len(cats)-1)
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func (d *ClarifyDetector) refineQuestions(ctx context.Context, sess *session.Session, in insight.Insight, canned []string) []string {
	window := sess.WindowText()
	if window == "" {
		return canned
	}

	rctx, cancel := context.WithTimeout(ctx, d.cfg.ModelTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Statement: %s\n\nRecent context:\n%s\nCanned questions:\n- %s",
		in.Content, window, strings.Join(canned, "\n- "))
	raw, err := d.llm.Complete(rctx, clarifyRefineSystem, []anthropic.Message{{Role: "user", Content: prompt}}, 512)
	if err != nil {
		return canned // refinement is best-effort
	}

	var out struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil || len(out.Questions) == 0 {
		return canned
	}
	if len(out.Questions) > 3 {
		out.Questions = out.Questions[:3]
	}
	return out.Questions
}

func (d *ClarifyDetector) modelPath(ctx context.Context, in insight.Insight) ([]Item, error) {
	mctx, cancel := context.WithTimeout(ctx, d.cfg.ModelTimeout)
	defer cancel()

	raw, err := d.llm.CompleteWithTemperature(mctx, clarifyModelSystem, []anthropic.Message{{Role: "user", Content: in.Content}}, 512, 0)
	if err != nil {
		return nil, fmt.Errorf("clarify model call: %w", err)
	}

	var out struct {
		Vague      bool     `json:"vague"`
		Categories []string `json:"categories"`
		Questions  []string `json:"questions"`
		Confidence float64  `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return nil, fmt.Errorf("clarify model output: %w", err)
	}
	if !out.Vague || out.Confidence < d.cfg.ModelFloor {
		return nil, nil
	}
	if len(out.Questions) > 3 {
		out.Questions = out.Questions[:3]
	}

	return []Item{{
		Type:                TypeClarification,
		InsightID:           in.ID,
		Confidence:          out.Confidence,
		Reasoning:           "Model judged the statement too vague to act on",
		Timestamp:           time.Now().UTC(),
		VaguenessCategories: out.Categories,
		ClarifyingQuestions: out.Questions,
	}}, nil
}
