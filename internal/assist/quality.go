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

// Penalty weights per issue severity. Score starts at 1.0 and never goes
// below 0.0.
const (
	penaltyCritical   = 0.30
	penaltyImportant  = 0.15
	penaltySuggestion = 0.05
)

var vagueVerbs = []string{
	"handle", "deal with", "look into", "sort out", "figure out", "address",
	"improve", "optimize", "follow up on", "work on", "think about", "revisit",
}

var deadlineCues = []string{
	"today", "tomorrow", "tonight", "eod", "eow", "end of day", "end of week",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"next week", "next month", "this week", "this month",
	// "may" is absent: too ambiguous with the modal verb.
	"january", "february", "march", "april", "june", "july", "august",
	"september", "october", "november", "december",
	"q1", "q2", "q3", "q4", "by the", "before the",
}

var indefiniteOwners = []string{
	"someone", "somebody", "anyone", "anybody", "people", "the team", "we", "they",
}

const rewriteSystem = `You rewrite a weak meeting action item into a complete one: named owner, concrete deadline, specific verb and object.
Use ONLY people and facts present in the provided conversation context — never invent an owner or a date that nobody said. If context names no plausible owner, keep an explicit placeholder like "[owner?]".
Respond with valid JSON: {"improved": "string"}. Return ONLY the JSON object.`

// QualityConfig carries the scorer's threshold and rewrite tunables.
type QualityConfig struct {
	Threshold      float64
	RewriteTimeout time.Duration
}

// QualityDetector scores action-item completeness with pure pattern checks
// and requests a model rewrite only for items that fall below the threshold.
type QualityDetector struct {
	llm    Completer
	cfg    QualityConfig
	logger *slog.Logger
}

func NewQualityDetector(llm Completer, cfg QualityConfig, logger *slog.Logger) *QualityDetector {
	return &QualityDetector{llm: llm, cfg: cfg, logger: logger}
}

func (d *QualityDetector) Name() string { return "action_quality" }

func (d *QualityDetector) Wants(kind insight.Kind) bool { return kind == insight.KindActionItem }

func (d *QualityDetector) Detect(ctx context.Context, sess *session.Session, in insight.Insight) ([]Item, error) {
	score, issues := ScoreActionItem(in.Content)
	if score >= d.cfg.Threshold {
		return nil, nil
	}

	item := Item{
		Type:              TypeIncompleteAction,
		InsightID:         in.ID,
		Confidence:        issueConfidence(issues),
		Reasoning:         issueSummary(issues),
		Timestamp:         time.Now().UTC(),
		CompletenessScore: score,
		Issues:            issues,
	}
	item.ImprovedVersion = d.rewrite(ctx, sess, in)

	return []Item{item}, nil
}

// ScoreActionItem runs the pure completeness check: 1.0 minus fixed penalties
// per issue, floored at 0.0. No external calls.
func ScoreActionItem(content string) (float64, []QualityIssue) {
	var issues []QualityIssue
	lower := strings.ToLower(content)

	if !hasOwner(content) {
		issues = append(issues, QualityIssue{
			Kind:     "missing_owner",
			Severity: "critical",
			Detail:   "No named owner; nobody is accountable",
		})
	}
	if !hasDeadline(lower) {
		issues = append(issues, QualityIssue{
			Kind:     "missing_deadline",
			Severity: "critical",
			Detail:   "No concrete deadline or date",
		})
	}
	if verb, ok := hasVagueVerb(lower); ok {
		issues = append(issues, QualityIssue{
			Kind:     "vague_verb",
			Severity: "important",
			Detail:   fmt.Sprintf("Verb %q doesn't say what done looks like", verb),
		})
	}
	if len(strings.Fields(content)) < 5 {
		issues = append(issues, QualityIssue{
			Kind:     "too_short",
			Severity: "suggestion",
			Detail:   "Description too short to be actionable",
		})
	}

	score := 1.0
	for _, iss := range issues {
		switch iss.Severity {
		case "critical":
			score -= penaltyCritical
		case "important":
			score -= penaltyImportant
		case "suggestion":
			score -= penaltySuggestion
		}
	}
	if score < 0.0 {
		score = 0.0
	}
	return score, issues
}

// hasOwner looks for a named person: a first-person commitment, or a
// capitalized name in subject position or mid-sentence. Indefinite subjects
// ("someone", "we") don't count.
func hasOwner(content string) bool {
	lower := strings.ToLower(content)
	if strings.Contains(lower, "i'll ") || strings.Contains(lower, "i will ") {
		return true
	}

	words := strings.Fields(content)
	for i, w := range words {
		trimmed := strings.Trim(w, ".,;:!?'\"")
		if trimmed == "" {
			continue
		}
		if i == 0 {
			// Sentence-initial capitalization only counts when followed by a
			// commitment verb ("Ben will ...", "Priya to ...").
			if isCapitalized(trimmed) && !isIndefinite(strings.ToLower(trimmed)) && i+1 < len(words) {
				next := strings.ToLower(strings.Trim(words[i+1], ".,;:!?'\""))
				if next == "will" || next == "to" || next == "owns" || next == "takes" {
					return true
				}
			}
			continue
		}
		if isCapitalized(trimmed) && !isIndefinite(strings.ToLower(trimmed)) {
			return true
		}
	}
	return false
}

func isCapitalized(w string) bool {
	return len(w) > 1 && w[0] >= 'A' && w[0] <= 'Z' && strings.ToLower(w[1:]) == w[1:]
}

func isIndefinite(w string) bool {
	for _, o := range indefiniteOwners {
		if w == o {
			return true
		}
	}
	return false
}

func hasDeadline(lower string) bool {
	for _, cue := range deadlineCues {
		if containsWord(lower, cue) {
			return true
		}
	}
	return false
}

func hasVagueVerb(lower string) (string, bool) {
	for _, v := range vagueVerbs {
		if containsWord(lower, v) {
			return v, true
		}
	}
	return "", false
}

// issueConfidence: pattern checks are deterministic, so confidence rises with
// the weight of what they found.
func issueConfidence(issues []QualityIssue) float64 {
	conf := 0.7
	for _, iss := range issues {
		if iss.Severity == "critical" {
			conf += 0.1
		}
	}
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}

func issueSummary(issues []QualityIssue) string {
	kinds := make([]string, len(issues))
	for i, iss := range issues {
		kinds[i] = iss.Kind
	}
	return "Action item incomplete: " + strings.Join(kinds, ", ")
}

// rewrite asks the model for an improved version grounded in session context.
// Best-effort: scoring stands on its own when the rewrite fails.
func (d *QualityDetector) rewrite(ctx context.Context, sess *session.Session, in insight.Insight) string {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.RewriteTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Action item: %s\n\nConversation context:\n%s", in.Content, sess.WindowText())
	raw, err := d.llm.Complete(rctx, rewriteSystem, []anthropic.Message{{Role: "user", Content: prompt}}, 512)
	if err != nil {
		d.logger.Warn("action-item rewrite failed", "insight_id", in.ID, "error", err)
		return ""
	}

	var out struct {
		Improved string `json:"improved"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		d.logger.Warn("action-item rewrite malformed", "insight_id", in.ID, "error", err)
		return ""
	}
	return out.Improved
}
