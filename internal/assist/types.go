package assist

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

// ItemType enumerates the seven proactive-assistance variants.
type ItemType string

const (
	TypeAutoAnswer       ItemType = "auto_answer"
	TypeClarification    ItemType = "clarification_needed"
	TypeConflict         ItemType = "conflict_detected"
	TypeIncompleteAction ItemType = "incomplete_action_item"
	TypeFollowUp         ItemType = "follow_up_suggestion"
	TypeRepetition       ItemType = "repetition_detected"
	TypeTimeAlert        ItemType = "time_usage_alert"
)

// AnswerSource tags which waterfall tier produced an auto answer.
const (
	SourceKnowledgeBase    = "knowledge_base"
	SourceInMeeting        = "in_meeting"
	SourceLiveConversation = "live_conversation"
	SourceGenerated        = "ai_generated"
)

// Citation grounds an answer in retrievable source material. Absent for
// model-generated fallback answers, which are tagged unverified instead.
type Citation struct {
	SourceID string    `json:"source_id"`
	Snippet  string    `json:"snippet"`
	Date     time.Time `json:"date,omitempty"`
}

// QualityIssue is one completeness problem found in an action item.
type QualityIssue struct {
	Kind     string `json:"kind"`     // missing_owner | missing_deadline | vague_verb | too_short
	Severity string `json:"severity"` // critical | important | suggestion
	Detail   string `json:"detail"`
}

// FollowUp is one ranked follow-up suggestion.
type FollowUp struct {
	Content  string    `json:"content"`
	Reason   string    `json:"reason"`
	Urgency  string    `json:"urgency"` // high | medium | low
	SourceID string    `json:"source_id"`
	Date     time.Time `json:"date,omitempty"`
}

// Item is one proactive-assistance result. A union over the seven variants:
// the common header is always set, the payload fields depend on Type. Items
// are immutable once emitted; the client owns accept/dismiss state.
type Item struct {
	Type       ItemType  `json:"type"`
	InsightID  string    `json:"insight_id"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
	Timestamp  time.Time `json:"timestamp"`

	// auto_answer
	Answer       string    `json:"answer,omitempty"`
	AnswerSource string    `json:"answer_source,omitempty"`
	Unverified   bool      `json:"unverified,omitempty"`
	Citation     *Citation `json:"citation,omitempty"`

	// clarification_needed
	VaguenessCategories []string `json:"vagueness_categories,omitempty"`
	ClarifyingQuestions []string `json:"clarifying_questions,omitempty"`

	// conflict_detected
	ConflictingID      string   `json:"conflicting_id,omitempty"`
	ConflictingContent string   `json:"conflicting_content,omitempty"`
	Severity           string   `json:"severity,omitempty"`
	Resolutions        []string `json:"resolutions,omitempty"`

	// incomplete_action_item
	CompletenessScore float64        `json:"completeness_score,omitempty"`
	Issues            []QualityIssue `json:"issues,omitempty"`
	ImprovedVersion   string         `json:"improved_version,omitempty"`

	// follow_up_suggestion
	Suggestions []FollowUp `json:"suggestions,omitempty"`

	// repetition_detected
	Topic               string   `json:"topic,omitempty"`
	Occurrences         int      `json:"occurrences,omitempty"`
	DeescalationActions []string `json:"deescalation_actions,omitempty"`

	// time_usage_alert
	AlertKind      string `json:"alert_kind,omitempty"` // meeting_duration | topic_duration
	ElapsedMinutes int    `json:"elapsed_minutes,omitempty"`
	BudgetMinutes  int    `json:"budget_minutes,omitempty"`
}

// Completer is the slice of the LLM client the detectors use. Classification
// calls run at temperature 0; generative calls use the model default.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
	CompleteWithTemperature(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, temperature float64) (string, error)
}

// Detector is one proactive-assistance strategy. Detectors are pure with
// respect to one another and are fanned out by the Router per insight.
type Detector interface {
	Name() string
	Wants(kind insight.Kind) bool
	Detect(ctx context.Context, sess *session.Session, in insight.Insight) ([]Item, error)
}
