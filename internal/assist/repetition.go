package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
	"github.com/MikeSquared-Agency/sibyl/internal/dedup"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

const circularitySystem = `You judge whether repeated mentions of a topic in a meeting are CIRCULAR (going in circles, restating positions, no new information) or PROGRESSIVE (each pass builds toward a resolution).
Respond with valid JSON:
{"circular": true|false, "reasoning": "string", "deescalation": ["1-3 concrete suggestions to move past the loop"], "confidence": 0.0-1.0}
Return ONLY the JSON object.`

// RepetitionConfig carries the detector's window and floor tunables.
type RepetitionConfig struct {
	Window       time.Duration
	MinCount     int
	Similarity   float64
	Floor        float64
	JudgeTimeout time.Duration
}

// RepetitionDetector flags topics the meeting keeps circling back to. Two
// gates before anything fires: the topic must recur at least MinCount times
// inside the trailing window, and the model must confirm the recurrences are
// circular rather than building toward resolution.
type RepetitionDetector struct {
	llm    Completer
	cfg    RepetitionConfig
	logger *slog.Logger
}

func NewRepetitionDetector(llm Completer, cfg RepetitionConfig, logger *slog.Logger) *RepetitionDetector {
	return &RepetitionDetector{llm: llm, cfg: cfg, logger: logger}
}

func (d *RepetitionDetector) Name() string { return "repetition" }

// Every insight kind carries a topic, so all of them feed the history.
func (d *RepetitionDetector) Wants(kind insight.Kind) bool { return true }

func (d *RepetitionDetector) Detect(ctx context.Context, sess *session.Session, in insight.Insight) ([]Item, error) {
	if in.Topic == "" || len(in.Fingerprint) == 0 {
		return nil, nil
	}

	now := in.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	sess.NoteTopic(in.Topic, in.Fingerprint, now, d.cfg.Window)

	count, labels := sess.TopicSightings(in.Fingerprint, now, d.cfg.Window, d.cfg.Similarity, dedup.CosineSimilarity)
	if count < d.cfg.MinCount {
		return nil, nil
	}

	// One alert per simmering topic: the cooldown keeps every subsequent
	// sighting from re-firing. Sightings match by fingerprint, so the key
	// comes from the cluster's earliest label rather than the latest
	// wording of the same topic.
	cluster := in.Topic
	if len(labels) > 0 {
		cluster = labels[0]
	}
	cooldownKey := "repetition:" + cluster
	if !sess.CooldownElapsed(cooldownKey, d.cfg.Window, now) {
		return nil, nil
	}

	verdict, err := d.judge(ctx, in, labels, count)
	if err != nil {
		return nil, err
	}
	if verdict == nil {
		return nil, nil
	}

	sess.MarkAlert(cooldownKey, now)
	return []Item{{
		Type:                TypeRepetition,
		InsightID:           in.ID,
		Confidence:          verdict.Confidence,
		Reasoning:           verdict.Reasoning,
		Timestamp:           time.Now().UTC(),
		Topic:               in.Topic,
		Occurrences:         count,
		DeescalationActions: verdict.Deescalation,
	}}, nil
}

type circularityVerdict struct {
	Circular     bool     `json:"circular"`
	Reasoning    string   `json:"reasoning"`
	Deescalation []string `json:"deescalation"`
	Confidence   float64  `json:"confidence"`
}

func (d *RepetitionDetector) judge(ctx context.Context, in insight.Insight, labels []string, count int) (*circularityVerdict, error) {
	jctx, cancel := context.WithTimeout(ctx, d.cfg.JudgeTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Topic: %s\nMentions in the last %s (%d): %s\nLatest statement: %s",
		in.Topic, d.cfg.Window, count, strings.Join(labels, "; "), in.Content)
	raw, err := d.llm.CompleteWithTemperature(jctx, circularitySystem, []anthropic.Message{{Role: "user", Content: prompt}}, 512, 0)
	if err != nil {
		return nil, fmt.Errorf("circularity judge: %w", err)
	}

	var v circularityVerdict
	if err := json.Unmarshal([]byte(stripFences(raw)), &v); err != nil {
		return nil, fmt.Errorf("circularity judge output: %w", err)
	}
	if !v.Circular || v.Confidence < d.cfg.Floor {
		return nil, nil
	}
	return &v, nil
}
