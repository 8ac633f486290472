package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

const listenJudgeSystem = `You judge whether a new meeting utterance answers a previously asked question.
Only accept a direct, substantive answer — acknowledgements, deferrals ("let's take that offline") and topic changes do not count.
Respond with valid JSON: {"answered": true|false, "answer": "the answer, restated concisely", "confidence": 0.0-1.0}.
Return ONLY the JSON object.`

const fallbackSystem = `You answer a meeting participant's question from general knowledge. You have no meeting-specific sources; say so implicitly by answering plainly without inventing citations.
Respond with valid JSON: {"answer": "string", "confidence": 0.0-1.0}.
If you cannot answer usefully, set confidence below 0.5. Return ONLY the JSON object.`

// listen starts the waterfall's tier-3 background task: watch subsequent
// utterances for a natural answer to the question. Scoped to the session's
// context, so Finalize cancels it; stops on its own when the listen window
// closes, at which point tier 4 (model fallback) gets its one chance.
func (d *AnswerDetector) listen(sess *session.Session, in insight.Insight) {
	ch := sess.Listen()

	go func() {
		defer sess.Unlisten(ch)

		ctx := sess.Context()
		window := time.NewTimer(d.cfg.ListenWindow)
		defer window.Stop()

		for {
			select {
			case <-ctx.Done():
				return // session finalized; no fallback
			case <-window.C:
				d.fallback(ctx, sess, in)
				return
			case utts := <-ch:
				if item, ok := d.judgeUtterances(ctx, sess, in, utts); ok {
					sess.RecordAnswer(session.AnsweredQuestion{
						InsightID:   in.ID,
						Question:    in.Content,
						Answer:      item.Answer,
						Source:      SourceLiveConversation,
						Fingerprint: in.Fingerprint,
						AnsweredAt:  time.Now().UTC(),
					})
					d.emitLate(sess.ID, item)
					return // answer found beats the fallback
				}
			}
		}
	}()
}

func (d *AnswerDetector) judgeUtterances(ctx context.Context, sess *session.Session, in insight.Insight, utts []session.Utterance) (Item, bool) {
	var lines []string
	for _, u := range utts {
		if u.Speaker != "" {
			lines = append(lines, u.Speaker+": "+u.Text)
		} else {
			lines = append(lines, u.Text)
		}
	}

	jctx, cancel := context.WithTimeout(ctx, d.cfg.FallbackTimeout)
	defer cancel()

	prompt := fmt.Sprintf("Question: %s\n\nNew utterance:\n%s", in.Content, strings.Join(lines, "\n"))
	raw, err := d.llm.CompleteWithTemperature(jctx, listenJudgeSystem, []anthropic.Message{{Role: "user", Content: prompt}}, 512, 0)
	if err != nil {
		d.logger.Warn("live-listen judge failed", "session_id", sess.ID, "insight_id", in.ID, "error", err)
		return Item{}, false
	}

	var verdict struct {
		Answered   bool    `json:"answered"`
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &verdict); err != nil {
		d.logger.Warn("live-listen judge returned malformed output", "session_id", sess.ID, "error", err)
		return Item{}, false
	}
	if !verdict.Answered || verdict.Confidence < d.cfg.FallbackConfidence {
		return Item{}, false
	}

	return Item{
		Type:         TypeAutoAnswer,
		InsightID:    in.ID,
		Confidence:   verdict.Confidence,
		Reasoning:    "Answered live in the conversation after the question was asked",
		Timestamp:    time.Now().UTC(),
		Answer:       verdict.Answer,
		AnswerSource: SourceLiveConversation,
		Citation: &Citation{
			SourceID: sess.ID,
			Snippet:  snippet(strings.Join(lines, " "), 200),
			Date:     time.Now().UTC(),
		},
	}, true
}

// fallback is tier 4: a model-generated answer, always tagged unverified so
// the consumer can visually distinguish it from grounded tiers.
func (d *AnswerDetector) fallback(ctx context.Context, sess *session.Session, in insight.Insight) {
	fctx, cancel := context.WithTimeout(ctx, d.cfg.FallbackTimeout)
	defer cancel()

	raw, err := d.llm.Complete(fctx, fallbackSystem, []anthropic.Message{{Role: "user", Content: in.Content}}, 1024)
	if err != nil {
		d.logger.Warn("fallback answer failed", "session_id", sess.ID, "insight_id", in.ID, "error", err)
		return
	}

	var out struct {
		Answer     string  `json:"answer"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		d.logger.Warn("fallback answer malformed", "session_id", sess.ID, "error", err)
		return
	}
	if out.Confidence < d.cfg.FallbackConfidence || out.Answer == "" {
		return
	}

	d.emitLate(sess.ID, Item{
		Type:         TypeAutoAnswer,
		InsightID:    in.ID,
		Confidence:   out.Confidence,
		Reasoning:    "No grounded source found; generated from model knowledge",
		Timestamp:    time.Now().UTC(),
		Answer:       out.Answer,
		AnswerSource: SourceGenerated,
		Unverified:   true,
	})
}

func (d *AnswerDetector) emitLate(sessionID string, item Item) {
	if d.onLate == nil {
		return
	}
	d.onLate(sessionID, item)
}

// stripFences removes markdown code fences models sometimes wrap JSON in.
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
