package assist

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

// Alert kinds for time_usage_alert items, doubling as cooldown keys.
const (
	AlertMeetingDuration = "meeting_duration"
	AlertTopicDuration   = "topic_duration"
)

// TimeConfig carries the tracker's budgets.
type TimeConfig struct {
	MeetingWarnAfter time.Duration
	MeetingWarnEvery time.Duration
	TopicCap         time.Duration
	Cooldown         time.Duration
	CheckEvery       int // run the check on every Nth chunk
}

// TimeTracker emits meeting- and topic-duration alerts. Pure arithmetic over
// session clocks; no external calls. Cooldown timestamps suppress re-alerting
// however often the check itself runs.
type TimeTracker struct {
	cfg    TimeConfig
	logger *slog.Logger
}

func NewTimeTracker(cfg TimeConfig, logger *slog.Logger) *TimeTracker {
	return &TimeTracker{cfg: cfg, logger: logger}
}

// Check runs at most once per CheckEvery chunks. now is the chunk timestamp,
// so replayed or delayed streams still budget against meeting time.
func (t *TimeTracker) Check(sess *session.Session, chunkIndex int, now time.Time) []Item {
	if t.cfg.CheckEvery > 1 && chunkIndex%t.cfg.CheckEvery != 0 {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var items []Item

	if elapsed := now.Sub(sess.CreatedAt); elapsed >= t.cfg.MeetingWarnAfter {
		// First warning at the threshold, then one per MeetingWarnEvery.
		if sess.CooldownElapsed(AlertMeetingDuration, t.cfg.MeetingWarnEvery, now) {
			sess.MarkAlert(AlertMeetingDuration, now)
			items = append(items, Item{
				Type:           TypeTimeAlert,
				Confidence:     1.0,
				Reasoning:      fmt.Sprintf("Meeting has run %d minutes, past the %d-minute budget", minutes(elapsed), minutes(t.cfg.MeetingWarnAfter)),
				Timestamp:      now,
				AlertKind:      AlertMeetingDuration,
				ElapsedMinutes: minutes(elapsed),
				BudgetMinutes:  minutes(t.cfg.MeetingWarnAfter),
			})
		}
	}

	topic, since := sess.CurrentTopic()
	if topic != "" {
		if elapsed := now.Sub(since); elapsed >= t.cfg.TopicCap {
			if sess.CooldownElapsed(AlertTopicDuration, t.cfg.Cooldown, now) {
				sess.MarkAlert(AlertTopicDuration, now)
				items = append(items, Item{
					Type:           TypeTimeAlert,
					Confidence:     1.0,
					Reasoning:      fmt.Sprintf("Topic %q has held the floor for %d minutes (budget %d)", topic, minutes(elapsed), minutes(t.cfg.TopicCap)),
					Timestamp:      now,
					AlertKind:      AlertTopicDuration,
					Topic:          topic,
					ElapsedMinutes: minutes(elapsed),
					BudgetMinutes:  minutes(t.cfg.TopicCap),
				})
			}
		}
	}

	return items
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
