package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/insight"
)

// Chunk is one transcript fragment delivered by the transcription agent.
// Chunks within a session arrive strictly ordered by Index.
type Chunk struct {
	SessionID      string    `json:"session_id"`
	ProjectID      string    `json:"project_id"`
	OrganizationID string    `json:"organization_id"`
	Index          int       `json:"chunk_index"`
	Text           string    `json:"text"`
	Speaker        string    `json:"speaker,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Utterance is one windowed line of recent conversation.
type Utterance struct {
	Speaker    string
	Text       string
	ChunkIndex int
	Timestamp  time.Time
}

// AnsweredQuestion records a question resolved earlier in this session, so the
// waterfall's in-meeting tier can short-circuit repeats.
type AnsweredQuestion struct {
	InsightID   string
	Question    string
	Answer      string
	Source      string
	Fingerprint []float64
	AnsweredAt  time.Time
}

// topicEntry is one sighting of a topic, kept for repetition matching.
type topicEntry struct {
	Topic       string
	Fingerprint []float64
	SeenAt      time.Time
}

// Session holds all transient working state for one live meeting. State is
// bounded: the window and insight history are capped, topic sightings are
// time-windowed. Discarded wholesale on Finalize — nothing here is durable.
type Session struct {
	ID             string
	ProjectID      string
	OrganizationID string
	CreatedAt      time.Time

	// Held by the pipeline for the whole of one chunk's processing, which is
	// what serializes chunks within a session.
	ProcessMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	lastIndex  int
	window     []Utterance
	windowCap  int
	history    []insight.Insight
	historyCap int
	answered   []AnsweredQuestion
	topics     []topicEntry
	lastAlerts map[string]time.Time

	currentTopic string
	topicSince   time.Time

	listeners []chan []Utterance
}

func newSession(parent context.Context, chunk Chunk, windowCap, historyCap int) *Session {
	ctx, cancel := context.WithCancel(parent)
	now := chunk.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &Session{
		ID:             chunk.SessionID,
		ProjectID:      chunk.ProjectID,
		OrganizationID: chunk.OrganizationID,
		CreatedAt:      now,
		ctx:            ctx,
		cancel:         cancel,
		lastIndex:      -1,
		windowCap:      windowCap,
		historyCap:     historyCap,
		lastAlerts:     make(map[string]time.Time),
		topicSince:     now,
	}
}

// Context is cancelled when the session is finalized. Background tasks
// (the waterfall's live-listen tier) must be scoped to it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Admit validates chunk ordering and appends the chunk's text to the sliding
// window. An out-of-order chunk is rejected with ErrOutOfOrderChunk and leaves
// session state untouched.
func (s *Session) Admit(chunk Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if chunk.Index <= s.lastIndex {
		return ErrOutOfOrderChunk
	}
	s.lastIndex = chunk.Index

	utt := Utterance{
		Speaker:    chunk.Speaker,
		Text:       chunk.Text,
		ChunkIndex: chunk.Index,
		Timestamp:  chunk.Timestamp,
	}
	s.window = append(s.window, utt)
	if len(s.window) > s.windowCap {
		s.window = s.window[len(s.window)-s.windowCap:]
	}

	// Broadcast to live listeners without ever blocking chunk processing.
	for _, ch := range s.listeners {
		select {
		case ch <- []Utterance{utt}:
		default:
		}
	}

	return nil
}

// LastIndex returns the highest admitted chunk index, -1 before the first.
func (s *Session) LastIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex
}

// WindowText renders the sliding window as speaker-prefixed lines, oldest first.
func (s *Session) WindowText() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	for _, u := range s.window {
		if u.Speaker != "" {
			b.WriteString(u.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(u.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// AppendInsights adds surviving insights to the bounded history.
func (s *Session) AppendInsights(items []insight.Insight) {
	if len(items) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, items...)
	if len(s.history) > s.historyCap {
		s.history = s.history[len(s.history)-s.historyCap:]
	}
}

// History returns a copy of the insight history, oldest first.
func (s *Session) History() []insight.Insight {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]insight.Insight, len(s.history))
	copy(out, s.history)
	return out
}

// RecordAnswer remembers that a question was resolved, for the in-meeting tier.
func (s *Session) RecordAnswer(q AnsweredQuestion) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.answered = append(s.answered, q)
	if len(s.answered) > s.historyCap {
		s.answered = s.answered[len(s.answered)-s.historyCap:]
	}
}

// AnsweredQuestions returns a copy of the resolved-question log.
func (s *Session) AnsweredQuestions() []AnsweredQuestion {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AnsweredQuestion, len(s.answered))
	copy(out, s.answered)
	return out
}

// NoteTopic records a topic sighting and prunes entries older than window.
func (s *Session) NoteTopic(topic string, fingerprint []float64, at time.Time, window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := at.Add(-window)
	kept := s.topics[:0]
	for _, e := range s.topics {
		if e.SeenAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	s.topics = append(kept, topicEntry{Topic: topic, Fingerprint: fingerprint, SeenAt: at})
}

// TopicSightings returns how many recorded topics within the trailing window
// match the fingerprint at or above the similarity floor, including the latest
// sighting itself, plus the matching topic labels.
func (s *Session) TopicSightings(fingerprint []float64, at time.Time, window time.Duration, floor float64, similarity func(a, b []float64) float64) (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := at.Add(-window)
	count := 0
	var labels []string
	for _, e := range s.topics {
		if !e.SeenAt.After(cutoff) {
			continue
		}
		if similarity(fingerprint, e.Fingerprint) >= floor {
			count++
			labels = append(labels, e.Topic)
		}
	}
	return count, labels
}

// SetTopic tracks the active discussion topic for time budgeting. Switching
// topics resets the per-topic clock.
func (s *Session) SetTopic(topic string, at time.Time) {
	if topic == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if topic != s.currentTopic {
		s.currentTopic = topic
		s.topicSince = at
	}
}

// CurrentTopic returns the active topic and when it started.
func (s *Session) CurrentTopic() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTopic, s.topicSince
}

// CooldownElapsed reports whether an alert of this kind may fire again.
func (s *Session) CooldownElapsed(kind string, cooldown time.Duration, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	last, ok := s.lastAlerts[kind]
	if !ok {
		return true
	}
	return now.Sub(last) >= cooldown
}

// MarkAlert stamps the cooldown clock for an alert kind.
func (s *Session) MarkAlert(kind string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlerts[kind] = now
}

// Listen registers a live-utterance channel for a background listener. The
// channel receives utterances admitted after registration; it is abandoned,
// not closed, on session teardown — listeners must also select on Context.
func (s *Session) Listen() chan []Utterance {
	ch := make(chan []Utterance, 16)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()
	return ch
}

// Unlisten removes a previously registered listener channel.
func (s *Session) Unlisten(ch chan []Utterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.listeners {
		if c == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}
