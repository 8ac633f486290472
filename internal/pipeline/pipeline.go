package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/assist"
	"github.com/MikeSquared-Agency/sibyl/internal/dedup"
	"github.com/MikeSquared-Agency/sibyl/internal/hermes"
	"github.com/MikeSquared-Agency/sibyl/internal/insight"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

// Extractor pulls structured insights from one transcript fragment.
type Extractor interface {
	Extract(ctx context.Context, sessionID string, chunkIndex int, speaker, text, windowText string) ([]insight.Insight, error)
}

// Embedder computes fingerprint vectors for insight contents.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Persister writes surviving insights and duplicate annotations durably.
type Persister interface {
	WriteInsights(ctx context.Context, orgID, projectID string, items []insight.Insight) error
	WriteUpdates(ctx context.Context, updates []dedup.Update) error
}

// Publisher sends payloads to the bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// ChunkResponse is the per-chunk payload published on the response subject.
type ChunkResponse struct {
	SessionID    string            `json:"session_id"`
	ChunkIndex   int               `json:"chunk_index"`
	Insights     []insight.Insight `json:"insights"`
	Updates      []dedup.Update    `json:"insight_updates,omitempty"`
	Assistance   []assist.Item     `json:"proactive_assistance"`
	ProcessingMS int64             `json:"processing_time_ms"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Pipeline runs a transcript chunk through extraction, dedup, persistence and
// the assistance detectors, producing one ChunkResponse per chunk. Chunks
// within a session are serialized on the session's processing lock; distinct
// sessions proceed concurrently.
//
// Model, embedding and persistence failures degrade: the chunk still ships,
// minus the failed stage's output, with a telemetry event marking the gap.
// Only ordering and lifecycle violations surface to the caller.
type Pipeline struct {
	sessions  *session.Manager
	extractor Extractor
	embedder  Embedder
	dedup     *dedup.Deduplicator
	store     Persister
	router    *assist.Router
	tracker   *assist.TimeTracker
	publisher Publisher
	logger    *slog.Logger

	queueMu sync.Mutex
	queues  map[string]chan session.Chunk
}

func New(
	sessions *session.Manager,
	ext Extractor,
	embedder Embedder,
	dd *dedup.Deduplicator,
	store Persister,
	router *assist.Router,
	tracker *assist.TimeTracker,
	publisher Publisher,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		sessions:  sessions,
		extractor: ext,
		embedder:  embedder,
		dedup:     dd,
		store:     store,
		router:    router,
		tracker:   tracker,
		publisher: publisher,
		logger:    logger,
		queues:    make(map[string]chan session.Chunk),
	}
}

// ProcessChunk runs one chunk end to end and returns its response. The only
// errors returned are ordering violations; everything else degrades.
func (p *Pipeline) ProcessChunk(ctx context.Context, chunk session.Chunk) (*ChunkResponse, error) {
	start := time.Now()

	sess, err := p.sessions.GetOrCreate(chunk)
	if err != nil {
		return nil, fmt.Errorf("chunk %d for session %s: %w", chunk.Index, chunk.SessionID, err)
	}
	sess.ProcessMu.Lock()
	defer sess.ProcessMu.Unlock()

	// Window text is captured before admission so the fragment being
	// extracted isn't doubled into its own context.
	windowText := sess.WindowText()
	if err := sess.Admit(chunk); err != nil {
		return nil, fmt.Errorf("chunk %d for session %s: %w", chunk.Index, chunk.SessionID, err)
	}

	insights := p.extract(ctx, chunk, windowText)
	p.fingerprint(ctx, chunk, insights)

	result := p.dedup.Filter(insights, sess.History())
	sess.AppendInsights(result.Fresh)
	p.persist(ctx, sess, chunk, result)

	now := chunk.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	for _, in := range result.Fresh {
		sess.SetTopic(in.Topic, now)
	}

	items := p.router.Route(ctx, sess, result.Fresh)
	items = append(items, p.tracker.Check(sess, chunk.Index, now)...)

	resp := &ChunkResponse{
		SessionID:    chunk.SessionID,
		ChunkIndex:   chunk.Index,
		Insights:     result.Fresh,
		Updates:      result.Updates,
		Assistance:   items,
		ProcessingMS: time.Since(start).Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
	if resp.Insights == nil {
		resp.Insights = []insight.Insight{}
	}
	if resp.Assistance == nil {
		resp.Assistance = []assist.Item{}
	}

	p.logger.Info("chunk processed",
		"session_id", chunk.SessionID,
		"chunk_index", chunk.Index,
		"insights", len(resp.Insights),
		"updates", len(resp.Updates),
		"assistance", len(resp.Assistance),
		"elapsed_ms", resp.ProcessingMS,
	)
	return resp, nil
}

func (p *Pipeline) extract(ctx context.Context, chunk session.Chunk, windowText string) []insight.Insight {
	insights, err := p.extractor.Extract(ctx, chunk.SessionID, chunk.Index, chunk.Speaker, chunk.Text, windowText)
	if err != nil {
		if errors.Is(err, insight.ErrMalformedOutput) {
			p.logger.Warn("extraction output malformed, shipping chunk without insights",
				"session_id", chunk.SessionID, "chunk_index", chunk.Index)
		} else {
			p.logger.Error("extraction failed",
				"session_id", chunk.SessionID, "chunk_index", chunk.Index, "error", err)
		}
		p.degraded(chunk, "extraction", err)
		return nil
	}
	return insights
}

// fingerprint embeds insight contents in one batch. On failure insights keep
// nil fingerprints: dedup passes them through and similarity-based detectors
// skip them.
func (p *Pipeline) fingerprint(ctx context.Context, chunk session.Chunk, insights []insight.Insight) {
	if len(insights) == 0 {
		return
	}
	texts := make([]string, len(insights))
	for i, in := range insights {
		texts[i] = in.Content
	}

	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		p.logger.Error("fingerprint embedding failed",
			"session_id", chunk.SessionID, "chunk_index", chunk.Index, "error", err)
		p.degraded(chunk, "embedding", err)
		return
	}
	for i := range insights {
		insights[i].Fingerprint = vectors[i]
	}
}

func (p *Pipeline) persist(ctx context.Context, sess *session.Session, chunk session.Chunk, result dedup.Result) {
	if p.store == nil {
		return
	}
	if len(result.Fresh) > 0 {
		if err := p.store.WriteInsights(ctx, sess.OrganizationID, sess.ProjectID, result.Fresh); err != nil {
			p.logger.Error("insight persistence failed",
				"session_id", chunk.SessionID, "chunk_index", chunk.Index, "error", err)
			p.degraded(chunk, "persistence", err)
		}
	}
	if len(result.Updates) > 0 {
		if err := p.store.WriteUpdates(ctx, result.Updates); err != nil {
			p.logger.Error("update persistence failed",
				"session_id", chunk.SessionID, "chunk_index", chunk.Index, "error", err)
			p.degraded(chunk, "persistence", err)
		}
	}
}

// degraded reports a stage failure on the telemetry subject. Best-effort.
func (p *Pipeline) degraded(chunk session.Chunk, stage string, cause error) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.Publish(hermes.SubjectDegraded, hermes.DegradedEvent{
		SessionID:  chunk.SessionID,
		ChunkIndex: chunk.Index,
		Stage:      stage,
		Error:      cause.Error(),
	})
	if err != nil {
		p.logger.Warn("degraded telemetry publish failed", "stage", stage, "error", err)
	}
}

// PublishLateAnswer ships an assistance item that resolved after its chunk
// response went out. Wired into the answer waterfall's listen tier.
func (p *Pipeline) PublishLateAnswer(sessionID string, item assist.Item) {
	if p.publisher == nil {
		return
	}
	err := p.publisher.Publish(hermes.SubjectLateAnswer, hermes.LateAnswer{
		SessionID: sessionID,
		Item:      item,
	})
	if err != nil {
		p.logger.Warn("late answer publish failed", "session_id", sessionID, "error", err)
		return
	}
	p.logger.Info("late answer published",
		"session_id", sessionID,
		"type", string(item.Type),
		"source", item.AnswerSource,
	)
}
