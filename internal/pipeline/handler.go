package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/hermes"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

const (
	// chunkQueueDepth bounds how far one session may fall behind before
	// its chunks are shed. Chunks arrive every few seconds; a full queue
	// means processing has been stuck for minutes.
	chunkQueueDepth = 64
	// queueIdleAfter is how long a session's worker lingers after its
	// last chunk before it is torn down.
	queueIdleAfter = time.Minute
)

var errQueueFull = errors.New("chunk queue full")

// HandleMeetingChunk is the NATS handler for swarm.chronicle.meeting.chunk.
// NATS delivers a subscription's messages on one goroutine, so the handler
// only parses and hands the chunk to its session's worker: chunks within a
// session stay ordered while sessions proceed in parallel.
func (p *Pipeline) HandleMeetingChunk(subject string, data []byte) {
	var chunk session.Chunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		p.logger.Error("failed to parse chunk payload", "subject", subject, "error", err)
		return
	}
	if chunk.SessionID == "" {
		p.logger.Error("chunk without session_id dropped", "subject", subject)
		return
	}
	p.dispatch(chunk)
}

// dispatch enqueues the chunk on its session's worker, starting one on first
// sight. The enqueue happens under queueMu so a worker tearing itself down
// cannot strand a chunk.
func (p *Pipeline) dispatch(chunk session.Chunk) {
	p.queueMu.Lock()
	q, ok := p.queues[chunk.SessionID]
	if !ok {
		q = make(chan session.Chunk, chunkQueueDepth)
		p.queues[chunk.SessionID] = q
		go p.drainChunks(chunk.SessionID, q)
	}
	select {
	case q <- chunk:
		p.queueMu.Unlock()
	default:
		p.queueMu.Unlock()
		p.logger.Error("chunk queue full, shedding",
			"session_id", chunk.SessionID, "chunk_index", chunk.Index)
		p.degraded(chunk, "backpressure", errQueueFull)
	}
}

// drainChunks processes one session's chunks in arrival order, then retires
// itself once the session goes quiet.
func (p *Pipeline) drainChunks(id string, q chan session.Chunk) {
	idle := time.NewTimer(queueIdleAfter)
	defer idle.Stop()
	for {
		select {
		case chunk := <-q:
			p.processAndPublish(chunk)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(queueIdleAfter)
		case <-idle.C:
			p.queueMu.Lock()
			if len(q) == 0 {
				delete(p.queues, id)
				p.queueMu.Unlock()
				return
			}
			p.queueMu.Unlock()
			idle.Reset(queueIdleAfter)
		}
	}
}

func (p *Pipeline) processAndPublish(chunk session.Chunk) {
	resp, err := p.ProcessChunk(context.Background(), chunk)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrOutOfOrderChunk):
			p.logger.Warn("out-of-order chunk rejected",
				"session_id", chunk.SessionID, "chunk_index", chunk.Index)
			p.degraded(chunk, "ordering", err)
		case errors.Is(err, session.ErrSessionFinalized):
			p.logger.Warn("chunk for finalized session rejected",
				"session_id", chunk.SessionID, "chunk_index", chunk.Index)
			p.degraded(chunk, "lifecycle", err)
		default:
			p.logger.Error("chunk processing failed",
				"session_id", chunk.SessionID, "chunk_index", chunk.Index, "error", err)
		}
		return
	}

	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(hermes.SubjectMeetingResponse, resp); err != nil {
		p.logger.Error("response publish failed",
			"session_id", chunk.SessionID, "chunk_index", chunk.Index, "error", err)
	}
}

// FinalizeSession tears a session down on behalf of the API layer.
func (p *Pipeline) FinalizeSession(id string) error {
	return p.sessions.Finalize(id)
}

// ActiveSessions lists live session ids for the status endpoint.
func (p *Pipeline) ActiveSessions() []string {
	return p.sessions.ActiveIDs()
}
