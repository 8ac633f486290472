package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subjects sibyl listens on and publishes to.
const (
	// SubjectMeetingChunk carries transcript chunks from the chronicle
	// transcription service.
	SubjectMeetingChunk = "swarm.chronicle.meeting.chunk"

	// SubjectMeetingResponse carries the per-chunk response payload.
	SubjectMeetingResponse = "swarm.sibyl.meeting.response"

	// SubjectLateAnswer carries answers that arrived after the chunk
	// response already shipped (live-listen and model-fallback tiers).
	SubjectLateAnswer = "swarm.sibyl.assist.late_answer"

	// SubjectDegraded carries degraded-mode telemetry: a pipeline stage
	// failed and the chunk shipped without its output.
	SubjectDegraded = "swarm.sibyl.telemetry.degraded"

	// SubjectRegistered announces the agent to the swarm on startup.
	SubjectRegistered = "swarm.agent.sibyl.registered"
)

// Registration is the startup announcement payload.
type Registration struct {
	AgentID      string   `json:"agent_id"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	StartedAt    string   `json:"started_at"`
}

// DegradedEvent reports a pipeline stage that failed for a chunk. The chunk
// itself still shipped; this is the operational trail.
type DegradedEvent struct {
	SessionID  string `json:"session_id"`
	ChunkIndex int    `json:"chunk_index"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

// LateAnswer wraps an assistance item that resolved after its chunk response
// was published.
type LateAnswer struct {
	SessionID string `json:"session_id"`
	Item      any    `json:"item"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
