package insight

import (
	"fmt"
	"time"
)

// Kind is the insight taxonomy. Every extraction carries exactly one kind.
type Kind string

const (
	KindQuestion   Kind = "question"
	KindDecision   Kind = "decision"
	KindActionItem Kind = "action_item"
	KindRisk       Kind = "risk"
	KindKeyPoint   Kind = "key_point"
)

// Valid reports whether k is a known insight kind.
func (k Kind) Valid() bool {
	switch k {
	case KindQuestion, KindDecision, KindActionItem, KindRisk, KindKeyPoint:
		return true
	}
	return false
}

// Insight is a single typed extraction from a transcript chunk. Append-only:
// once created it is never mutated, only referenced by assistance items and
// dedup annotations.
type Insight struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	ChunkIndex  int       `json:"chunk_index"`
	Kind        Kind      `json:"type"`
	Content     string    `json:"content"`
	Speaker     string    `json:"speaker,omitempty"`
	Topic       string    `json:"topic,omitempty"`
	Confidence  float64   `json:"confidence"`
	Fingerprint []float64 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewID builds the stable per-session insight id from its coordinates.
// The ordinal distinguishes multiple insights extracted from one chunk.
func NewID(sessionID string, chunkIndex, ordinal int) string {
	return fmt.Sprintf("%s:%d:%d", sessionID, chunkIndex, ordinal)
}
