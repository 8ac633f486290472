package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
)

// ErrMalformedOutput marks a model response that failed schema validation.
// Callers skip the chunk's extraction and continue; the session survives.
var ErrMalformedOutput = errors.New("malformed model output")

// Completer is the slice of the LLM client the extractor needs.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

type Extractor struct {
	llm    Completer
	logger *slog.Logger
}

func New(llm Completer, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

type llmResponse struct {
	Insights []llmInsight `json:"insights"`
}

type llmInsight struct {
	Kind       string  `json:"kind"`
	Content    string  `json:"content"`
	Speaker    string  `json:"speaker"`
	Topic      string  `json:"topic"`
	Confidence float64 `json:"confidence"`
}

// Extract runs one extraction pass over the current fragment. windowText is the
// rendered recent-utterance window used for pronoun/topic resolution only.
// Returns zero insights without error when the fragment holds nothing.
func (e *Extractor) Extract(ctx context.Context, sessionID string, chunkIndex int, speaker, text, windowText string) ([]Insight, error) {
	prompt := fmt.Sprintf(extractionUserPrompt, windowText, speaker, text)

	messages := []anthropic.Message{
		{Role: "user", Content: prompt},
	}

	raw, err := e.llm.Complete(ctx, systemPrompt, messages, 4096)
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}

	parsed, err := parseExtraction(raw)
	if err != nil {
		e.logger.Error("failed to parse extraction response",
			"session_id", sessionID,
			"chunk_index", chunkIndex,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	now := time.Now().UTC()
	insights := make([]Insight, 0, len(parsed.Insights))
	for i, item := range parsed.Insights {
		kind := Kind(item.Kind)
		if !kind.Valid() || strings.TrimSpace(item.Content) == "" {
			e.logger.Warn("dropping non-conforming insight",
				"session_id", sessionID,
				"chunk_index", chunkIndex,
				"kind", item.Kind,
			)
			continue
		}
		insights = append(insights, Insight{
			ID:         NewID(sessionID, chunkIndex, i),
			SessionID:  sessionID,
			ChunkIndex: chunkIndex,
			Kind:       kind,
			Content:    strings.TrimSpace(item.Content),
			Speaker:    item.Speaker,
			Topic:      item.Topic,
			Confidence: clamp01(item.Confidence),
			CreatedAt:  now,
		})
	}

	e.logger.Info("extraction complete",
		"session_id", sessionID,
		"chunk_index", chunkIndex,
		"insights", len(insights),
	)

	return insights, nil
}

// parseExtraction validates the raw model output. Models occasionally wrap the
// JSON in markdown fences despite instructions; strip them before decoding.
func parseExtraction(raw string) (*llmResponse, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &resp, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
