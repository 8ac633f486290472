package dedup

import (
	"log/slog"
	"math"
	"strings"

	"github.com/MikeSquared-Agency/sibyl/internal/insight"
)

// MergeStrategy decides what happens to a near-duplicate that carries new
// information. The exact policy is deliberately configurable.
type MergeStrategy string

const (
	// MergeAnnotate emits an update annotation pointing at the original
	// insight, with the duplicate's content attached. Default.
	MergeAnnotate MergeStrategy = "annotate"
	// MergeAppend emits an annotation whose content is the original text
	// extended with the duplicate's.
	MergeAppend MergeStrategy = "append"
	// MergeReplace emits an annotation whose content supersedes the original.
	MergeReplace MergeStrategy = "replace"
)

// Update annotates an earlier insight instead of re-emitting a duplicate.
type Update struct {
	OriginalID  string  `json:"original_id"`
	DuplicateID string  `json:"duplicate_id"`
	Content     string  `json:"content"`
	Similarity  float64 `json:"similarity"`
	Strategy    string  `json:"strategy"`
}

// Result splits candidates into genuinely new insights and updates to old ones.
type Result struct {
	Fresh   []insight.Insight
	Updates []Update
	Dropped int // exact repeats, silently discarded
}

// Deduplicator filters near-duplicate insights against a session's bounded
// history using a nearest-neighbor cosine scan. No external index: the history
// is small by construction.
type Deduplicator struct {
	threshold float64
	strategy  MergeStrategy
	logger    *slog.Logger
}

func New(threshold float64, strategy MergeStrategy, logger *slog.Logger) *Deduplicator {
	if strategy == "" {
		strategy = MergeAnnotate
	}
	return &Deduplicator{threshold: threshold, strategy: strategy, logger: logger}
}

// Filter scans each candidate against the history. Candidates whose nearest
// historical neighbor scores at or above the threshold are duplicates: exact
// repeats are dropped, repeats carrying new wording become Updates. Candidates
// without a fingerprint pass through untouched (embedding failed upstream;
// fail soft rather than lose the insight).
func (d *Deduplicator) Filter(candidates, history []insight.Insight) Result {
	var res Result

	for _, cand := range candidates {
		if len(cand.Fingerprint) == 0 {
			res.Fresh = append(res.Fresh, cand)
			continue
		}

		best, bestScore := d.nearest(cand, history)
		// Also scan insights accepted earlier in this same batch, so a chunk
		// repeating itself doesn't emit twins.
		if b2, s2 := d.nearest(cand, res.Fresh); s2 > bestScore {
			best, bestScore = b2, s2
		}

		if best == nil || bestScore < d.threshold {
			res.Fresh = append(res.Fresh, cand)
			continue
		}

		if sameText(cand.Content, best.Content) {
			res.Dropped++
			d.logger.Debug("dropped exact duplicate",
				"session_id", cand.SessionID,
				"duplicate_of", best.ID,
				"similarity", bestScore,
			)
			continue
		}

		res.Updates = append(res.Updates, Update{
			OriginalID:  best.ID,
			DuplicateID: cand.ID,
			Content:     d.mergedContent(best.Content, cand.Content),
			Similarity:  bestScore,
			Strategy:    string(d.strategy),
		})
	}

	return res
}

func (d *Deduplicator) nearest(cand insight.Insight, pool []insight.Insight) (*insight.Insight, float64) {
	var best *insight.Insight
	bestScore := -1.0
	for i := range pool {
		other := &pool[i]
		if other.Kind != cand.Kind || len(other.Fingerprint) == 0 {
			continue
		}
		score := CosineSimilarity(cand.Fingerprint, other.Fingerprint)
		if score > bestScore {
			best, bestScore = other, score
		}
	}
	return best, bestScore
}

func (d *Deduplicator) mergedContent(original, duplicate string) string {
	switch d.strategy {
	case MergeAppend:
		return original + " " + duplicate
	case MergeReplace:
		return duplicate
	default:
		return duplicate
	}
}

func sameText(a, b string) bool {
	norm := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), " ")
	}
	return norm(a) == norm(b)
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// for mismatched or empty inputs.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
