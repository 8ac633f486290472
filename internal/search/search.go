// Package search defines the semantic-search collaborator contract consumed
// by the answer waterfall, conflict detector, and follow-up suggester. The
// production implementation lives in internal/store; tests fake it.
package search

import (
	"context"
	"time"
)

// Corpus selects which indexed content a query runs against.
type Corpus string

const (
	// CorpusKnowledge is the organization's indexed historical content.
	CorpusKnowledge Corpus = "knowledge"
	// CorpusDecisions is past decision-type insights only.
	CorpusDecisions Corpus = "decisions"
	// CorpusOpenItems is unresolved action items and open questions.
	CorpusOpenItems Corpus = "open_items"
)

// Scope narrows a query to one project/organization.
type Scope struct {
	OrganizationID string
	ProjectID      string
	Corpus         Corpus
}

// Match is one scored search hit with citation metadata.
type Match struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Source   string            `json:"source"`
	Date     time.Time         `json:"date"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Searcher runs a scoped semantic search. Implementations must honor ctx
// deadlines; on expiry callers treat the tier as empty, never as fatal.
type Searcher interface {
	Search(ctx context.Context, query string, scope Scope, topK int) ([]Match, error)
}
