package assist

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/sibyl/internal/anthropic"
	"github.com/MikeSquared-Agency/sibyl/internal/search"
	"github.com/MikeSquared-Agency/sibyl/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSearcher returns canned matches per corpus and records queries.
type fakeSearcher struct {
	mu      sync.Mutex
	matches map[search.Corpus][]search.Match
	err     error
	queries []search.Scope
}

func (f *fakeSearcher) Search(_ context.Context, _ string, scope search.Scope, _ int) ([]search.Match, error) {
	f.mu.Lock()
	f.queries = append(f.queries, scope)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.matches[scope.Corpus], nil
}

// fakeLLM returns canned responses in order and records calls.
type fakeLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
}

func (f *fakeLLM) next() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.calls >= len(f.responses) {
		return "{}", nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLLM) Complete(_ context.Context, _ string, _ []anthropic.Message, _ int) (string, error) {
	return f.next()
}

func (f *fakeLLM) CompleteWithTemperature(_ context.Context, _ string, _ []anthropic.Message, _ int, _ float64) (string, error) {
	return f.next()
}

func testSession(t *testing.T) *session.Session {
	t.Helper()
	m := session.NewManager(context.Background(), 50, 200, discardLogger())
	s, err := m.GetOrCreate(session.Chunk{
		SessionID:      "s1",
		ProjectID:      "p1",
		OrganizationID: "org1",
		Index:          0,
		Timestamp:      time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	return s
}
