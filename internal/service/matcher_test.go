package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"manifest/internal/config"
	"manifest/internal/model"
	"manifest/internal/observability"
	"manifest/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore keeps intention rows in memory and serves canned search results
type fakeStore struct {
	mu sync.Mutex

	groups     map[string]string
	embeddings map[string][]float32
	known      map[string]bool

	similar     []model.Candidate
	similarErr  error
	fallback    []model.Candidate
	fallbackErr error
	setGroupErr error

	lastSimilar   model.SimilarityQuery
	fallbackToken string
	fallbackLimit int
	groupWrites   int
}

func newFakeStore(ids ...string) *fakeStore {
	s := &fakeStore{
		groups:     map[string]string{},
		embeddings: map[string][]float32{},
		known:      map[string]bool{},
	}
	for _, id := range ids {
		s.known[id] = true
	}
	return s
}

func (s *fakeStore) withGroup(id, group string) *fakeStore {
	s.known[id] = true
	s.groups[id] = group
	return s
}

func (s *fakeStore) UpdateEmbedding(_ context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known[id] {
		return repository.ErrNotFound
	}
	s.embeddings[id] = embedding
	return nil
}

func (s *fakeStore) SearchSimilar(_ context.Context, q model.SimilarityQuery) ([]model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSimilar = q
	return s.similar, s.similarErr
}

func (s *fakeStore) SearchByTitle(_ context.Context, token, _ string, limit int) ([]model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallbackToken = token
	s.fallbackLimit = limit
	return s.fallback, s.fallbackErr
}

func (s *fakeStore) SetGroup(_ context.Context, id, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setGroupErr != nil {
		return s.setGroupErr
	}
	s.groupWrites++
	s.groups[id] = groupID
	return nil
}

func (s *fakeStore) SetGroupBulk(_ context.Context, ids []string, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setGroupErr != nil {
		return s.setGroupErr
	}
	for _, id := range ids {
		s.groupWrites++
		s.groups[id] = groupID
	}
	return nil
}

func (s *fakeStore) groupOf(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id]
}

// stubEmbedder returns a fixed vector
type stubEmbedder struct {
	vec      []float32
	err      error
	calls    int
	lastText string
}

func (e *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls++
	e.lastText = text
	return e.vec, e.err
}

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e *stubEmbedder) Name() string { return "stub" }

func candidate(id string, group string) model.Candidate {
	c := model.Candidate{ID: id, Title: "title " + id}
	if group != "" {
		c.GroupID = &group
	}
	return c
}

var testMatching = config.MatchingConfig{Threshold: 0.83, MatchCount: 10, FallbackLimit: 10}

func newTestMatcher(store *fakeStore, embedder Embedder, metrics *observability.Collector) *Matcher {
	m := NewMatcher(store, embedder, testMatching, zap.NewNop(), metrics)
	n := 0
	m.newGroup = func() string {
		n++
		return fmt.Sprintf("new-group-%d", n)
	}
	return m
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	var me *MatchError
	require.True(t, errors.As(err, &me), "expected *MatchError, got %T: %v", err, err)
	assert.Equal(t, kind, me.Kind)
}

func TestMatcher_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		req  model.MatchRequest
	}{
		{"missing id", model.MatchRequest{Title: "Run"}},
		{"missing title", model.MatchRequest{IntentionID: "x"}},
		{"blank title", model.MatchRequest{IntentionID: "x", Title: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore("x")
			embedder := &stubEmbedder{vec: []float32{1}}
			m := newTestMatcher(store, embedder, nil)

			_, err := m.Match(context.Background(), tt.req)
			requireKind(t, err, KindInvalidRequest)
			assert.Zero(t, embedder.calls)
			assert.Empty(t, store.embeddings)
			assert.Zero(t, store.groupWrites)
		})
	}
}

func TestMatcher_EmbeddingFailure(t *testing.T) {
	tests := []struct {
		name     string
		embedder *stubEmbedder
	}{
		{"provider error", &stubEmbedder{err: errors.New("429 too many requests")}},
		{"no vector", &stubEmbedder{vec: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore("x")
			m := newTestMatcher(store, tt.embedder, nil)

			_, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "x", Title: "Run"})
			requireKind(t, err, KindEmbeddingFailure)
			assert.Empty(t, store.embeddings)
			assert.Zero(t, store.groupWrites)
		})
	}
}

func TestMatcher_QueryText(t *testing.T) {
	store := newFakeStore("x")
	embedder := &stubEmbedder{vec: []float32{1}}
	m := newTestMatcher(store, embedder, nil)

	_, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "x", Title: "Run a marathon", Description: "this year "})
	require.NoError(t, err)
	assert.Equal(t, "Run a marathon this year", embedder.lastText)

	_, err = m.Match(context.Background(), model.MatchRequest{IntentionID: "x", Title: "Run a marathon"})
	require.NoError(t, err)
	assert.Equal(t, "Run a marathon", embedder.lastText)
}

// Scenario A: two ungrouped intentions become one new group.
func TestMatcher_MintsGroupForUngroupedCandidates(t *testing.T) {
	store := newFakeStore("X", "Y")
	store.similar = []model.Candidate{candidate("Y", "")}
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{0.1, 0.2}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "X", Title: "Learn to paint"})
	require.NoError(t, err)

	assert.Equal(t, model.MatchResult{Grouped: true, GroupID: "new-group-1"}, result)
	assert.Equal(t, "new-group-1", store.groupOf("X"))
	assert.Equal(t, "new-group-1", store.groupOf("Y"))
	assert.Equal(t, []float32{0.1, 0.2}, store.embeddings["X"])
}

// Scenario B: joining an existing group leaves the other members alone.
func TestMatcher_JoinsExistingGroup(t *testing.T) {
	store := newFakeStore("W").withGroup("Z", "G1")
	store.similar = []model.Candidate{candidate("Z", "G1")}
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "W", Title: "Write a novel"})
	require.NoError(t, err)

	assert.Equal(t, model.MatchResult{Grouped: true, GroupID: "G1"}, result)
	assert.Equal(t, "G1", store.groupOf("W"))
	assert.Equal(t, "G1", store.groupOf("Z"))
	assert.Equal(t, 1, store.groupWrites)
}

// Scenario C: nothing similar, only the embedding is written.
func TestMatcher_NoCandidates(t *testing.T) {
	store := newFakeStore("W")
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "W", Title: "Visit Lisbon"})
	require.NoError(t, err)

	assert.Equal(t, model.Ungrouped, result)
	assert.Contains(t, store.embeddings, "W")
	assert.Zero(t, store.groupWrites)
}

// Scenario D: vector search fails, title fallback finds an existing group.
func TestMatcher_FallbackJoinsGroup(t *testing.T) {
	store := newFakeStore("W").withGroup("R", "G2")
	store.similarErr = repository.ErrSearchUnavailable
	store.fallback = []model.Candidate{candidate("R", "G2")}
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "W", Title: "Meditate every morning"})
	require.NoError(t, err)

	assert.Equal(t, model.MatchResult{Grouped: true, GroupID: "G2"}, result)
	assert.Equal(t, "G2", store.groupOf("W"))
	assert.Equal(t, "Meditate", store.fallbackToken)
	assert.Equal(t, 10, store.fallbackLimit)
}

func TestMatcher_FallbackMintsGroup(t *testing.T) {
	store := newFakeStore("W", "A", "B")
	store.similarErr = errors.New("function match_intentions does not exist")
	store.fallback = []model.Candidate{candidate("A", ""), candidate("B", "")}
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "W", Title: "Cook more"})
	require.NoError(t, err)

	assert.Equal(t, "new-group-1", result.GroupID)
	for _, id := range []string{"W", "A", "B"} {
		assert.Equal(t, "new-group-1", store.groupOf(id), id)
	}
}

func TestMatcher_FallbackEmpty(t *testing.T) {
	store := newFakeStore("W")
	store.similarErr = repository.ErrSearchUnavailable
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "W", Title: "Cook more"})
	require.NoError(t, err)
	assert.Equal(t, model.Ungrouped, result)
	assert.Zero(t, store.groupWrites)
}

func TestMatcher_FallbackError(t *testing.T) {
	store := newFakeStore("W")
	store.similarErr = repository.ErrSearchUnavailable
	store.fallbackErr = errors.New("connection reset")
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	_, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "W", Title: "Cook more"})
	requireKind(t, err, KindUnexpected)
	// The embedding write is not rolled back.
	assert.Contains(t, store.embeddings, "W")
}

func TestMatcher_FirstGroupedCandidateWins(t *testing.T) {
	store := newFakeStore("Q", "A").withGroup("B", "G1").withGroup("C", "G2")
	store.similar = []model.Candidate{candidate("A", ""), candidate("B", "G1"), candidate("C", "G2")}
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "Q", Title: "Swim"})
	require.NoError(t, err)

	assert.Equal(t, "G1", result.GroupID)
	assert.Empty(t, store.groupOf("A"), "ungrouped candidates are not stamped when joining")
	assert.Equal(t, "G2", store.groupOf("C"))
}

func TestMatcher_SearchParameters(t *testing.T) {
	store := newFakeStore("Q")
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{0.5}}, nil)

	_, err := m.Match(context.Background(), model.MatchRequest{IntentionID: " Q ", Title: "Swim"})
	require.NoError(t, err)

	assert.Equal(t, 0.83, store.lastSimilar.Threshold)
	assert.Equal(t, 10, store.lastSimilar.Limit)
	assert.Equal(t, "Q", store.lastSimilar.ExcludeID)
	assert.Equal(t, []float32{0.5}, store.lastSimilar.Embedding)
}

func TestMatcher_IgnoresSelfMatch(t *testing.T) {
	store := newFakeStore("Q")
	store.similar = []model.Candidate{candidate("Q", "")}
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "Q", Title: "Swim"})
	require.NoError(t, err)
	assert.Equal(t, model.Ungrouped, result)
}

func TestMatcher_UnknownIntention(t *testing.T) {
	store := newFakeStore()
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	_, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "ghost", Title: "Swim"})
	requireKind(t, err, KindNotFound)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMatcher_GroupWriteFailure(t *testing.T) {
	store := newFakeStore("Q", "A")
	store.similar = []model.Candidate{candidate("A", "")}
	store.setGroupErr = errors.New("deadlock detected")
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, nil)

	_, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "Q", Title: "Swim"})
	requireKind(t, err, KindUnexpected)
	assert.Contains(t, store.embeddings, "Q")
}

func TestMatcher_MintedGroupIsFreshUUID(t *testing.T) {
	store := newFakeStore("Q", "A").withGroup("Z", "G-existing")
	store.similar = []model.Candidate{candidate("A", "")}
	m := NewMatcher(store, &stubEmbedder{vec: []float32{1}}, testMatching, zap.NewNop(), nil)

	result, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "Q", Title: "Swim"})
	require.NoError(t, err)

	_, err = uuid.Parse(result.GroupID)
	require.NoError(t, err)

	existing := make([]string, 0)
	for id, g := range store.groups {
		if id != "Q" && id != "A" {
			existing = append(existing, g)
		}
	}
	sort.Strings(existing)
	assert.NotContains(t, existing, result.GroupID)
}

func TestMatcher_RecordsMetrics(t *testing.T) {
	metrics := observability.NewCollector("test")

	store := newFakeStore("Q", "A")
	store.similar = []model.Candidate{candidate("A", "")}
	m := newTestMatcher(store, &stubEmbedder{vec: []float32{1}}, metrics)
	_, err := m.Match(context.Background(), model.MatchRequest{IntentionID: "Q", Title: "Swim"})
	require.NoError(t, err)

	fallbackStore := newFakeStore("W").withGroup("R", "G2")
	fallbackStore.similarErr = repository.ErrSearchUnavailable
	fallbackStore.fallback = []model.Candidate{candidate("R", "G2")}
	m = newTestMatcher(fallbackStore, &stubEmbedder{vec: []float32{1}}, metrics)
	_, err = m.Match(context.Background(), model.MatchRequest{IntentionID: "W", Title: "Swim"})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MatchOutcomes.WithLabelValues("vector", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MatchOutcomes.WithLabelValues("fallback", "joined")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.MatchFallbacks))
}
