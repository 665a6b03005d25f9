package service

import (
	"context"
	"errors"
	"strings"

	"manifest/internal/config"
	"manifest/internal/model"
	"manifest/internal/observability"
	"manifest/internal/repository"
	"manifest/internal/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Search paths, used as metric labels
const (
	pathVector   = "vector"
	pathFallback = "fallback"
)

// IntentionStore is the persistence the matcher works against
type IntentionStore interface {
	UpdateEmbedding(ctx context.Context, intentionID string, embedding []float32) error
	SearchSimilar(ctx context.Context, q model.SimilarityQuery) ([]model.Candidate, error)
	SearchByTitle(ctx context.Context, token, excludeID string, limit int) ([]model.Candidate, error)
	SetGroup(ctx context.Context, intentionID, groupID string) error
	SetGroupBulk(ctx context.Context, intentionIDs []string, groupID string) error
}

// Matcher groups a newly submitted intention with semantically close ones.
//
// Each call embeds the intention, persists the embedding, searches for similar
// intentions and then either joins the first candidate that already has a
// group or mints a new group for the query and every candidate. Calls are not
// serialized against each other: two concurrent submissions of similar text
// can each mint their own group.
type Matcher struct {
	store    IntentionStore
	embedder Embedder
	cfg      config.MatchingConfig
	logger   *zap.Logger
	metrics  *observability.Collector
	newGroup func() string
}

// NewMatcher creates a matcher. metrics may be nil.
func NewMatcher(store IntentionStore, embedder Embedder, cfg config.MatchingConfig, logger *zap.Logger, metrics *observability.Collector) *Matcher {
	return &Matcher{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "matcher")),
		metrics:  metrics,
		newGroup: func() string { return uuid.NewString() },
	}
}

// Match assigns req's intention to a group if similar intentions exist.
// Failures are returned as *MatchError. Writes that completed before a
// failure are not rolled back.
func (m *Matcher) Match(ctx context.Context, req model.MatchRequest) (model.MatchResult, error) {
	intentionID := strings.TrimSpace(req.IntentionID)
	title := strings.TrimSpace(req.Title)
	if intentionID == "" || title == "" {
		return model.MatchResult{}, matchError(KindInvalidRequest, "Missing fields", nil)
	}

	log := m.logger.With(zap.String("intention_id", intentionID))

	vector, err := m.embedder.Embed(ctx, utils.QueryText(req.Title, req.Description))
	if err == nil && len(vector) == 0 {
		err = ErrNoVector
	}
	if err != nil {
		log.Error("embedding failed", zap.String("provider", m.embedder.Name()), zap.Error(err))
		return model.MatchResult{}, matchError(KindEmbeddingFailure, "Embedding failed", err)
	}

	if err := m.store.UpdateEmbedding(ctx, intentionID, vector); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.MatchResult{}, matchError(KindNotFound, "Intention not found", err)
		}
		return model.MatchResult{}, matchError(KindUnexpected, "failed to persist embedding", err)
	}

	path := pathVector
	candidates, err := m.store.SearchSimilar(ctx, model.SimilarityQuery{
		Embedding: vector,
		Threshold: m.cfg.Threshold,
		Limit:     m.cfg.MatchCount,
		ExcludeID: intentionID,
	})
	if err != nil {
		path = pathFallback
		m.metrics.IncFallback()
		token := utils.FirstToken(title)
		log.Warn("similarity search unavailable, falling back to title search",
			zap.String("token", token),
			zap.Error(err),
		)

		candidates, err = m.store.SearchByTitle(ctx, token, intentionID, m.cfg.FallbackLimit)
		if err != nil {
			return model.MatchResult{}, matchError(KindUnexpected, "fallback search failed", err)
		}
	}

	result, err := m.resolve(ctx, intentionID, withoutID(candidates, intentionID))
	if err != nil {
		return model.MatchResult{}, matchError(KindUnexpected, "failed to assign group", err)
	}

	outcome := outcomeLabel(result, candidates)
	m.metrics.ObserveMatch(path, outcome)
	log.Info("intention matched",
		zap.String("path", path),
		zap.String("outcome", outcome),
		zap.Int("candidates", len(candidates)),
		zap.String("group_id", result.GroupID),
	)
	return result, nil
}

// resolve applies the grouping policy: the first candidate carrying a group
// wins, otherwise a new group is stamped onto the query and all candidates.
func (m *Matcher) resolve(ctx context.Context, intentionID string, candidates []model.Candidate) (model.MatchResult, error) {
	if len(candidates) == 0 {
		return model.Ungrouped, nil
	}

	for _, c := range candidates {
		if c.GroupID == nil || *c.GroupID == "" {
			continue
		}
		if err := m.store.SetGroup(ctx, intentionID, *c.GroupID); err != nil {
			return model.MatchResult{}, err
		}
		return model.MatchResult{Grouped: true, GroupID: *c.GroupID}, nil
	}

	groupID := m.newGroup()
	ids := make([]string, 0, len(candidates)+1)
	ids = append(ids, intentionID)
	for _, c := range candidates {
		ids = append(ids, c.ID)
	}
	if err := m.store.SetGroupBulk(ctx, ids, groupID); err != nil {
		return model.MatchResult{}, err
	}
	return model.MatchResult{Grouped: true, GroupID: groupID}, nil
}

// withoutID drops the query intention and duplicate rows, keeping search order
func withoutID(candidates []model.Candidate, id string) []model.Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.ID == id {
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func outcomeLabel(result model.MatchResult, candidates []model.Candidate) string {
	if !result.Grouped {
		return "ungrouped"
	}
	for _, c := range candidates {
		if c.GroupID != nil && *c.GroupID == result.GroupID {
			return "joined"
		}
	}
	return "created"
}
