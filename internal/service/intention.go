package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"manifest/internal/config"
	"manifest/internal/model"
	"manifest/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidInput is returned for requests that fail validation
var ErrInvalidInput = errors.New("invalid input")

const (
	defaultTimelineLimit = 50
	maxTimelineLimit     = 100
	defaultBackfillLimit = 500
	maxBackfillLimit     = 5000
)

// TimelineStore is the persistence behind the intention feed
type TimelineStore interface {
	CreateIntention(ctx context.Context, in model.NewIntention) (*model.Intention, error)
	GetIntention(ctx context.Context, intentionID string) (*model.Intention, error)
	ListRecentIntentions(ctx context.Context, limit int) ([]model.Intention, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]model.Intention, error)
	AddComment(ctx context.Context, intentionID, authorID, text string) (*model.Comment, error)
	ListComments(ctx context.Context, intentionIDs []string) ([]model.Comment, error)
	ListUnembedded(ctx context.Context, limit int) ([]model.Intention, error)
	BatchUpdateEmbeddings(ctx context.Context, items []model.EmbeddingItem) (int, []string)
}

// IntentionMatcher is satisfied by *Matcher
type IntentionMatcher interface {
	Match(ctx context.Context, req model.MatchRequest) (model.MatchResult, error)
}

// IntentionService handles intention creation, the timeline and comments
type IntentionService struct {
	store    TimelineStore
	matcher  IntentionMatcher
	embedder Embedder
	backfill config.BackfillConfig
	logger   *zap.Logger
}

// NewIntentionService creates a new intention service
func NewIntentionService(
	store TimelineStore,
	matcher IntentionMatcher,
	embedder Embedder,
	backfill config.BackfillConfig,
	logger *zap.Logger,
) *IntentionService {
	return &IntentionService{
		store:    store,
		matcher:  matcher,
		embedder: embedder,
		backfill: backfill,
		logger:   logger.With(zap.String("component", "intentions")),
	}
}

// CreateIntention stores a new intention and matches it. A failed match does
// not fail the request: the intention is kept and reported as ungrouped.
func (s *IntentionService) CreateIntention(ctx context.Context, req model.CreateIntentionRequest) (*model.CreateIntentionResponse, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	description := strings.TrimSpace(req.Description)

	intention, err := s.store.CreateIntention(ctx, model.NewIntention{
		Title:       title,
		Description: description,
		OwnerID:     req.OwnerID,
	})
	if err != nil {
		return nil, err
	}

	resp := &model.CreateIntentionResponse{Intention: intention, Match: model.Ungrouped}

	result, err := s.matcher.Match(ctx, model.MatchRequest{
		IntentionID: intention.ID,
		Title:       title,
		Description: description,
	})
	if err != nil {
		s.logger.Warn("matching new intention failed", zap.String("intention_id", intention.ID), zap.Error(err))
		resp.MatchError = err.Error()
		return resp, nil
	}

	resp.Match = result
	if result.Grouped {
		groupID := result.GroupID
		intention.GroupID = &groupID
	}
	return resp, nil
}

// GetIntention returns one intention
func (s *IntentionService) GetIntention(ctx context.Context, intentionID string) (*model.Intention, error) {
	return s.store.GetIntention(ctx, intentionID)
}

// Timeline returns the newest intentions with their comments
func (s *IntentionService) Timeline(ctx context.Context, limit int) (*model.TimelineResponse, error) {
	if limit <= 0 {
		limit = defaultTimelineLimit
	}
	if limit > maxTimelineLimit {
		limit = maxTimelineLimit
	}

	intentions, err := s.store.ListRecentIntentions(ctx, limit)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(intentions))
	for i, intention := range intentions {
		ids[i] = intention.ID
	}

	comments, err := s.store.ListComments(ctx, ids)
	if err != nil {
		return nil, err
	}

	byIntention := make(map[string][]model.Comment, len(intentions))
	for _, c := range comments {
		byIntention[c.IntentionID] = append(byIntention[c.IntentionID], c)
	}

	entries := make([]model.TimelineEntry, len(intentions))
	for i, intention := range intentions {
		cs := byIntention[intention.ID]
		if cs == nil {
			cs = []model.Comment{}
		}
		entries[i] = model.TimelineEntry{Intention: intention, Comments: cs}
	}

	return &model.TimelineResponse{Intentions: entries, Count: len(entries)}, nil
}

// Group returns the members of a group, newest first
func (s *IntentionService) Group(ctx context.Context, groupID string) (*model.GroupResponse, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, fmt.Errorf("%w: group id is required", ErrInvalidInput)
	}

	members, err := s.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = []model.Intention{}
	}
	return &model.GroupResponse{GroupID: groupID, Members: members, Count: len(members)}, nil
}

// AddComment attaches a comment to an intention
func (s *IntentionService) AddComment(ctx context.Context, intentionID, authorID, text string) (*model.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment text is required", ErrInvalidInput)
	}
	return s.store.AddComment(ctx, intentionID, authorID, text)
}

// Backfill computes embeddings for intentions that do not have one yet.
// Batches run concurrently; a failing batch is reported and does not stop
// the others.
func (s *IntentionService) Backfill(ctx context.Context, limit int) (*model.BackfillResponse, error) {
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	if limit > maxBackfillLimit {
		limit = maxBackfillLimit
	}

	pending, err := s.store.ListUnembedded(ctx, limit)
	if err != nil {
		return nil, err
	}

	resp := &model.BackfillResponse{}
	if len(pending) == 0 {
		return resp, nil
	}

	var mu sync.Mutex
	record := func(success, failed int, errs ...string) {
		mu.Lock()
		defer mu.Unlock()
		resp.Success += success
		resp.Failed += failed
		resp.Errors = append(resp.Errors, errs...)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.backfill.Concurrency)

	for start := 0; start < len(pending); start += s.backfill.BatchSize {
		end := start + s.backfill.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				record(0, len(batch), err.Error())
				return err
			}

			texts := make([]string, len(batch))
			for i, intention := range batch {
				texts[i] = utils.QueryText(intention.Title, deref(intention.Description))
			}

			vectors, err := s.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				s.logger.Warn("backfill batch failed", zap.Int("size", len(batch)), zap.Error(err))
				record(0, len(batch), fmt.Sprintf("embedding batch of %d: %v", len(batch), err))
				return nil
			}

			items := make([]model.EmbeddingItem, 0, len(batch))
			var errs []string
			for i, intention := range batch {
				if i >= len(vectors) || len(vectors[i]) == 0 {
					errs = append(errs, fmt.Sprintf("intention %s: %v", intention.ID, ErrNoVector))
					continue
				}
				items = append(items, model.EmbeddingItem{IntentionID: intention.ID, Embedding: vectors[i]})
			}

			success, updateErrs := s.store.BatchUpdateEmbeddings(gctx, items)
			record(success, len(batch)-success, append(errs, updateErrs...)...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return resp, err
	}

	s.logger.Info("backfill finished",
		zap.Int("success", resp.Success),
		zap.Int("failed", resp.Failed),
	)
	return resp, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
