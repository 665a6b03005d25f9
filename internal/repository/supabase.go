package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"manifest/internal/model"
	"manifest/internal/utils"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
)

// ErrSearchUnavailable is returned when the vector search RPC cannot be used
var ErrSearchUnavailable = errors.New("similarity search unavailable")

const (
	intentionsTable = "intentions"
	commentsTable   = "comments"
	matchRPC        = "match_intentions"
)

// SupabaseRepository stores intentions through the Supabase PostgREST API.
// The PostgREST client has no context support, so ctx is only checked
// before each call.
type SupabaseRepository struct {
	client *supabase.Client
}

// NewSupabaseRepository creates a repository backed by a Supabase project
func NewSupabaseRepository(client *supabase.Client) *SupabaseRepository {
	return &SupabaseRepository{client: client}
}

// UpdateEmbedding writes the embedding vector for an intention
func (r *SupabaseRepository) UpdateEmbedding(ctx context.Context, intentionID string, embedding []float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, _, err := r.client.From(intentionsTable).
		Update(map[string]any{"embedding": embedding}, "representation", "").
		Eq("id", intentionID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return requireRepresentation(body)
}

// SearchSimilar calls the match_intentions RPC. Anything other than a JSON
// array back from PostgREST is reported as ErrSearchUnavailable.
func (r *SupabaseRepository) SearchSimilar(ctx context.Context, q model.SimilarityQuery) ([]model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := map[string]any{
		"query_embedding": q.Embedding,
		"match_threshold": q.Threshold,
		"match_count":     q.Limit,
		"exclude_id":      nullIfEmpty(q.ExcludeID),
	}
	return parseMatchResult(r.client.Rpc(matchRPC, "", params))
}

// SearchByTitle is the degraded substring lookup over titles
func (r *SupabaseRepository) SearchByTitle(ctx context.Context, token, excludeID string, limit int) ([]model.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := r.client.From(intentionsTable).
		Select("id,title,group_id", "", false).
		Ilike("title", utils.ContainsPattern(token))
	if excludeID != "" {
		query = query.Neq("id", excludeID)
	}

	var candidates []model.Candidate
	_, err := query.
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to run title search: %w", err)
	}
	return candidates, nil
}

// SetGroup assigns a group identifier to one intention
func (r *SupabaseRepository) SetGroup(ctx context.Context, intentionID, groupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, _, err := r.client.From(intentionsTable).
		Update(map[string]any{"group_id": groupID}, "representation", "").
		Eq("id", intentionID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to set group: %w", err)
	}
	return requireRepresentation(body)
}

// SetGroupBulk assigns a group identifier to every listed intention in one request
func (r *SupabaseRepository) SetGroupBulk(ctx context.Context, intentionIDs []string, groupID string) error {
	if len(intentionIDs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := r.client.From(intentionsTable).
		Update(map[string]any{"group_id": groupID}, "minimal", "").
		In("id", intentionIDs).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to set group for %d intentions: %w", len(intentionIDs), err)
	}
	return nil
}

// CreateIntention inserts a new intention and returns the stored row
func (r *SupabaseRepository) CreateIntention(ctx context.Context, in model.NewIntention) (*model.Intention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := map[string]any{
		"title":       in.Title,
		"description": nullIfEmpty(in.Description),
		"owner_id":    nullIfEmpty(in.OwnerID),
	}
	var created []model.Intention
	_, err := r.client.From(intentionsTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&created)
	if err != nil {
		return nil, fmt.Errorf("failed to create intention: %w", err)
	}
	if len(created) == 0 {
		return nil, errors.New("failed to create intention: empty response")
	}
	return &created[0], nil
}

// GetIntention retrieves a single intention by its ID
func (r *SupabaseRepository) GetIntention(ctx context.Context, intentionID string) (*model.Intention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []model.Intention
	_, err := r.client.From(intentionsTable).
		Select(intentionColumnList(), "", false).
		Eq("id", intentionID).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to get intention: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// ListRecentIntentions returns the newest intentions first
func (r *SupabaseRepository) ListRecentIntentions(ctx context.Context, limit int) ([]model.Intention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []model.Intention
	_, err := r.client.From(intentionsTable).
		Select(intentionColumnList(), "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list intentions: %w", err)
	}
	return rows, nil
}

// ListGroupMembers returns every intention carrying the group identifier
func (r *SupabaseRepository) ListGroupMembers(ctx context.Context, groupID string) ([]model.Intention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []model.Intention
	_, err := r.client.From(intentionsTable).
		Select(intentionColumnList(), "", false).
		Eq("group_id", groupID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return rows, nil
}

// AddComment inserts a comment on an existing intention
func (r *SupabaseRepository) AddComment(ctx context.Context, intentionID, authorID, text string) (*model.Comment, error) {
	if _, err := r.GetIntention(ctx, intentionID); err != nil {
		return nil, err
	}
	row := map[string]any{
		"intention_id": intentionID,
		"author_id":    nullIfEmpty(authorID),
		"text":         text,
	}
	var created []model.Comment
	_, err := r.client.From(commentsTable).
		Insert(row, false, "", "representation", "").
		ExecuteTo(&created)
	if err != nil {
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}
	if len(created) == 0 {
		return nil, errors.New("failed to add comment: empty response")
	}
	return &created[0], nil
}

// ListComments returns the comments for the given intentions, oldest first
func (r *SupabaseRepository) ListComments(ctx context.Context, intentionIDs []string) ([]model.Comment, error) {
	if len(intentionIDs) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []model.Comment
	_, err := r.client.From(commentsTable).
		Select("id,intention_id,author_id,text,created_at", "", false).
		In("intention_id", intentionIDs).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return rows, nil
}

// ListUnembedded returns intentions that have no embedding yet, oldest first
func (r *SupabaseRepository) ListUnembedded(ctx context.Context, limit int) ([]model.Intention, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rows []model.Intention
	_, err := r.client.From(intentionsTable).
		Select(intentionColumnList(), "", false).
		Is("embedding", "null").
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded intentions: %w", err)
	}
	return rows, nil
}

// BatchUpdateEmbeddings writes each embedding with its own request.
// PostgREST has no multi-row update by distinct values.
func (r *SupabaseRepository) BatchUpdateEmbeddings(ctx context.Context, items []model.EmbeddingItem) (int, []string) {
	success := 0
	var errs []string
	for _, item := range items {
		if err := r.UpdateEmbedding(ctx, item.IntentionID, item.Embedding); err != nil {
			errs = append(errs, fmt.Sprintf("intention %s: %v", item.IntentionID, err))
			continue
		}
		success++
	}
	return success, errs
}

func intentionColumnList() string {
	return strings.ReplaceAll(intentionColumns, " ", "")
}

func parseMatchResult(body string) ([]model.Candidate, error) {
	trimmed := strings.TrimSpace(body)
	if !strings.HasPrefix(trimmed, "[") {
		if trimmed == "" {
			trimmed = "empty response"
		}
		return nil, fmt.Errorf("%w: %s", ErrSearchUnavailable, trimmed)
	}
	var candidates []model.Candidate
	if err := json.Unmarshal([]byte(trimmed), &candidates); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	return candidates, nil
}

func requireRepresentation(body []byte) error {
	var rows []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}
