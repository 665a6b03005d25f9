package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"manifest/internal/model"
	"manifest/internal/utils"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned when the referenced intention does not exist
var ErrNotFound = errors.New("intention not found")

const intentionColumns = `id, title, description, owner_id, group_id, created_at`

// PostgresRepository handles database operations
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(dsn string, maxConn, maxIdleConn int) (*PostgresRepository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(maxConn)
	db.SetMaxIdleConns(maxIdleConn)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepositoryFromDB wraps an existing connection pool
func NewPostgresRepositoryFromDB(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// UpdateEmbedding writes the embedding vector for an intention
func (r *PostgresRepository) UpdateEmbedding(ctx context.Context, intentionID string, embedding []float32) error {
	vec := pgvector.NewVector(embedding)
	res, err := r.db.ExecContext(ctx, `UPDATE intentions SET embedding = $1 WHERE id = $2`, vec, intentionID)
	if err != nil {
		if isInvalidID(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return requireRow(res)
}

// SearchSimilar returns intentions whose cosine similarity to the query
// embedding is at or above the threshold, most similar first.
func (r *PostgresRepository) SearchSimilar(ctx context.Context, q model.SimilarityQuery) ([]model.Candidate, error) {
	query := `
		SELECT id, title, group_id, 1 - (embedding <=> $1) AS similarity
		FROM intentions
		WHERE embedding IS NOT NULL
		  AND ($2 = '' OR id::text <> $2)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1, created_at DESC
		LIMIT $4
	`
	var candidates []model.Candidate
	err := r.db.SelectContext(ctx, &candidates, query, pgvector.NewVector(q.Embedding), q.ExcludeID, q.Threshold, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run similarity search: %w", err)
	}
	return candidates, nil
}

// SearchByTitle is the degraded lookup used when vector search is unavailable:
// a case-insensitive substring match of token against stored titles.
func (r *PostgresRepository) SearchByTitle(ctx context.Context, token, excludeID string, limit int) ([]model.Candidate, error) {
	query := `
		SELECT id, title, group_id
		FROM intentions
		WHERE title ILIKE $1
		  AND ($2 = '' OR id::text <> $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	var candidates []model.Candidate
	err := r.db.SelectContext(ctx, &candidates, query, utils.ContainsPattern(token), excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to run title search: %w", err)
	}
	return candidates, nil
}

// SetGroup assigns a group identifier to one intention
func (r *PostgresRepository) SetGroup(ctx context.Context, intentionID, groupID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE intentions SET group_id = $1 WHERE id = $2`, groupID, intentionID)
	if err != nil {
		if isInvalidID(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to set group: %w", err)
	}
	return requireRow(res)
}

// SetGroupBulk assigns a group identifier to every listed intention in one statement
func (r *PostgresRepository) SetGroupBulk(ctx context.Context, intentionIDs []string, groupID string) error {
	if len(intentionIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE intentions SET group_id = $1 WHERE id = ANY($2::uuid[])`,
		groupID, pq.Array(intentionIDs),
	)
	if err != nil {
		return fmt.Errorf("failed to set group for %d intentions: %w", len(intentionIDs), err)
	}
	return nil
}

// CreateIntention inserts a new intention and returns the stored row
func (r *PostgresRepository) CreateIntention(ctx context.Context, in model.NewIntention) (*model.Intention, error) {
	query := `
		INSERT INTO intentions (title, description, owner_id)
		VALUES ($1, $2, $3)
		RETURNING ` + intentionColumns

	var intention model.Intention
	err := r.db.GetContext(ctx, &intention, query, in.Title, nullIfEmpty(in.Description), nullIfEmpty(in.OwnerID))
	if err != nil {
		return nil, fmt.Errorf("failed to create intention: %w", err)
	}
	return &intention, nil
}

// GetIntention retrieves a single intention by its ID
func (r *PostgresRepository) GetIntention(ctx context.Context, intentionID string) (*model.Intention, error) {
	var intention model.Intention
	query := `SELECT ` + intentionColumns + ` FROM intentions WHERE id = $1`
	err := r.db.GetContext(ctx, &intention, query, intentionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get intention: %w", err)
	}
	return &intention, nil
}

// ListRecentIntentions returns the newest intentions first
func (r *PostgresRepository) ListRecentIntentions(ctx context.Context, limit int) ([]model.Intention, error) {
	query := `SELECT ` + intentionColumns + ` FROM intentions ORDER BY created_at DESC LIMIT $1`
	var intentions []model.Intention
	if err := r.db.SelectContext(ctx, &intentions, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list intentions: %w", err)
	}
	return intentions, nil
}

// ListGroupMembers returns every intention carrying the group identifier
func (r *PostgresRepository) ListGroupMembers(ctx context.Context, groupID string) ([]model.Intention, error) {
	query := `SELECT ` + intentionColumns + ` FROM intentions WHERE group_id = $1 ORDER BY created_at DESC`
	var intentions []model.Intention
	if err := r.db.SelectContext(ctx, &intentions, query, groupID); err != nil {
		if isInvalidID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	return intentions, nil
}

// AddComment inserts a comment on an existing intention
func (r *PostgresRepository) AddComment(ctx context.Context, intentionID, authorID, text string) (*model.Comment, error) {
	query := `
		INSERT INTO comments (intention_id, author_id, text)
		VALUES ($1, $2, $3)
		RETURNING id, intention_id, author_id, text, created_at
	`
	var comment model.Comment
	err := r.db.GetContext(ctx, &comment, query, intentionID, nullIfEmpty(authorID), text)
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to add comment: %w", err)
	}
	return &comment, nil
}

// ListComments returns the comments for the given intentions, oldest first
func (r *PostgresRepository) ListComments(ctx context.Context, intentionIDs []string) ([]model.Comment, error) {
	if len(intentionIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, intention_id, author_id, text, created_at
		FROM comments
		WHERE intention_id = ANY($1::uuid[])
		ORDER BY created_at ASC
	`
	var comments []model.Comment
	if err := r.db.SelectContext(ctx, &comments, query, pq.Array(intentionIDs)); err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	return comments, nil
}

// ListUnembedded returns intentions that have no embedding yet, oldest first
func (r *PostgresRepository) ListUnembedded(ctx context.Context, limit int) ([]model.Intention, error) {
	query := `SELECT ` + intentionColumns + ` FROM intentions WHERE embedding IS NULL ORDER BY created_at ASC LIMIT $1`
	var intentions []model.Intention
	if err := r.db.SelectContext(ctx, &intentions, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list unembedded intentions: %w", err)
	}
	return intentions, nil
}

// BatchUpdateEmbeddings updates embeddings for multiple intentions
func (r *PostgresRepository) BatchUpdateEmbeddings(ctx context.Context, items []model.EmbeddingItem) (int, []string) {
	success := 0
	var errors []string

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		errors = append(errors, fmt.Sprintf("failed to start transaction: %v", err))
		return success, errors
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `UPDATE intentions SET embedding = $1 WHERE id = $2`)
	if err != nil {
		errors = append(errors, fmt.Sprintf("failed to prepare statement: %v", err))
		return success, errors
	}
	defer stmt.Close()

	for _, item := range items {
		vec := pgvector.NewVector(item.Embedding)
		if _, err := stmt.ExecContext(ctx, vec, item.IntentionID); err != nil {
			errors = append(errors, fmt.Sprintf("intention %s: %v", item.IntentionID, err))
			return 0, errors
		}
		success++
	}

	if err := tx.Commit(); err != nil {
		errors = append(errors, fmt.Sprintf("failed to commit transaction: %v", err))
		return 0, errors
	}

	return success, errors
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// isInvalidID reports a malformed uuid literal (invalid_text_representation)
func isInvalidID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
