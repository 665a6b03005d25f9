package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// Intention represents a single user-submitted statement of intent
type Intention struct {
	ID          string           `json:"id" db:"id"`
	Title       string           `json:"title" db:"title"`
	Description *string          `json:"description,omitempty" db:"description"`
	OwnerID     *string          `json:"owner_id,omitempty" db:"owner_id"`
	Embedding   *pgvector.Vector `json:"-" db:"embedding"`
	GroupID     *string          `json:"group_id,omitempty" db:"group_id"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
}

// Candidate is one row of a similarity or fallback search
type Candidate struct {
	ID         string   `json:"id" db:"id"`
	Title      string   `json:"title" db:"title"`
	GroupID    *string  `json:"group_id,omitempty" db:"group_id"`
	Similarity *float64 `json:"similarity,omitempty" db:"similarity"`
}

// SimilarityQuery describes a vector search against stored intentions
type SimilarityQuery struct {
	Embedding []float32
	Threshold float64
	Limit     int
	ExcludeID string
}

// Comment is a timeline comment attached to an intention
type Comment struct {
	ID          string    `json:"id" db:"id"`
	IntentionID string    `json:"intention_id" db:"intention_id"`
	AuthorID    *string   `json:"author_id,omitempty" db:"author_id"`
	Text        string    `json:"text" db:"text"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// NewIntention holds the fields needed to insert an intention
type NewIntention struct {
	Title       string
	Description string
	OwnerID     string
}

// EmbeddingItem is a computed embedding waiting to be written
type EmbeddingItem struct {
	IntentionID string    `json:"intention_id"`
	Embedding   []float32 `json:"embedding"`
}
