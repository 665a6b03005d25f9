package model

// MatchRequest is the inbound "match an intention" request
type MatchRequest struct {
	IntentionID string `json:"intentionId"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// MatchResult is the successful outcome of matching an intention
type MatchResult struct {
	Grouped bool   `json:"grouped"`
	GroupID string `json:"groupId,omitempty"`
}

// Ungrouped is the result returned when no similar intention exists
var Ungrouped = MatchResult{Grouped: false}

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

// CreateIntentionRequest creates an intention and matches it immediately
type CreateIntentionRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
}

// CreateIntentionResponse carries the new intention and its grouping
type CreateIntentionResponse struct {
	Intention  *Intention  `json:"intention"`
	Match      MatchResult `json:"match"`
	MatchError string      `json:"match_error,omitempty"`
}

// TimelineEntry is an intention with its comments
type TimelineEntry struct {
	Intention
	Comments []Comment `json:"comments"`
}

// TimelineResponse is the recent-intentions feed
type TimelineResponse struct {
	Intentions []TimelineEntry `json:"intentions"`
	Count      int             `json:"count"`
}

// GroupResponse lists the members of a group
type GroupResponse struct {
	GroupID string      `json:"group_id"`
	Members []Intention `json:"members"`
	Count   int         `json:"count"`
}

// CommentRequest adds a comment to an intention
type CommentRequest struct {
	Text     string `json:"text" binding:"required"`
	AuthorID string `json:"author_id,omitempty"`
}

// BackfillRequest asks for missing embeddings to be computed
type BackfillRequest struct {
	Limit int `json:"limit"`
}

// BackfillResponse reports the result of an embedding backfill
type BackfillResponse struct {
	Success int      `json:"success"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}
