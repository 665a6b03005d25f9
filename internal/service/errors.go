package service

import "fmt"

// ErrorKind classifies matching failures for the caller
type ErrorKind int

const (
	// KindInvalidRequest means required fields were missing
	KindInvalidRequest ErrorKind = iota + 1
	// KindEmbeddingFailure means no vector could be obtained
	KindEmbeddingFailure
	// KindNotFound means the intention id does not reference a stored row
	KindNotFound
	// KindUnexpected covers storage and network failures
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindEmbeddingFailure:
		return "embedding_failure"
	case KindNotFound:
		return "not_found"
	case KindUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// MatchError is the failure arm of a match
type MatchError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *MatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *MatchError) Unwrap() error {
	return e.Err
}

func matchError(kind ErrorKind, message string, err error) *MatchError {
	return &MatchError{Kind: kind, Message: message, Err: err}
}
