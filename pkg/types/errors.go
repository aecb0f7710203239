package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidResultID   = errors.New("invalid result ID")
	ErrInvalidRank       = errors.New("rank must be >= 1")
	ErrInvalidSimilarity = errors.New("similarity must be between 0 and 1")
	ErrEmptyQuery        = errors.New("query cannot be empty")
	ErrEmptySnippet      = errors.New("code snippet cannot be empty")
)
