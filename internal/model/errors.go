package model

import "errors"

// Domain errors shared by the repository and service layers. Handlers map
// these onto response codes; nothing else is ever surfaced to callers.
var (
	ErrNotFound         = errors.New("resource not found")
	ErrAlreadyAttempted = errors.New("exam already attempted")
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrAttemptClosed    = errors.New("attempt is already closed")
	ErrBadFormat        = errors.New("unreadable import source")
	ErrConflict         = errors.New("resource already exists")
)
