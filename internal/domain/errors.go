package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a submitted question key is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option index is out of range.
	ErrOptionNotFound = errors.New("option not found")
	// ErrProgressNotFound is returned when an operation needs a stored record that does not exist.
	ErrProgressNotFound = errors.New("progress not found")
	// ErrInvalidRecord marks an SRS record that violates its invariants.
	ErrInvalidRecord = errors.New("invalid srs record")
	// ErrOrphanedProgress is returned when a live quiz is required but it was deleted.
	ErrOrphanedProgress = errors.New("progress refers to a deleted quiz")
	// ErrEmptyPool is returned when a wrong-questions session has nothing to play.
	ErrEmptyPool = errors.New("wrong questions pool is empty")
	// ErrSessionClosed is returned when a finished session receives more input.
	ErrSessionClosed = errors.New("session already finished")
)
