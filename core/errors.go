package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSession is returned when a session id is empty or blank.
	ErrInvalidSession = errors.New("invalid session id")
	// ErrEmptyQuestion is returned when a question has no content.
	ErrEmptyQuestion = errors.New("empty question")
	// ErrMalformedInput is the sentinel matched by every MalformedInputError.
	ErrMalformedInput = errors.New("malformed input")
	// ErrSessionNotFound is returned by administrative lookups of unknown sessions.
	ErrSessionNotFound = errors.New("session not found")
)

// Stage names the pipeline step a GenerationError originated from.
type Stage string

const (
	// StageRewrite is the standalone-question rewriting step.
	StageRewrite Stage = "rewrite"
	// StageSynthesize is the grounded answer generation step.
	StageSynthesize Stage = "synthesize"
)

// GenerationError reports a failed language model call.
type GenerationError struct {
	Stage Stage
	Err   error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed during %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// RetrievalError reports a failed similarity index call.
type RetrievalError struct {
	Query string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for %q: %v", e.Query, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// MalformedInputError reports an ingestion row that cannot become a Record.
// Row is zero-based; -1 means the row position is unknown.
type MalformedInputError struct {
	Row    int
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Row < 0 {
		return fmt.Sprintf("malformed input: field %q %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("malformed input: row %d: field %q %s", e.Row, e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrMalformedInput) hold for every MalformedInputError.
func (e *MalformedInputError) Is(target error) bool { return target == ErrMalformedInput }

// IsGenerationError reports whether err wraps a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}

// IsRetrievalError reports whether err wraps a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}
