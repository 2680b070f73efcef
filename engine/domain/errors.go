package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for every fatal condition the pipeline can surface.
// Callers match with errors.Is.
var (
	ErrUnsupportedMediaType    = errors.New("unsupported media type")
	ErrExtraction              = errors.New("extraction failed")
	ErrInvalidChunkConfig      = errors.New("invalid chunk config")
	ErrEmptyInput              = errors.New("no input texts")
	ErrEmbeddingBackend        = errors.New("embedding backend failed")
	ErrStoreUnavailable        = errors.New("vector store unavailable")
	ErrCollectionMismatch      = errors.New("collection dimensionality mismatch")
	ErrMissingRequiredMetadata = errors.New("missing required metadata")
	ErrFileTooLarge            = errors.New("file exceeds size limit")
	ErrNotFound                = errors.New("document not found")
)

// StageError names the pipeline stage that failed so the caller gets a
// debuggable message without a stack trace.
type StageError struct {
	Stage string // "validate", "extract", "chunk", "embed", "store"
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with the failing stage name.
func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
