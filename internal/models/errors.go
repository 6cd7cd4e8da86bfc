package models

import (
	"errors"
	"fmt"
)

var (
	// ErrEmbeddingUnavailable indicates the embedding provider failed or timed out.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrDimensionMismatch indicates a vector whose length differs from the store's dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNotFound indicates a dataset or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInitializationFailed indicates the engine could not be brought up.
	ErrInitializationFailed = errors.New("initialization failed")

	// ErrCancelled indicates the caller cancelled the operation.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalidInput indicates a malformed request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotReady indicates the engine is not loaded yet.
	ErrNotReady = errors.New("engine not ready")
)

// DimensionError carries the offending and expected vector lengths.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

// Unwrap lets errors.Is match ErrDimensionMismatch.
func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}
