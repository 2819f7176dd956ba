package services

import (
	"errors"

	"github.com/Lllllllleong/commentingestflow/internal/models"
	"github.com/Lllllllleong/commentingestflow/internal/upstream"
)

var (
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMissingChunk is returned by the combiner when a checkpoint points
	// at a chunk that is not in blob storage.
	ErrMissingChunk = errors.New("combine: chunk referenced by checkpoint is missing")

	// ErrConnectionGone is returned by a Sender when the subscriber no
	// longer exists.
	ErrConnectionGone = errors.New("delivery: connection is gone")

	// ErrRefusal is returned when the analysis model declines the task.
	ErrRefusal = errors.New("analysis: model refused the request")
)

// ErrorKind classifies a range-worker failure for the scheduler. Anything
// that retrying cannot fix is malformed; the rest is transient.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, upstream.ErrMalformed),
		errors.Is(err, upstream.ErrRejected),
		errors.Is(err, upstream.ErrNotFound):
		return models.ErrorKindMalformed
	default:
		return models.ErrorKindTransient
	}
}
