package orchestrator

import (
	"errors"
	"fmt"

	"scraperd/internal/store"
)

// ErrNotFound is returned when the referenced job does not exist.
// It is the store's sentinel so callers can match either package.
var ErrNotFound = store.ErrNotFound

// ErrInvalidTransition is returned when an operation is not legal from
// the job's current status.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrInvalidScraper is returned on submit when the scraper is not in
// the catalog.
var ErrInvalidScraper = errors.New("unknown scraper")

// timeoutMessage is recorded as the error message of a job that ran
// past its deadline.
const timeoutMessage = "timeout exceeded"

// RuntimeError wraps a container runtime failure with the operation
// that produced it.
type RuntimeError struct {
	Op  string // create, stream, stop, remove
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("container runtime %s failed: %v", e.Op, e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}
