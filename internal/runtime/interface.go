// Package runtime provides the container runtime abstraction for
// scraper execution backends.
package runtime

import (
	"context"
	"io"
	"time"
)

// Runtime creates and starts an isolated execution environment for one
// scraper job. Implementations include Docker, Kubernetes Jobs and raw
// process execution.
type Runtime interface {
	// Start creates and starts a container for a job and returns a
	// handle to it. The returned handle's ID identifies the container.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a scraper container.
type StartOptions struct {
	JobID       string
	ScraperType string            // module name the container runs
	Env         map[string]string // extra environment for the container
}

// ExitResult is the outcome of a finished container.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a live container for one job.
type Handle interface {
	// ID returns the container identifier.
	ID() string

	// Wait blocks until the container exits and returns the result.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop requests a graceful stop, escalating to a kill after grace.
	Stop(ctx context.Context, grace time.Duration) error

	// Kill terminates the container immediately.
	Kill(ctx context.Context) error

	// Remove reclaims the container and its resources.
	Remove(ctx context.Context) error

	// StreamLogs returns a follow stream of the container's combined
	// stdout/stderr output.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
