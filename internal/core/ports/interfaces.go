package ports

import (
	"context"
	"net/url"

	"mediafetch/internal/core/domain"
)

// ProgressFunc receives incremental updates from an in-flight strategy.
type ProgressFunc func(domain.Progress)

// Attempt is the input handed to a strategy for one job.
type Attempt struct {
	JobID    string
	URL      *url.URL // resolved (short-link expanded) source
	Platform domain.Platform
	Dir      string   // job output directory, already created
	Progress ProgressFunc
}

// Strategy defines the contract for one retrieval method. A strategy writes
// its output into Attempt.Dir and reports where it landed.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, a Attempt) (*domain.Result, error)
}

// StatusStore holds the job records. Set replaces the whole record.
type StatusStore interface {
	Set(ctx context.Context, job *domain.Job) error
	// Get returns domain.ErrNotFound for an unknown id.
	Get(ctx context.Context, jobID string) (*domain.Job, error)
}

// Downloader defines the contract for fetching a media location to disk.
type Downloader interface {
	// Download streams mediaURL into dir and returns the written file path.
	// nameHint, when set, is used as the file name (an extension is derived
	// from the response if the hint has none).
	Download(ctx context.Context, mediaURL, dir, nameHint string, progress ProgressFunc) (string, error)
}

// Storage defines the contract for per-job output directories.
type Storage interface {
	// InitJob creates the job directory structure.
	InitJob(ctx context.Context, jobID string) error

	// ClearJob removes everything the job produced, keeping the directory.
	ClearJob(ctx context.Context, jobID string) error

	// RemoveJob deletes the job directory entirely.
	RemoveJob(ctx context.Context, jobID string) error

	// GetJobPath returns the filesystem path for a given job ID.
	GetJobPath(jobID string) string

	// ResolveFile maps a filename to a path inside the job directory,
	// returning domain.ErrForbidden if it would escape it.
	ResolveFile(jobID, filename string) (string, error)
}

// LinkResolver expands short links. Failure is non-fatal to callers.
type LinkResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}
