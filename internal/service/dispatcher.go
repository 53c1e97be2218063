package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
	"mediafetch/internal/logger"
)

var dispatchLog = logger.Get("Dispatcher")

// URLValidator parses and vets a submitted URL.
type URLValidator interface {
	URL(raw string) (*url.URL, error)
}

// Dispatcher is the entry point for job submissions and queries. It never
// performs retrieval itself; jobs are handed to the worker pool.
type Dispatcher struct {
	validator URLValidator
	store     ports.StatusStore
	storage   ports.Storage
	gate      MediaGate
	runner    *Runner
	pool      *WorkerPool
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	validator URLValidator,
	store ports.StatusStore,
	storage ports.Storage,
	gate MediaGate,
	runner *Runner,
	pool *WorkerPool,
) *Dispatcher {
	return &Dispatcher{
		validator: validator,
		store:     store,
		storage:   storage,
		gate:      gate,
		runner:    runner,
		pool:      pool,
	}
}

// Submit validates raw, records a queued job under a fresh id and schedules
// it. It returns as soon as the queued record is stored. Every submission
// gets its own id, so resubmitting a URL starts an independent job.
func (d *Dispatcher) Submit(ctx context.Context, raw string) (*domain.Job, error) {
	job, err := d.enqueue(ctx, raw)
	if err != nil {
		return nil, err
	}

	scheduled := *job
	d.pool.Submit(func(ctx context.Context) {
		d.runner.Run(ctx, &scheduled)
	}, func() {
		d.runner.Abandon(&scheduled)
	})
	dispatchLog.Emit(logger.NEW, "[JOB %s] Queued %s\n", job.ID, job.URL)
	return job, nil
}

// RunSync runs a job on the calling goroutine and returns its final record.
func (d *Dispatcher) RunSync(ctx context.Context, raw string) (*domain.Job, error) {
	job, err := d.enqueue(ctx, raw)
	if err != nil {
		return nil, err
	}
	return d.runner.Run(ctx, job), nil
}

func (d *Dispatcher) enqueue(ctx context.Context, raw string) (*domain.Job, error) {
	if _, err := d.validator.URL(raw); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		URL:       strings.TrimSpace(raw),
		Status:    domain.StatusQueued,
		Message:   "Job queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record job: %w", err)
	}
	return job, nil
}

// Status returns the current record of a job, or domain.ErrNotFound.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, domain.ErrNotFound
	}
	return d.store.Get(ctx, jobID)
}

// File returns the on-disk path of a completed job's output. Paths that
// escape the job directory yield domain.ErrForbidden; anything missing,
// unfinished or failing the media gate yields domain.ErrNotFound.
func (d *Dispatcher) File(ctx context.Context, jobID, filename string) (string, error) {
	path, err := d.storage.ResolveFile(jobID, filename)
	if err != nil {
		return "", err
	}

	job, err := d.store.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	if job.Status != domain.StatusCompleted {
		return "", domain.ErrNotFound
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", domain.ErrNotFound
	}
	if reason := d.gate.Check(path); reason != "" {
		dispatchLog.Warnf("[JOB %s] Refusing to serve %s: %s\n", jobID, filename, reason)
		return "", domain.ErrNotFound
	}
	return path, nil
}

// Pruner removes job output older than a given age.
type Pruner interface {
	PruneOlderThan(ctx context.Context, age time.Duration) ([]string, error)
}

// RunJanitor prunes job output older than retention every interval until
// ctx is cancelled.
func RunJanitor(ctx context.Context, p Pruner, retention, interval time.Duration) {
	janitorLog := logger.Get("Janitor")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := p.PruneOlderThan(ctx, retention)
			if err != nil && ctx.Err() == nil {
				janitorLog.Warnf("Pruning failed: %v\n", err)
			}
			for _, id := range removed {
				janitorLog.Emit(logger.REMOVE, "[JOB %s] Removed expired output\n", id)
			}
		}
	}
}
