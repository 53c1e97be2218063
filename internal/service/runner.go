package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
	"mediafetch/internal/logger"
)

var runnerLog = logger.Get("Runner")

const (
	DefaultAttemptTimeout = 10 * time.Minute
	DefaultResolveTimeout = 15 * time.Second

	shutdownMessage = "service shutting down"
)

// MediaGate rejects output that is not genuine media. Check returns the
// rejection reason, or "" when the file is accepted.
type MediaGate interface {
	Check(path string) string
}

// Runner executes the lifecycle of a single job: it walks the strategy
// chain, gates the output and records every transition in the status store.
type Runner struct {
	store          ports.StatusStore
	storage        ports.Storage
	chain          *Chain
	gate           MediaGate
	links          ports.LinkResolver
	attemptTimeout time.Duration
	resolveTimeout time.Duration
}

// NewRunner creates a Runner. links may be nil to skip short-link expansion.
func NewRunner(
	store ports.StatusStore,
	storage ports.Storage,
	chain *Chain,
	gate MediaGate,
	links ports.LinkResolver,
) *Runner {
	return &Runner{
		store:          store,
		storage:        storage,
		chain:          chain,
		gate:           gate,
		links:          links,
		attemptTimeout: DefaultAttemptTimeout,
		resolveTimeout: DefaultResolveTimeout,
	}
}

// WithTimeouts overrides the per-attempt and link resolution timeouts.
// Non-positive values keep the defaults.
func (r *Runner) WithTimeouts(attempt, resolve time.Duration) *Runner {
	if attempt > 0 {
		r.attemptTimeout = attempt
	}
	if resolve > 0 {
		r.resolveTimeout = resolve
	}
	return r
}

// Run drives job from queued to a terminal state and returns the final record.
func (r *Runner) Run(ctx context.Context, job *domain.Job) *domain.Job {
	t := &tracker{store: r.store, job: *job}
	jobID := job.ID

	t.update(ctx, func(j *domain.Job) {
		j.Status = domain.StatusProcessing
		j.Message = "Preparing download"
	})
	runnerLog.Infof("[JOB %s] Starting job for URL: %s\n", jobID, job.URL)

	if err := r.storage.InitJob(ctx, jobID); err != nil {
		runnerLog.Errorf("[JOB %s] failed to init job: %v\n", jobID, err)
		return r.fail(ctx, t, &domain.ExhaustionError{Attempts: []*domain.StrategyError{{Strategy: "storage", Err: err}}})
	}

	u := r.resolve(ctx, jobID, job.URL)
	platform := DetectPlatform(u)
	t.update(ctx, func(j *domain.Job) { j.Platform = platform })

	strategies := r.chain.For(u)
	exhausted := &domain.ExhaustionError{}
	for i, strategy := range strategies {
		if ctx.Err() != nil {
			exhausted.Attempts = append(exhausted.Attempts, &domain.StrategyError{Strategy: strategy.Name(), Err: errors.New(shutdownMessage)})
			break
		}

		name := strategy.Name()
		t.update(ctx, func(j *domain.Job) {
			j.Message = fmt.Sprintf("Trying %s (%d/%d)", name, i+1, len(strategies))
			j.Progress, j.Total = 0, 0
		})
		runnerLog.Infof("[JOB %s] Attempting strategy %s (%d/%d)\n", jobID, name, i+1, len(strategies))

		res, err := r.attempt(ctx, t, strategy, ports.Attempt{JobID: jobID, URL: u, Platform: platform})
		if err == nil {
			err = r.check(jobID, res)
		}
		if err != nil {
			runnerLog.Warnf("[JOB %s] Strategy %s failed: %v\n", jobID, name, err)
			exhausted.Attempts = append(exhausted.Attempts, &domain.StrategyError{Strategy: name, Err: err})
			if cerr := r.storage.ClearJob(ctx, jobID); cerr != nil {
				runnerLog.Warnf("[JOB %s] failed to clear partial output: %v\n", jobID, cerr)
			}
			continue
		}

		return r.complete(ctx, t, name, res)
	}

	return r.fail(ctx, t, exhausted)
}

func (r *Runner) resolve(ctx context.Context, jobID, raw string) *url.URL {
	original, _ := url.Parse(raw)
	if r.links == nil {
		return original
	}

	rctx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()
	resolved, err := r.links.Resolve(rctx, raw)
	if err != nil {
		runnerLog.Warnf("[JOB %s] Link resolution failed, using original URL: %v\n", jobID, err)
		return original
	}

	u, err := url.Parse(resolved)
	if err != nil || u.Host == "" {
		return original
	}
	if resolved != raw {
		runnerLog.Infof("[JOB %s] Resolved %s -> %s\n", jobID, raw, resolved)
	}
	return u
}

// attempt runs one strategy with its own deadline. Progress reports are
// dropped once the strategy has returned, and a panic is treated as failure.
func (r *Runner) attempt(ctx context.Context, t *tracker, s ports.Strategy, a ports.Attempt) (res *domain.Result, err error) {
	actx, cancel := context.WithTimeout(ctx, r.attemptTimeout)
	defer cancel()

	sealed := false
	defer func() {
		t.mu.Lock()
		sealed = true
		t.mu.Unlock()
	}()
	progress := func(p domain.Progress) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sealed {
			return
		}
		t.apply(ctx, func(j *domain.Job) { applyProgress(j, p) })
	}

	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("strategy panicked: %v", rec)
		}
	}()

	a.Dir = r.storage.GetJobPath(a.JobID)
	a.Progress = progress
	res, err = s.Attempt(actx, a)
	if err == nil && actx.Err() != nil {
		err = actx.Err()
	}
	return res, err
}

// check applies the content gate to a strategy result.
func (r *Runner) check(jobID string, res *domain.Result) error {
	if res == nil || res.OutputPath == "" {
		return errors.New("strategy returned no usable media location")
	}

	out, err := filepath.Abs(res.OutputPath)
	if err != nil {
		return fmt.Errorf("invalid output path %s: %w", res.OutputPath, err)
	}
	inside, err := r.storage.ResolveFile(jobID, filepath.Base(out))
	if err != nil || out != inside {
		return fmt.Errorf("output %s is outside the job directory", res.OutputPath)
	}

	if reason := r.gate.Check(res.OutputPath); reason != "" {
		return fmt.Errorf("%w: %s", domain.ErrInvalidMedia, reason)
	}
	return nil
}

func (r *Runner) complete(ctx context.Context, t *tracker, strategy string, res *domain.Result) *domain.Job {
	var size int64
	if info, err := os.Stat(res.OutputPath); err == nil {
		size = info.Size()
	}

	final := t.update(ctx, func(j *domain.Job) {
		j.Status = domain.StatusCompleted
		j.Message = "Download completed!"
		j.Strategy = strategy
		j.OutputPath = res.OutputPath
		j.FileName = filepath.Base(res.OutputPath)
		j.FileSize = size
		j.Progress, j.Total = size, size
		j.DownloadLink = fmt.Sprintf("/download_file/%s/%s", url.PathEscape(j.ID), url.PathEscape(j.FileName))
		if res.Title != "" {
			j.Title = res.Title
		}
		if res.Thumbnail != "" {
			j.Thumbnail = res.Thumbnail
		}
	})
	runnerLog.Emit(logger.SUCCESS, "[JOB %s] Job completed via %s: %s\n", final.ID, strategy, final.FileName)
	return final
}

func (r *Runner) fail(ctx context.Context, t *tracker, exhausted *domain.ExhaustionError) *domain.Job {
	message := "All retrieval strategies failed"
	if ctx.Err() != nil {
		message = shutdownMessage
	} else if last := exhausted.Last(); last != nil {
		if m := SanitizeMessage(last.Err.Error()); m != "" {
			message = m
		}
	}

	// The job context may already be cancelled; the directory still goes.
	if err := r.storage.RemoveJob(context.WithoutCancel(ctx), t.job.ID); err != nil {
		runnerLog.Warnf("[JOB %s] failed to remove job directory: %v\n", t.job.ID, err)
	}

	final := t.update(ctx, func(j *domain.Job) {
		j.Status = domain.StatusFailed
		j.Message = message
		j.Progress, j.Total = 0, 0
	})
	runnerLog.Errorf("[JOB %s] Job failed: %v\n", final.ID, exhausted)
	return final
}

// Abandon records a job that was never started as failed, so that no
// accepted submission is left queued once the service stops.
func (r *Runner) Abandon(job *domain.Job) *domain.Job {
	t := &tracker{store: r.store, job: *job}
	final := t.update(context.Background(), func(j *domain.Job) {
		j.Status = domain.StatusFailed
		j.Message = shutdownMessage
		j.Progress, j.Total = 0, 0
	})
	runnerLog.Emit(logger.STOP, "[JOB %s] Job abandoned before it started\n", job.ID)
	return final
}

func applyProgress(j *domain.Job, p domain.Progress) {
	if p.Downloaded > 0 {
		j.Progress = p.Downloaded
	}
	if p.Total > 0 {
		j.Total = p.Total
	}
	if p.Title != "" {
		j.Title = p.Title
	}
	if p.Thumbnail != "" {
		j.Thumbnail = p.Thumbnail
	}
	switch {
	case p.Message != "":
		j.Message = SanitizeMessage(p.Message)
	case j.Total > 0:
		j.Message = fmt.Sprintf("Downloading: %.1f%% of %s", float64(j.Progress)/float64(j.Total)*100, humanBytes(j.Total))
	case j.Progress > 0:
		j.Message = "Downloading: " + humanBytes(j.Progress)
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// tracker owns the runner's copy of the job record and persists a snapshot
// on every mutation. The store write happens under mu, so writes for one job
// reach the store in the order they were made.
type tracker struct {
	mu    sync.Mutex
	store ports.StatusStore
	job   domain.Job
}

func (t *tracker) update(ctx context.Context, mutate func(*domain.Job)) *domain.Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.apply(ctx, mutate)
}

// apply requires t.mu to be held.
func (t *tracker) apply(ctx context.Context, mutate func(*domain.Job)) *domain.Job {
	mutate(&t.job)
	t.job.UpdatedAt = time.Now().UTC()
	snapshot := t.job
	if err := t.store.Set(context.WithoutCancel(ctx), &snapshot); err != nil {
		runnerLog.Warnf("[JOB %s] failed to persist status: %v\n", t.job.ID, err)
	}
	return &snapshot
}
