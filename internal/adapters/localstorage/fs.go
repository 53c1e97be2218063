package localstorage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediafetch/internal/core/domain"
)

// LocalStorage implements ports.Storage for the local filesystem. Every job
// owns <BaseDir>/jobs/<jobID>.
type LocalStorage struct {
	BaseDir string
}

// NewLocalStorage creates a new LocalStorage instance rooted at baseDir,
// made absolute so that returned paths compare reliably.
func NewLocalStorage(baseDir string) *LocalStorage {
	if abs, err := filepath.Abs(baseDir); err == nil {
		baseDir = abs
	}
	return &LocalStorage{BaseDir: baseDir}
}

// InitJob creates the job directory.
func (s *LocalStorage) InitJob(ctx context.Context, jobID string) error {
	path := s.GetJobPath(jobID)
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create job directory %s: %w", path, err)
	}
	return nil
}

// ClearJob deletes the contents of the job directory.
func (s *LocalStorage) ClearJob(ctx context.Context, jobID string) error {
	dir := s.GetJobPath(jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read job directory %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RemoveJob deletes the job directory.
func (s *LocalStorage) RemoveJob(ctx context.Context, jobID string) error {
	if err := os.RemoveAll(s.GetJobPath(jobID)); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}
	return nil
}

// GetJobPath returns the path for a job directory.
func (s *LocalStorage) GetJobPath(jobID string) string {
	return filepath.Join(s.BaseDir, "jobs", jobID)
}

// ResolveFile joins filename onto the job directory and refuses anything
// that lands outside of it.
func (s *LocalStorage) ResolveFile(jobID, filename string) (string, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return "", domain.ErrForbidden
	}

	dir := s.GetJobPath(jobID)
	path := filepath.Join(dir, filepath.FromSlash(filename))
	if !strings.HasPrefix(path, dir+string(filepath.Separator)) {
		return "", domain.ErrForbidden
	}
	return path, nil
}

// PruneOlderThan removes job directories last modified before now-age and
// returns the ids removed.
func (s *LocalStorage) PruneOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	root := filepath.Join(s.BaseDir, "jobs")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	cutoff := time.Now().Add(-age)
	var removed []string
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
