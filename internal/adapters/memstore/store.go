package memstore

import (
	"context"
	"sync"

	"mediafetch/internal/core/domain"
)

// Store is an in-process status store. Records are copied on the way in and
// out, so callers never share memory with the store.
type Store struct {
	m sync.Map
}

func New() *Store {
	return &Store{}
}

// Set replaces the record for job.ID.
func (s *Store) Set(_ context.Context, job *domain.Job) error {
	s.m.Store(job.ID, *job)
	return nil
}

// Get returns a copy of the record, or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, jobID string) (*domain.Job, error) {
	v, ok := s.m.Load(jobID)
	if !ok {
		return nil, domain.ErrNotFound
	}
	job, ok := v.(domain.Job)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}
