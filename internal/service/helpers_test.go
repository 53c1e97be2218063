package service

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"mediafetch/internal/adapters/localstorage"
	"mediafetch/internal/adapters/memstore"
	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
	"mediafetch/internal/core/sniff"
)

var (
	mediaBytes = append([]byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00isommp42"), bytes.Repeat([]byte{0x11}, 16*1024)...)
	pageBytes  = append([]byte("<!DOCTYPE html><html><head><title>Sign in</title></head>"), bytes.Repeat([]byte(" "), 16*1024)...)
)

// stubStrategy is a scripted retrieval strategy.
type stubStrategy struct {
	name string
	fn   func(ctx context.Context, a ports.Attempt) (*domain.Result, error)

	mu    sync.Mutex
	calls int
	seen  []*url.URL
}

func (s *stubStrategy) Name() string { return s.name }

func (s *stubStrategy) Attempt(ctx context.Context, a ports.Attempt) (*domain.Result, error) {
	s.mu.Lock()
	s.calls++
	s.seen = append(s.seen, a.URL)
	s.mu.Unlock()
	return s.fn(ctx, a)
}

func (s *stubStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// writes returns a strategy that drops data into the job directory as name.
func writes(strategyName, name string, data []byte) *stubStrategy {
	return &stubStrategy{name: strategyName, fn: func(_ context.Context, a ports.Attempt) (*domain.Result, error) {
		out := filepath.Join(a.Dir, name)
		if err := os.WriteFile(out, data, 0644); err != nil {
			return nil, err
		}
		return &domain.Result{OutputPath: out, Title: strategyName + " title"}, nil
	}}
}

func failing(strategyName, message string) *stubStrategy {
	return &stubStrategy{name: strategyName, fn: func(context.Context, ports.Attempt) (*domain.Result, error) {
		return nil, errors.New(message)
	}}
}

// recordingStore keeps every status written per job, in order.
type recordingStore struct {
	*memstore.Store
	mu      sync.Mutex
	history map[string][]domain.JobStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Store: memstore.New(), history: map[string][]domain.JobStatus{}}
}

func (r *recordingStore) Set(ctx context.Context, job *domain.Job) error {
	r.mu.Lock()
	r.history[job.ID] = append(r.history[job.ID], job.Status)
	r.mu.Unlock()
	return r.Store.Set(ctx, job)
}

func (r *recordingStore) History(id string) []domain.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.JobStatus(nil), r.history[id]...)
}

type fixture struct {
	store   *recordingStore
	storage *localstorage.LocalStorage
	gate    *sniff.Sniffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store:   newRecordingStore(),
		storage: localstorage.NewLocalStorage(t.TempDir()),
		gate:    sniff.New(0, false),
	}
}

func (f *fixture) runner(chain *Chain, links ports.LinkResolver) *Runner {
	return NewRunner(f.store, f.storage, chain, f.gate, links)
}

func queued(t *testing.T, f *fixture, id, raw string) *domain.Job {
	t.Helper()
	job := &domain.Job{ID: id, URL: raw, Status: domain.StatusQueued}
	require.NoError(t, f.store.Set(context.Background(), job))
	return job
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
