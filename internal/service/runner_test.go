package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
)

func TestRunCompletesWithFirstStrategy(t *testing.T) {
	f := newFixture(t)
	direct := writes("direct", "clip.mp4", mediaBytes)
	fallback := writes("fallback", "other.mp4", mediaBytes)
	chain := NewChain(fallback).Register(Always, direct)

	final := f.runner(chain, nil).Run(context.Background(), queued(t, f, "j1", "https://www.youtube.com/watch?v=1"))

	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, "Download completed!", final.Message)
	assert.Equal(t, "direct", final.Strategy)
	assert.Equal(t, "clip.mp4", final.FileName)
	assert.EqualValues(t, len(mediaBytes), final.FileSize)
	assert.Equal(t, "/download_file/j1/clip.mp4", final.DownloadLink)
	assert.Equal(t, "direct title", final.Title)
	assert.Equal(t, domain.PlatformYouTube, final.Platform)
	assert.Zero(t, fallback.Calls())

	stored, err := f.store.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.True(t, f.gate.IsValidMedia(filepath.Join(f.storage.GetJobPath("j1"), stored.FileName)))
}

func TestRunRejectsMarkupAndFallsThrough(t *testing.T) {
	f := newFixture(t)
	page := writes("direct", "video.mp4", pageBytes)
	fallback := writes("fallback", "real.mp4", mediaBytes)
	chain := NewChain(fallback).Register(Always, page)

	final := f.runner(chain, nil).Run(context.Background(), queued(t, f, "j2", "https://example.com/watch"))

	require.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, "fallback", final.Strategy)
	assert.Equal(t, 1, page.Calls())
	assert.Equal(t, []string{"real.mp4"}, dirEntries(t, f.storage.GetJobPath("j2")))
}

func TestRunExhaustionMarksFailed(t *testing.T) {
	f := newFixture(t)
	chain := NewChain(failing("fallback", "\x1b[0;31mERROR:\x1b[0m Unsupported URL\nTraceback ...")).
		Register(Always, writes("direct", "video.mp4", pageBytes))

	final := f.runner(chain, nil).Run(context.Background(), queued(t, f, "j3", "https://example.com/nothing"))

	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Equal(t, "ERROR: Unsupported URL", final.Message)
	assert.Empty(t, final.FileName)
	assert.Empty(t, final.DownloadLink)
	assert.NoDirExists(t, f.storage.GetJobPath("j3"))
}

func TestRunEmptyFailureMessageUsesDefault(t *testing.T) {
	f := newFixture(t)
	chain := NewChain(failing("fallback", "\x1b[0m\n"))

	final := f.runner(chain, nil).Run(context.Background(), queued(t, f, "j4", "https://example.com/x"))

	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Equal(t, "All retrieval strategies failed", final.Message)
}

func TestRunStatusesNeverLeaveTerminal(t *testing.T) {
	f := newFixture(t)
	chain := NewChain(writes("fallback", "a.webm", mediaBytes)).Register(Always, failing("direct", "boom"))

	f.runner(chain, nil).Run(context.Background(), queued(t, f, "j5", "https://example.com/x"))

	history := f.store.History("j5")
	require.NotEmpty(t, history)
	assert.Equal(t, domain.StatusQueued, history[0])
	assert.Equal(t, domain.StatusCompleted, history[len(history)-1])
	for i, s := range history[:len(history)-1] {
		assert.False(t, s.IsTerminal(), "terminal status %s written before the end (index %d)", s, i)
	}
}

func TestRunRecoversFromPanickingStrategy(t *testing.T) {
	f := newFixture(t)
	panicky := &stubStrategy{name: "panicky", fn: func(context.Context, ports.Attempt) (*domain.Result, error) {
		panic("nil map")
	}}
	chain := NewChain(writes("fallback", "a.mp4", mediaBytes)).Register(Always, panicky)

	final := f.runner(chain, nil).Run(context.Background(), queued(t, f, "j6", "https://example.com/x"))

	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, "fallback", final.Strategy)
}

func TestRunRejectsOutputOutsideJobDir(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "elsewhere.mp4")
	require.NoError(t, os.WriteFile(outside, mediaBytes, 0644))
	escape := &stubStrategy{name: "escape", fn: func(context.Context, ports.Attempt) (*domain.Result, error) {
		return &domain.Result{OutputPath: outside}, nil
	}}

	final := f.runner(NewChain(escape), nil).Run(context.Background(), queued(t, f, "j7", "https://example.com/x"))

	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Contains(t, final.Message, "outside the job directory")
}

func TestRunAttemptTimeout(t *testing.T) {
	f := newFixture(t)
	hang := &stubStrategy{name: "hang", fn: func(ctx context.Context, _ ports.Attempt) (*domain.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	chain := NewChain(writes("fallback", "a.mp4", mediaBytes)).Register(Always, hang)

	r := f.runner(chain, nil).WithTimeouts(20*time.Millisecond, 0)
	final := r.Run(context.Background(), queued(t, f, "j8", "https://example.com/x"))

	assert.Equal(t, domain.StatusCompleted, final.Status)
	assert.Equal(t, 1, hang.Calls())
}

func TestRunDropsProgressAfterAttemptReturns(t *testing.T) {
	f := newFixture(t)
	var captured ports.ProgressFunc
	s := &stubStrategy{name: "direct", fn: func(_ context.Context, a ports.Attempt) (*domain.Result, error) {
		captured = a.Progress
		a.Progress(domain.Progress{Downloaded: 10, Total: 100})
		out := filepath.Join(a.Dir, "a.mp4")
		return &domain.Result{OutputPath: out}, os.WriteFile(out, mediaBytes, 0644)
	}}

	final := f.runner(NewChain(s), nil).Run(context.Background(), queued(t, f, "j9", "https://example.com/x"))
	require.Equal(t, domain.StatusCompleted, final.Status)

	captured(domain.Progress{Message: "late update", Downloaded: 1})

	stored, err := f.store.Get(context.Background(), "j9")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "Download completed!", stored.Message)
}

func TestRunRecordsProgress(t *testing.T) {
	f := newFixture(t)
	seen := make(chan domain.Job, 1)
	s := &stubStrategy{name: "direct", fn: func(_ context.Context, a ports.Attempt) (*domain.Result, error) {
		a.Progress(domain.Progress{Downloaded: 512, Total: 2048, Title: "Clip"})
		job, _ := f.store.Get(context.Background(), "j10")
		seen <- *job
		out := filepath.Join(a.Dir, "a.mp4")
		return &domain.Result{OutputPath: out}, os.WriteFile(out, mediaBytes, 0644)
	}}

	f.runner(NewChain(s), nil).Run(context.Background(), queued(t, f, "j10", "https://example.com/x"))

	mid := <-seen
	assert.Equal(t, domain.StatusProcessing, mid.Status)
	assert.EqualValues(t, 512, mid.Progress)
	assert.EqualValues(t, 2048, mid.Total)
	assert.Equal(t, "Clip", mid.Title)
	assert.Equal(t, "Downloading: 25.0% of 2.0KiB", mid.Message)
}

type stubResolver struct {
	to  string
	err error
}

func (s stubResolver) Resolve(_ context.Context, raw string) (string, error) {
	if s.err != nil {
		return raw, s.err
	}
	return s.to, nil
}

func TestRunUsesResolvedURL(t *testing.T) {
	f := newFixture(t)
	tiktokOnly := writes("tiktok", "t.mp4", mediaBytes)
	fallback := writes("fallback", "f.mp4", mediaBytes)
	chain := NewChain(fallback).Register(OnPlatforms(domain.PlatformTikTok), tiktokOnly)

	final := f.runner(chain, stubResolver{to: "https://www.tiktok.com/@u/video/42"}).
		Run(context.Background(), queued(t, f, "j11", "https://vm.tiktok.com/ZM123/"))

	assert.Equal(t, "tiktok", final.Strategy)
	assert.Equal(t, domain.PlatformTikTok, final.Platform)
	require.Len(t, tiktokOnly.seen, 1)
	assert.Equal(t, "/@u/video/42", tiktokOnly.seen[0].Path)
	assert.Equal(t, "https://vm.tiktok.com/ZM123/", final.URL)
}

func TestRunResolutionFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t)
	fallback := writes("fallback", "f.mp4", mediaBytes)

	final := f.runner(NewChain(fallback), stubResolver{err: errors.New("timeout")}).
		Run(context.Background(), queued(t, f, "j12", "https://bit.ly/abc"))

	assert.Equal(t, domain.StatusCompleted, final.Status)
	require.Len(t, fallback.seen, 1)
	assert.Equal(t, "bit.ly", fallback.seen[0].Host)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fallback := writes("fallback", "f.mp4", mediaBytes)

	final := f.runner(NewChain(fallback), nil).Run(ctx, queued(t, f, "j13", "https://example.com/x"))

	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Equal(t, "service shutting down", final.Message)
	assert.Zero(t, fallback.Calls())
	stored, err := f.store.Get(context.Background(), "j13")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512B", humanBytes(512))
	assert.Equal(t, "1.5KiB", humanBytes(1536))
	assert.Equal(t, "3.0MiB", humanBytes(3*1024*1024))
}

func TestRunShutdownDuringAttempt(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inflight := &stubStrategy{name: "inflight", fn: func(actx context.Context, _ ports.Attempt) (*domain.Result, error) {
		cancel()
		<-actx.Done()
		return nil, actx.Err()
	}}
	fallback := writes("fallback", "f.mp4", mediaBytes)

	final := f.runner(NewChain(fallback).Register(Always, inflight), nil).Run(ctx, queued(t, f, "j14", "https://example.com/x"))

	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Equal(t, "service shutting down", final.Message)
	assert.Zero(t, fallback.Calls())
}

func TestRunPassesPlatformToStrategy(t *testing.T) {
	f := newFixture(t)
	var got domain.Platform
	s := &stubStrategy{name: "direct", fn: func(_ context.Context, a ports.Attempt) (*domain.Result, error) {
		got = a.Platform
		out := filepath.Join(a.Dir, "a.mp4")
		return &domain.Result{OutputPath: out}, os.WriteFile(out, mediaBytes, 0644)
	}}

	f.runner(NewChain(s), nil).Run(context.Background(), queued(t, f, "j15", "https://www.instagram.com/reel/abc/"))

	assert.Equal(t, domain.PlatformInstagram, got)
}
