package apify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
)

type fakeDownloader struct {
	gotURL  string
	gotHint string
}

func (f *fakeDownloader) Download(_ context.Context, mediaURL, dir, nameHint string, _ ports.ProgressFunc) (string, error) {
	f.gotURL, f.gotHint = mediaURL, nameHint
	return filepath.Join(dir, "clip.mp4"), nil
}

func apifyServer(t *testing.T, items string, finalStatus string) (*httptest.Server, *int32) {
	t.Helper()
	var polls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/acts/"+tiktokActorID+"/runs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("token"))
		var input map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Contains(t, input, "postURLs")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"data":{"id":"run-1"}}`))
	})
	mux.HandleFunc("/actor-runs/run-1", func(w http.ResponseWriter, r *http.Request) {
		status := "RUNNING"
		if atomic.AddInt32(&polls, 1) > 1 {
			status = finalStatus
		}
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"status": status, "defaultDatasetId": "ds-1"}})
	})
	mux.HandleFunc("/datasets/ds-1/items", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(items))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func newScraper(t *testing.T, baseURL string, dl ports.Downloader) *ApifyScraper {
	t.Helper()
	s, err := NewApifyScraper("secret", dl)
	require.NoError(t, err)
	return s.WithEndpoint(baseURL, 5*time.Millisecond)
}

func attemptFor(t *testing.T, raw string, platform domain.Platform, progress ports.ProgressFunc) ports.Attempt {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return ports.Attempt{JobID: "job", URL: u, Platform: platform, Dir: t.TempDir(), Progress: progress}
}

func TestNewApifyScraperRequiresToken(t *testing.T) {
	_, err := NewApifyScraper("", &fakeDownloader{})
	assert.Error(t, err)
}

func TestAttemptResolvesAndDownloads(t *testing.T) {
	items := `[{"text":"dance","mediaUrls":["https://cdn.example/v.mp4"],"videoMeta":{"coverUrl":"https://cdn.example/c.jpg"}}]`
	srv, polls := apifyServer(t, items, "SUCCEEDED")
	dl := &fakeDownloader{}

	var reports []domain.Progress
	a := attemptFor(t, "https://www.tiktok.com/@u/video/1", domain.PlatformTikTok, func(p domain.Progress) { reports = append(reports, p) })
	res, err := newScraper(t, srv.URL, dl).Attempt(context.Background(), a)
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/v.mp4", dl.gotURL)
	assert.Equal(t, "dance", dl.gotHint)
	assert.Equal(t, filepath.Join(a.Dir, "clip.mp4"), res.OutputPath)
	assert.Equal(t, "dance", res.Title)
	assert.Equal(t, "https://cdn.example/c.jpg", res.Thumbnail)
	assert.GreaterOrEqual(t, atomic.LoadInt32(polls), int32(2))
	require.NotEmpty(t, reports)
	assert.Equal(t, "Resolving media via Apify", reports[0].Message)
}

func TestAttemptActorFailure(t *testing.T) {
	srv, _ := apifyServer(t, `[]`, "FAILED")
	_, err := newScraper(t, srv.URL, &fakeDownloader{}).Attempt(context.Background(), attemptFor(t, "https://tiktok.com/@u/video/1", domain.PlatformTikTok, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FAILED")
}

func TestAttemptEmptyDataset(t *testing.T) {
	srv, _ := apifyServer(t, `[]`, "SUCCEEDED")
	_, err := newScraper(t, srv.URL, &fakeDownloader{}).Attempt(context.Background(), attemptFor(t, "https://tiktok.com/@u/video/1", domain.PlatformTikTok, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no results")
}

func TestAttemptUnsupportedPlatform(t *testing.T) {
	s := newScraper(t, "http://127.0.0.1:1", &fakeDownloader{})
	_, err := s.Attempt(context.Background(), attemptFor(t, "https://vimeo.com/1", domain.PlatformGeneric, nil))
	assert.ErrorIs(t, err, domain.ErrNotApplicable)
}

func TestDatasetItemVideoURLPreference(t *testing.T) {
	item, err := decodeItem([]byte(`[{"title":"t","formats":[{"url":"low"},{"url":"high"}]}]`))
	require.NoError(t, err)
	assert.Equal(t, "high", item.videoURL())

	item, err = decodeItem([]byte(`[{"videoUrl":"direct","formats":[{"url":"high"}]}]`))
	require.NoError(t, err)
	assert.Equal(t, "direct", item.videoURL())

	item, err = decodeItem([]byte(`[{"title":"only metadata"}]`))
	require.NoError(t, err)
	assert.Empty(t, item.videoURL())
}
