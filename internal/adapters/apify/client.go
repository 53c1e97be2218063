package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
)

const (
	apifyBaseURL = "https://api.apify.com/v2"
	// Actor IDs for different platforms (using internal Apify IDs)
	youtubeActorID = "h7sDV53CddomktSi5" // streamers/youtube-scraper
	tiktokActorID  = "GdWCkxBtKWOsKjdch" // clockworks~tiktok-scraper
)

// ApifyScraper is a resolve-then-fetch strategy: an Apify actor scrapes the
// page for a direct media URL, which is then streamed to disk.
type ApifyScraper struct {
	apiToken     string
	baseURL      string
	pollInterval time.Duration
	actors       map[domain.Platform]string
	client       *http.Client
	downloader   ports.Downloader
}

// NewApifyScraper creates a new ApifyScraper.
func NewApifyScraper(token string, downloader ports.Downloader) (*ApifyScraper, error) {
	if token == "" {
		return nil, errors.New("apify API token not set")
	}
	return &ApifyScraper{
		apiToken:     token,
		baseURL:      apifyBaseURL,
		pollInterval: 3 * time.Second,
		actors: map[domain.Platform]string{
			domain.PlatformYouTube: youtubeActorID,
			domain.PlatformTikTok:  tiktokActorID,
		},
		client: &http.Client{
			Timeout: time.Minute,
		},
		downloader: downloader,
	}, nil
}

// WithEndpoint points the scraper at another API root and poll cadence.
func (s *ApifyScraper) WithEndpoint(baseURL string, poll time.Duration) *ApifyScraper {
	s.baseURL = strings.TrimSuffix(baseURL, "/")
	s.pollInterval = poll
	return s
}

// Platforms lists the platforms an actor is configured for.
func (s *ApifyScraper) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(s.actors))
	for p := range s.actors {
		out = append(out, p)
	}
	return out
}

func (s *ApifyScraper) Name() string { return "apify" }

// Attempt resolves a.URL through the platform actor and downloads the result.
func (s *ApifyScraper) Attempt(ctx context.Context, a ports.Attempt) (*domain.Result, error) {
	platform := a.Platform
	actorID, ok := s.actors[platform]
	if !ok {
		return nil, fmt.Errorf("%w: no actor configured for %s", domain.ErrNotApplicable, a.URL.Host)
	}

	report(a, domain.Progress{Message: "Resolving media via Apify"})
	runID, err := s.startActorRun(ctx, actorID, a.URL.String(), platform)
	if err != nil {
		return nil, fmt.Errorf("failed to start actor run: %w", err)
	}

	rawData, err := s.waitAndGetResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}

	item, err := decodeItem(rawData)
	if err != nil {
		return nil, err
	}
	videoURL := item.videoURL()
	if videoURL == "" {
		return nil, errors.New("could not find video URL in response")
	}
	report(a, domain.Progress{Message: "Downloading media", Title: item.title(), Thumbnail: item.thumbnail()})

	out, err := s.downloader.Download(ctx, videoURL, a.Dir, item.title(), a.Progress)
	if err != nil {
		return nil, err
	}
	return &domain.Result{OutputPath: out, Title: item.title(), Thumbnail: item.thumbnail()}, nil
}

func report(a ports.Attempt, p domain.Progress) {
	if a.Progress != nil {
		a.Progress(p)
	}
}

func (s *ApifyScraper) startActorRun(ctx context.Context, actorID, videoURL string, platform domain.Platform) (string, error) {
	endpoint := fmt.Sprintf("%s/acts/%s/runs?token=%s", s.baseURL, actorID, url.QueryEscape(s.apiToken))

	body, _ := json.Marshal(buildInput(videoURL, platform))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("failed to start actor: status %d, body: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Data.ID, nil
}

func buildInput(videoURL string, platform domain.Platform) map[string]any {
	switch platform {
	case domain.PlatformYouTube:
		return map[string]any{
			"startUrls":  []map[string]string{{"url": videoURL}},
			"maxResults": 1,
		}
	case domain.PlatformTikTok:
		return map[string]any{
			"postURLs":                 []string{videoURL},
			"resultsPerPage":           1,
			"shouldDownloadVideos":     true,
			"shouldDownloadCovers":     false,
			"shouldDownloadSubtitles":  false,
			"shouldDownloadSlideshows": false,
		}
	default:
		return map[string]any{"url": videoURL}
	}
}

func (s *ApifyScraper) waitAndGetResults(ctx context.Context, runID string) ([]byte, error) {
	statusURL := fmt.Sprintf("%s/actor-runs/%s?token=%s", s.baseURL, runID, url.QueryEscape(s.apiToken))

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}

		var status struct {
			Data struct {
				Status           string `json:"status"`
				DefaultDatasetID string `json:"defaultDatasetId"`
			} `json:"data"`
		}
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		switch status.Data.Status {
		case "SUCCEEDED":
			return s.getDatasetItems(ctx, status.Data.DefaultDatasetID)
		case "FAILED", "ABORTED", "TIMED-OUT":
			return nil, fmt.Errorf("actor run failed with status: %s", status.Data.Status)
		}
	}
}

func (s *ApifyScraper) getDatasetItems(ctx context.Context, datasetID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/datasets/%s/items?token=%s", s.baseURL, datasetID, url.QueryEscape(s.apiToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dataset fetch failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// datasetItem covers the fields the supported actors emit for a video.
type datasetItem struct {
	VideoURL     string `mapstructure:"videoUrl"`
	VideoURLAlt  string `mapstructure:"video_url"`
	DownloadURL  string `mapstructure:"downloadUrl"`
	DownloadAlt  string `mapstructure:"download_url"`
	VideoPlayURL string `mapstructure:"videoPlayUrl"`
	MediaURLs    []string
	Formats      []struct {
		URL string `mapstructure:"url"`
	}
	Title        string
	Text         string
	ThumbnailURL string `mapstructure:"thumbnailUrl"`
	Thumbnail    string
	VideoMeta    struct {
		CoverURL string `mapstructure:"coverUrl"`
	} `mapstructure:"videoMeta"`
}

func decodeItem(rawData []byte) (*datasetItem, error) {
	var items []map[string]any
	if err := json.Unmarshal(rawData, &items); err != nil {
		return nil, fmt.Errorf("invalid dataset payload: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("no results returned from scraper")
	}

	var item datasetItem
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &item,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items[0]); err != nil {
		return nil, fmt.Errorf("unexpected dataset item: %w", err)
	}
	return &item, nil
}

func (i *datasetItem) videoURL() string {
	for _, candidate := range []string{i.VideoURL, i.VideoURLAlt, i.DownloadURL, i.DownloadAlt, i.VideoPlayURL} {
		if candidate != "" {
			return candidate
		}
	}
	if len(i.MediaURLs) > 0 && i.MediaURLs[0] != "" {
		return i.MediaURLs[0]
	}
	// Formats are ordered worst to best.
	if n := len(i.Formats); n > 0 {
		return i.Formats[n-1].URL
	}
	return ""
}

func (i *datasetItem) title() string {
	if i.Title != "" {
		return i.Title
	}
	return i.Text
}

func (i *datasetItem) thumbnail() string {
	if i.ThumbnailURL != "" {
		return i.ThumbnailURL
	}
	if i.Thumbnail != "" {
		return i.Thumbnail
	}
	return i.VideoMeta.CoverURL
}
