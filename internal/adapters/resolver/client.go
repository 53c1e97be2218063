package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mitchellh/mapstructure"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
)

// Client is a resolve-then-fetch strategy backed by a cobalt-compatible
// resolve API: the service answers a POST {url} with a direct media link,
// which is then streamed to disk by the downloader.
type Client struct {
	endpoint   string
	apiKey     string
	client     *http.Client
	downloader ports.Downloader
}

// response mirrors the resolve API payload. Only one of URL and Picker is
// set, depending on Status.
type response struct {
	Status   string         `mapstructure:"status"`
	URL      string         `mapstructure:"url"`
	Filename string         `mapstructure:"filename"`
	Picker   []pickerItem   `mapstructure:"picker"`
	Error    map[string]any `mapstructure:"error"`
}

type pickerItem struct {
	Type  string `mapstructure:"type"`
	URL   string `mapstructure:"url"`
	Thumb string `mapstructure:"thumb"`
}

// NewClient creates a resolver strategy. apiKey may be empty for instances
// that do not require authentication.
func NewClient(endpoint, apiKey string, downloader ports.Downloader) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("resolver endpoint not set")
	}
	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		client:     &http.Client{Timeout: 30 * time.Second},
		downloader: downloader,
	}, nil
}

func (c *Client) Name() string { return "resolver" }

func (c *Client) Attempt(ctx context.Context, a ports.Attempt) (*domain.Result, error) {
	if a.Progress != nil {
		a.Progress(domain.Progress{Message: "Resolving media link"})
	}

	res, err := c.resolve(ctx, a.URL.String())
	if err != nil {
		return nil, err
	}

	mediaURL, name, thumb, err := pick(res)
	if err != nil {
		return nil, err
	}
	if a.Progress != nil {
		a.Progress(domain.Progress{Message: "Downloading media", Thumbnail: thumb})
	}

	out, err := c.downloader.Download(ctx, mediaURL, a.Dir, name, a.Progress)
	if err != nil {
		return nil, err
	}
	return &domain.Result{OutputPath: out, Thumbnail: thumb}, nil
}

func (c *Client) resolve(ctx context.Context, raw string) (*response, error) {
	body, _ := json.Marshal(map[string]string{"url": raw})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("resolve API returned status %d with a non-JSON body", resp.StatusCode)
	}
	var res response
	if err := mapstructure.Decode(payload, &res); err != nil {
		return nil, fmt.Errorf("unexpected resolve payload: %w", err)
	}
	if res.Status == "" && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("resolve API returned status %d", resp.StatusCode)
	}
	return &res, nil
}

// pick selects the media link to download from a resolve response.
func pick(res *response) (mediaURL, name, thumb string, err error) {
	switch res.Status {
	case "tunnel", "redirect", "stream":
		if res.URL == "" {
			return "", "", "", errors.New("resolve API returned no url")
		}
		return res.URL, res.Filename, "", nil
	case "picker":
		for _, item := range res.Picker {
			if item.Type == "video" && item.URL != "" {
				return item.URL, "", item.Thumb, nil
			}
		}
		if len(res.Picker) > 0 && res.Picker[0].URL != "" {
			return res.Picker[0].URL, "", res.Picker[0].Thumb, nil
		}
		return "", "", "", errors.New("resolve API picker held no media")
	case "error":
		code, _ := res.Error["code"].(string)
		if code == "" {
			code = "unknown error"
		}
		return "", "", "", fmt.Errorf("resolve API error: %s", code)
	default:
		return "", "", "", fmt.Errorf("resolve API returned unsupported status %q", res.Status)
	}
}
