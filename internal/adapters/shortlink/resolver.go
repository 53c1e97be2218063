package shortlink

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHosts are link shorteners and share-link hosts that hide the
// real media page behind a redirect.
var DefaultHosts = []string{
	"vm.tiktok.com", "vt.tiktok.com", "bit.ly", "t.co", "tinyurl.com",
	"goo.gl", "ow.ly", "is.gd", "buff.ly", "pin.it", "fb.watch", "shorturl.at",
}

const maxRedirects = 10

// Resolver expands short links by following redirects.
type Resolver struct {
	hosts  []string
	client *http.Client
}

// NewResolver creates a Resolver for the given hosts; none selects DefaultHosts.
func NewResolver(hosts ...string) *Resolver {
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	return &Resolver{
		hosts: hosts,
		client: &http.Client{
			Timeout: 15 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

// Matches reports whether rawURL is on a known short-link host.
func (r *Resolver) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range r.hosts {
		if host == h {
			return true
		}
	}
	return false
}

// Resolve returns the final URL after redirects. URLs on other hosts are
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if !r.Matches(rawURL) {
		return rawURL, nil
	}

	final, err := r.follow(ctx, http.MethodHead, rawURL)
	if err != nil {
		// Some shorteners reject HEAD.
		final, err = r.follow(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		return rawURL, fmt.Errorf("failed to resolve short link: %w", err)
	}
	return final, nil
}

func (r *Resolver) follow(ctx context.Context, method, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; mediafetch)")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return resp.Request.URL.String(), nil
}
