package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
	"mediafetch/internal/core/sniff"
	"mediafetch/internal/logger"
)

var log = logger.Get("HTTPDownloader")

const (
	defaultRetries   = 3
	progressInterval = 500 * time.Millisecond
	maxNameLength    = 150
)

// HTTPDownloader implements ports.Downloader using standard HTTP.
type HTTPDownloader struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

// NewHTTPDownloader creates a new HTTPDownloader.
func NewHTTPDownloader() *HTTPDownloader {
	return &HTTPDownloader{
		client: &http.Client{
			Timeout: 30 * time.Minute, // Videos can be large
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: time.Minute,
			},
		},
		retries: defaultRetries,
		backoff: 2 * time.Second,
	}
}

// WithClient swaps the HTTP client and retry backoff, mainly for tests.
func (d *HTTPDownloader) WithClient(client *http.Client, backoff time.Duration) *HTTPDownloader {
	d.client = client
	d.backoff = backoff
	return d
}

type retryableError struct{ error }

func (e retryableError) Unwrap() error { return e.error }

// Download fetches mediaURL into dir, retrying transient failures a small
// fixed number of times.
func (d *HTTPDownloader) Download(ctx context.Context, mediaURL, dir, nameHint string, progress ports.ProgressFunc) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= d.retries; attempt++ {
		if attempt > 1 {
			log.Warnf("Retrying download (%d/%d) after: %v\n", attempt, d.retries, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(d.backoff):
			}
		}

		out, err := d.download(ctx, mediaURL, dir, nameHint, progress)
		if err == nil {
			return out, nil
		}
		lastErr = err

		var retry retryableError
		if !errors.As(err, &retry) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (d *HTTPDownloader) download(ctx context.Context, mediaURL, dir, nameHint string, progress ports.ProgressFunc) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; mediafetch)")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", retryableError{fmt.Errorf("failed to download video: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", retryableError{err}
		}
		return "", err
	}

	tmp := filepath.Join(dir, uuid.NewString()+".part")
	file, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create video file %s: %w", tmp, err)
	}

	w := &progressWriter{w: file, total: resp.ContentLength, report: progress}
	_, copyErr := io.Copy(w, resp.Body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmp)
		if copyErr != nil {
			return "", retryableError{fmt.Errorf("failed to write video file: %w", copyErr)}
		}
		return "", fmt.Errorf("failed to close video file: %w", closeErr)
	}
	w.flush()

	name := fileName(nameHint, mediaURL, resp.Header.Get("Content-Type"), tmp)
	final := filepath.Join(dir, name)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalise %s: %w", name, err)
	}
	return final, nil
}

// fileName picks a safe output name. The extension comes from the hint, the
// URL path, the Content-Type header or the file's magic bytes, in that order.
// A hint suffix that is not a media extension ("Episode 2.5") is part of the
// base name.
func fileName(hint, mediaURL, contentType, written string) string {
	base := SanitizeName(hint)
	if isMediaExt(filepath.Ext(base)) {
		return base
	}

	ext := extFromURL(mediaURL)
	if ext == "" {
		ext = extFromContentType(contentType)
	}
	if ext == "" {
		if mt, err := mimetype.DetectFile(written); err == nil {
			ext = mt.Extension()
		}
	}
	if ext == "" {
		ext = ".mp4"
	}
	if base == "" {
		base = "video"
	}
	return base + ext
}

func extFromURL(raw string) string {
	i := strings.IndexAny(raw, "?#")
	if i >= 0 {
		raw = raw[:i]
	}
	ext := strings.ToLower(path.Ext(raw))
	if isMediaExt(ext) {
		return ext
	}
	return ""
}

func isMediaExt(ext string) bool {
	_, ok := sniff.MediaExtensions[strings.ToLower(ext)]
	return ok
}

func extFromContentType(ct string) string {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType == "application/octet-stream" {
		return ""
	}
	if m := mimetype.Lookup(mediaType); m != nil {
		return m.Extension()
	}
	return ""
}

// SanitizeName reduces s to a single safe path component.
func SanitizeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	s = strings.Trim(s, ". ")
	if len(s) > maxNameLength {
		ext := filepath.Ext(s)
		if !isMediaExt(ext) {
			ext = ""
		}
		stem, limit := s[:len(s)-len(ext)], maxNameLength-len(ext)
		// Cut on a rune boundary.
		cut := 0
		for i := range stem {
			if i > limit {
				break
			}
			cut = i
		}
		s = strings.TrimSpace(stem[:cut]) + ext
	}
	return s
}

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	last    time.Time
	report  ports.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.report != nil && time.Since(p.last) >= progressInterval {
		p.flush()
	}
	return n, err
}

func (p *progressWriter) flush() {
	if p.report == nil {
		return
	}
	p.last = time.Now()
	total := p.total
	if total < 0 {
		total = 0
	}
	p.report(domain.Progress{Downloaded: p.written, Total: total})
}
