package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
	"mediafetch/internal/logger"
)

var log = logger.Get("yt-dlp")

const (
	// FormatMP4 prefers a merged mp4/m4a pair, then any single mp4, then
	// anything carrying audio.
	FormatMP4 = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best[acodec!=none]"
	// FormatBest is the generic selector of the last-resort strategy.
	FormatBest = "best"

	defaultRetries = 5
	outputTemplate = "%(title).100B-%(id)s.%(ext)s"
)

// Options configures the yt-dlp invocation shared by every extractor.
type Options struct {
	BinaryPath  string // empty uses yt-dlp from PATH
	CookiesFile string // optional Netscape cookie jar
	Retries     int
}

// Extractor is a direct-extraction strategy backed by the yt-dlp binary.
type Extractor struct {
	name   string
	format string
	opts   Options
}

// NewExtractor creates an extractor named name that selects streams with
// the given yt-dlp format expression.
func NewExtractor(name, format string, opts Options) *Extractor {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.CookiesFile != "" {
		if _, err := os.Stat(opts.CookiesFile); err != nil {
			log.Warnf("Cookies file %q not found, downloads may fail\n", opts.CookiesFile)
			opts.CookiesFile = ""
		}
	}
	return &Extractor{name: name, format: format, opts: opts}
}

func (e *Extractor) Name() string { return e.name }

// Attempt downloads the media for a.URL into a.Dir.
func (e *Extractor) Attempt(ctx context.Context, a ports.Attempt) (*domain.Result, error) {
	retries := strconv.Itoa(e.opts.Retries)
	cmd := ytdlp.New().
		Format(e.format).
		NoPlaylist().
		NoCheckCertificates().
		RestrictFilenames().
		Retries(retries).
		FragmentRetries(retries).
		PrintJSON().
		Output(filepath.Join(a.Dir, outputTemplate))
	if e.opts.BinaryPath != "" {
		cmd.SetExecutable(e.opts.BinaryPath)
	}
	if e.opts.CookiesFile != "" {
		cmd.Cookies(e.opts.CookiesFile)
	}

	cmd.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		if a.Progress == nil {
			return
		}
		p := domain.Progress{
			Downloaded: int64(update.DownloadedBytes),
			Total:      int64(update.TotalBytes),
		}
		if update.Info != nil {
			if update.Info.Title != nil {
				p.Title = *update.Info.Title
			}
			if update.Info.Thumbnail != nil {
				p.Thumbnail = *update.Info.Thumbnail
			}
		}
		a.Progress(p)
	})

	res, err := cmd.Run(ctx, a.URL.String())
	if err != nil {
		if res != nil {
			if line := lastErrorLine(res.Stderr); line != "" {
				return nil, fmt.Errorf("yt-dlp failed: %s", line)
			}
		}
		return nil, fmt.Errorf("yt-dlp failed: %w", err)
	}

	out, err := findOutput(a.Dir)
	if err != nil {
		return nil, err
	}

	result := &domain.Result{OutputPath: out}
	if infos, err := res.GetExtractedInfo(); err == nil && len(infos) > 0 {
		if infos[0].Title != nil {
			result.Title = *infos[0].Title
		}
		if infos[0].Thumbnail != nil {
			result.Thumbnail = *infos[0].Thumbnail
		}
	}
	return result, nil
}

// lastErrorLine returns the last "ERROR:" line yt-dlp printed, or the last
// non-empty line.
func lastErrorLine(stderr string) string {
	var last string
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if strings.Contains(line, "ERROR:") {
			return line
		}
		if last == "" {
			last = line
		}
	}
	return last
}

var leftoverSuffixes = []string{".part", ".ytdl", ".json", ".tmp", ".temp"}

// findOutput picks the largest finished file yt-dlp left in dir.
func findOutput(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read output directory: %w", err)
	}

	var best string
	var bestSize int64 = -1
entries:
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := strings.ToLower(entry.Name())
		for _, suffix := range leftoverSuffixes {
			if strings.HasSuffix(name, suffix) {
				continue entries
			}
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.Size() > bestSize {
			best, bestSize = filepath.Join(dir, entry.Name()), info.Size()
		}
	}
	if best == "" {
		return "", errors.New("yt-dlp produced no output file")
	}
	return best, nil
}
