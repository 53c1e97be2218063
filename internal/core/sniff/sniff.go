// Package sniff is a heuristic gate that tells genuine media files apart from
// error pages saved under a media extension.
//
// It is not a codec validator: extension, size and absence of markup in the
// leading bytes are treated as sufficient. An adversarial payload built to
// pass those checks will pass them.
package sniff

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultMinSize is the smallest file accepted as media.
	DefaultMinSize = 10 * 1024
	headSize       = 1024
)

// MediaExtensions is the accepted extension set (lower case, with dot).
var MediaExtensions = map[string]struct{}{
	".mp4": {}, ".m4v": {}, ".mkv": {}, ".webm": {}, ".mov": {}, ".avi": {},
	".flv": {}, ".3gp": {}, ".ts": {}, ".mp3": {}, ".m4a": {}, ".aac": {},
	".ogg": {}, ".opus": {}, ".wav": {}, ".flac": {},
}

// markupSignatures are matched case-insensitively against the first KiB.
var markupSignatures = [][]byte{
	[]byte("<!doctype html"),
	[]byte("<html"),
	[]byte("<head"),
	[]byte("<body"),
	[]byte("<title"),
	[]byte("<script"),
	// saved-page (MHTML) archives
	[]byte("mime-version:"),
	[]byte("multipart/related"),
	[]byte("saved by"),
	[]byte("snapshot-content-location"),
}

// Sniffer holds the tunables of the gate.
type Sniffer struct {
	MinSize int64
	// Strict additionally requires a magic-byte match on a video/* or
	// audio/* MIME type.
	Strict bool
}

// New returns a Sniffer. A non-positive minSize selects DefaultMinSize.
func New(minSize int64, strict bool) *Sniffer {
	if minSize <= 0 {
		minSize = DefaultMinSize
	}
	return &Sniffer{MinSize: minSize, Strict: strict}
}

// IsValidMedia reports whether path looks like a genuine media file.
func (s *Sniffer) IsValidMedia(path string) bool {
	return s.Check(path) == ""
}

// Check runs the gate and returns the rejection reason, or "" on accept.
func (s *Sniffer) Check(path string) string {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "file does not exist"
	}

	if _, ok := MediaExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
		return "unsupported extension " + filepath.Ext(path)
	}

	if info.Size() < s.MinSize {
		return "file too small to be media"
	}

	head, err := readHead(path)
	if err != nil {
		return "unreadable file"
	}
	lower := bytes.ToLower(head)
	for _, sig := range markupSignatures {
		if bytes.Contains(lower, sig) {
			return "file contains markup (" + string(sig) + ")"
		}
	}

	if s.Strict {
		mt := mimetype.Detect(head)
		for m := mt; m != nil; m = m.Parent() {
			if strings.HasPrefix(m.String(), "video/") || strings.HasPrefix(m.String(), "audio/") {
				return ""
			}
		}
		return "unrecognised media signature " + mt.String()
	}
	return ""
}

func readHead(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, headSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return buf[:n], nil
}
