package service

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxMessageLength = 300

var (
	// CSI (ESC [ ... final), OSC (ESC ] ... BEL|ST) and two-byte escapes.
	ansiCSI = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
	ansiOSC = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	ansiEsc = regexp.MustCompile(`\x1b[@-Z\\-_]`)
)

// SanitizeMessage makes raw error text presentable: terminal escape
// sequences and control characters are removed and only the first
// non-empty line is kept.
func SanitizeMessage(raw string) string {
	s := ansiOSC.ReplaceAllString(raw, "")
	s = ansiCSI.ReplaceAllString(s, "")
	s = ansiEsc.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var line string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(stripControl(l)); l != "" {
			line = l
			break
		}
	}

	if utf8.RuneCountInString(line) > maxMessageLength {
		line = string([]rune(line)[:maxMessageLength]) + "..."
	}
	return line
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}
