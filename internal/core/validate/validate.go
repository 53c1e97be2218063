// Package validate decides whether a submitted URL may become a job.
package validate

import (
	"net/url"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"

	"mediafetch/internal/core/domain"
)

// Validator checks submitted URLs. The zero allow-list accepts any
// well-formed http(s) URL.
type Validator struct {
	validate     *validator.Validate
	allowedHosts []string
}

// New creates a Validator. Host patterns are matched case-insensitively
// against the URL host with path.Match semantics, and a bare pattern also
// matches any subdomain ("youtube.com" matches "www.youtube.com").
func New(allowedHosts ...string) *Validator {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Validator{validate: validator.New(), allowedHosts: hosts}
}

// URL validates raw and returns the parsed form.
func (v *Validator) URL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &domain.ValidationError{Reason: "url is required"}
	}
	if err := v.validate.Var(raw, "url"); err != nil {
		return nil, &domain.ValidationError{Reason: "malformed url"}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, &domain.ValidationError{Reason: "malformed url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &domain.ValidationError{Reason: "scheme must be http or https"}
	}
	if u.Hostname() == "" {
		return nil, &domain.ValidationError{Reason: "missing host"}
	}
	if !v.hostAllowed(u.Hostname()) {
		return nil, &domain.ValidationError{Reason: "host " + u.Hostname() + " is not allowed"}
	}
	return u, nil
}

func (v *Validator) hostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, pattern := range v.allowedHosts {
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
		if host == pattern || strings.HasSuffix(host, "."+pattern) {
			return true
		}
	}
	return false
}
