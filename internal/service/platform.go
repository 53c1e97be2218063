package service

import (
	"net/url"
	"strings"

	"mediafetch/internal/core/domain"
)

var platformHosts = []struct {
	platform domain.Platform
	hosts    []string
}{
	{domain.PlatformYouTube, []string{"youtube.com", "youtu.be", "youtube-nocookie.com"}},
	{domain.PlatformTikTok, []string{"tiktok.com"}},
	{domain.PlatformInstagram, []string{"instagram.com"}},
	{domain.PlatformTwitter, []string{"twitter.com", "x.com"}},
	{domain.PlatformFacebook, []string{"facebook.com", "fb.watch"}},
}

// DetectPlatform classifies a resolved URL by its host.
func DetectPlatform(u *url.URL) domain.Platform {
	if u == nil {
		return domain.PlatformGeneric
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range platformHosts {
		for _, h := range p.hosts {
			if host == h || strings.HasSuffix(host, "."+h) {
				return p.platform
			}
		}
	}
	return domain.PlatformGeneric
}

// OnPlatforms builds a strategy predicate matching any of the given platforms.
func OnPlatforms(platforms ...domain.Platform) Predicate {
	return func(u *url.URL) bool {
		p := DetectPlatform(u)
		for _, want := range platforms {
			if p == want {
				return true
			}
		}
		return false
	}
}

// Always is the predicate of general-purpose strategies.
func Always(*url.URL) bool { return true }
