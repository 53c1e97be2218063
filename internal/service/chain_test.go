package service

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"

	"mediafetch/internal/core/domain"
	"mediafetch/internal/core/ports"
)

func names(strategies []ports.Strategy) []string {
	out := make([]string, 0, len(strategies))
	for _, s := range strategies {
		out = append(out, s.Name())
	}
	return out
}

func TestChainOrderAndFallback(t *testing.T) {
	chain := NewChain(failing("generic", "x")).
		Register(OnPlatforms(domain.PlatformYouTube, domain.PlatformTikTok), failing("direct", "x")).
		Register(OnPlatforms(domain.PlatformTikTok), failing("apify", "x")).
		Register(Always, failing("resolver", "x"))

	yt, _ := url.Parse("https://youtu.be/abc")
	tt, _ := url.Parse("https://www.tiktok.com/@u/video/1")
	other, _ := url.Parse("https://example.com/clip")

	assert.Equal(t, []string{"direct", "resolver", "generic"}, names(chain.For(yt)))
	assert.Equal(t, []string{"direct", "apify", "resolver", "generic"}, names(chain.For(tt)))
	assert.Equal(t, []string{"resolver", "generic"}, names(chain.For(other)))
	assert.Equal(t, []string{"direct", "apify", "resolver", "generic"}, chain.Names())
}

func TestChainFallbackOnly(t *testing.T) {
	u, _ := url.Parse("https://example.com")
	assert.Equal(t, []string{"generic"}, names(NewChain(failing("generic", "x")).For(u)))
}

func TestChainRequiresFallback(t *testing.T) {
	assert.Panics(t, func() { NewChain(nil) })
}
