package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplook/scraper/models"
)

// tiktokBackend fakes the video host, oEmbed and the reader proxy on one
// server. A plain handler is used because ServeMux would clean the
// reader paths, which embed a full URL.
type tiktokBackend struct {
	server *httptest.Server

	mu         sync.Mutex
	thumbnail  string
	oembedFail bool
	readerPage []byte
	oembedURL  string
	readerHits int
}

func newTikTokBackend(t *testing.T) *tiktokBackend {
	t.Helper()
	b := &tiktokBackend{}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *tiktokBackend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/t/"):
		http.Redirect(w, r, "/@stylist/video/7234567890", http.StatusFound)
	case strings.HasPrefix(r.URL.Path, "/@"):
		w.Write([]byte("<html>video page</html>"))
	case r.URL.Path == "/oembed":
		b.oembedURL = r.URL.Query().Get("url")
		if b.oembedFail {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"thumbnail_url": b.thumbnail})
	case strings.HasPrefix(r.URL.Path, "/reader/"):
		b.readerHits++
		if b.readerPage == nil {
			http.Error(w, "blocked", http.StatusForbidden)
			return
		}
		w.Write(b.readerPage)
	default:
		http.NotFound(w, r)
	}
}

func (b *tiktokBackend) hits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.readerHits
}

func (b *tiktokBackend) lastOEmbedURL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oembedURL
}

func (b *tiktokBackend) scraper() *Scraper {
	cfg := testConfig()
	cfg.TikTokOEmbedURL = b.server.URL + "/oembed"
	cfg.ReaderProxyURL = b.server.URL + "/reader/"
	return New(cfg, nil)
}

func TestExtractTikTokUsesOEmbedThumbnail(t *testing.T) {
	b := newTikTokBackend(t)
	b.thumbnail = "https://p16-sign.tiktokcdn-us.com/obj/oembed-cover.jpeg"

	found, opts, err := b.scraper().Extract(context.Background(), models.PlatformTikTok, b.server.URL+"/@stylist/video/7234567890")
	require.NoError(t, err)

	assert.Equal(t, []models.ImageCandidate{{URL: b.thumbnail, Priority: 0}}, found)
	assert.InDelta(t, 9.0/16.0, opts.TargetAspect, 1e-9)
	assert.Zero(t, b.hits())
}

func TestExtractTikTokResolvesShortLinks(t *testing.T) {
	b := newTikTokBackend(t)
	b.thumbnail = "https://p16-sign.tiktokcdn-us.com/obj/oembed-cover.jpeg"

	_, _, err := b.scraper().Extract(context.Background(), models.PlatformTikTok, b.server.URL+"/t/ZT8abc/")
	require.NoError(t, err)

	assert.Equal(t, b.server.URL+"/@stylist/video/7234567890", b.lastOEmbedURL())
}

func TestExtractTikTokLowValueThumbnailFallsThrough(t *testing.T) {
	b := newTikTokBackend(t)
	b.thumbnail = "https://p16-sign.tiktokcdn-us.com/avatar/100x100/user.jpeg"
	b.readerPage = loadFixture(t, "tiktok_reader.html")

	found, _, err := b.scraper().Extract(context.Background(), models.PlatformTikTok, b.server.URL+"/@stylist/video/7234567890")
	require.NoError(t, err)

	assert.Equal(t, 1, b.hits())
	require.NotEmpty(t, found)
	assert.NotContains(t, found[0].URL, "avatar")
}

func TestExtractTikTokOEmbedFailureUsesReader(t *testing.T) {
	b := newTikTokBackend(t)
	b.oembedFail = true
	b.readerPage = loadFixture(t, "tiktok_reader.html")

	found, _, err := b.scraper().Extract(context.Background(), models.PlatformTikTok, b.server.URL+"/@stylist/video/7234567890")
	require.NoError(t, err)

	assert.Equal(t, []models.ImageCandidate{{
		URL:      "https://p19-sign.tiktokcdn-us.com/tos-useast5-p-0068-tx/abc~tplv-photomode-origin.image?x-expires=1",
		Priority: 0,
	}}, found, "origin covers win outright")
}

func TestExtractTikTokReaderFailure(t *testing.T) {
	b := newTikTokBackend(t)
	b.oembedFail = true

	_, _, err := b.scraper().Extract(context.Background(), models.PlatformTikTok, b.server.URL+"/@stylist/video/7234567890")

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, models.PlatformTikTok, extErr.Platform)
	assert.Equal(t, ReasonProxyStatus, extErr.Reason)
}

func TestTikTokCandidatesFallbackTiers(t *testing.T) {
	s := New(testConfig(), nil)
	found := s.tiktokCandidates(loadFixture(t, "tiktok_reader_fallback.md"))

	assert.Equal(t, []models.ImageCandidate{
		{URL: "https://p16-sign.tiktokcdn-us.com/obj/og-cover.jpeg?x=1", Priority: 0},
		{URL: "https://p16-sign.tiktokcdn-us.com/obj/json-cover.jpeg", Priority: 1},
		{URL: "https://p16-sign.tiktokcdn-us.com/obj/poster.jpeg", Priority: 3},
		{URL: "https://p77.ibyteimg.com/obj/markdown-frame.png", Priority: 5},
	}, found)
	for _, c := range found {
		assert.False(t, s.tiktokLowValue(c.URL), c.URL)
	}
}

func TestIsTikTokShortLink(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://vm.tiktok.com/ZM123/", true},
		{"https://vt.tiktok.com/ZS9/", true},
		{"https://www.tiktok.com/t/ZT8abc/", true},
		{"https://www.tiktok.com/@user/video/7234", false},
	}

	for _, tt := range tests {
		u, ok := parseShareURL(tt.url)
		require.True(t, ok)
		assert.Equal(t, tt.want, isTikTokShortLink(u), tt.url)
	}
}
