// Package scraper turns shared links into a single representative product
// image: classify the link, run the platform extractor, then download the
// first candidate that yields a valid image.
package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/html"

	"github.com/snaplook/scraper/models"
)

// Config contains scraper configuration
type Config struct {
	HTTPTimeout         time.Duration // Upper bound for any request
	QuickTimeout        time.Duration // Raw page fetch for generic links
	ResolveTimeout      time.Duration // Redirect resolution and oEmbed
	ReaderTimeout       time.Duration // Read-only HTML proxy
	RenderTimeout       time.Duration // JS rendering proxy
	ImageTimeout        time.Duration // Per-candidate image download
	MaxImageSizeBytes   int64
	MaxPageSizeBytes    int64
	RenderProxyURL      string // Rendering proxy endpoint (api_key/url query contract)
	RenderAPIKey        string
	RenderWaitMillis    int
	ReaderProxyURL      string // Prefix-style reader proxy, target URL is appended
	TikTokOEmbedURL     string
	InstagramRetries    int // Additional attempts after the first proxy failure
	InstagramImageIndex int // Zero-based pick among deduplicated Instagram candidates
	CropTolerance       float64
	UserAgent           string
}

// DefaultConfig returns default scraper configuration
func DefaultConfig() Config {
	return Config{
		HTTPTimeout:         30 * time.Second,
		QuickTimeout:        8 * time.Second,
		ResolveTimeout:      10 * time.Second,
		ReaderTimeout:       12 * time.Second,
		RenderTimeout:       25 * time.Second,
		ImageTimeout:        15 * time.Second,
		MaxImageSizeBytes:   10 * 1024 * 1024, // 10MB
		MaxPageSizeBytes:    5 * 1024 * 1024,
		RenderProxyURL:      "https://app.scrapingbee.com/api/v1/",
		RenderWaitMillis:    2000,
		ReaderProxyURL:      "https://r.jina.ai/",
		TikTokOEmbedURL:     "https://www.tiktok.com/oembed",
		InstagramRetries:    2,
		InstagramImageIndex: 0,
		CropTolerance:       0.01,
		UserAgent:           "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	}
}

// ImageSink persists selected images. Implemented by storage.Storage and storage.S3Storage.
type ImageSink interface {
	SaveImage(ctx context.Context, data []byte, name, contentType string) (string, error)
	DeleteImage(ctx context.Context, path string) error
}

// Scraper runs extractions and image selection. It keeps no per-call state,
// so one instance can serve concurrent shares.
type Scraper struct {
	config     Config
	httpClient *http.Client
	patterns   *PatternSet
	sink       ImageSink
	logger     *slog.Logger
}

// New creates a new Scraper instance.
// sink may be nil when only extraction is needed.
func New(config Config, sink ImageSink) *Scraper {
	return &Scraper{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		patterns: DefaultPatterns(),
		sink:     sink,
		logger:   slog.Default().With("component", "scraper"),
	}
}

// WithPatterns swaps the pattern tables, mainly for fixture tests
func (s *Scraper) WithPatterns(ps *PatternSet) *Scraper {
	s.patterns = ps
	return s
}

// Config returns the scraper configuration
func (s *Scraper) Config() Config {
	return s.config
}

// httpStatusError is a completed request with a non-200 status
type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

type fetchResult struct {
	Body        []byte
	FinalURL    *url.URL
	ContentType string
}

// get fetches target with its own timeout and a body size cap
func (s *Scraper) get(ctx context.Context, target string, timeout time.Duration, limit int64) (*fetchResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// url.Error repeats the full URL, which may carry an API key
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", redactURL(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if limit > 0 && resp.ContentLength > limit {
		return nil, fmt.Errorf("response too large: %d bytes (max: %d)", resp.ContentLength, limit)
	}

	reader := io.Reader(resp.Body)
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if limit > 0 && int64(len(body)) > limit {
		return nil, fmt.Errorf("response too large: exceeds %d bytes", limit)
	}

	return &fetchResult{
		Body:        body,
		FinalURL:    resp.Request.URL,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// fetchRendered asks the rendering proxy for JS-rendered HTML
func (s *Scraper) fetchRendered(ctx context.Context, target string) ([]byte, error) {
	if s.config.RenderAPIKey == "" {
		return nil, &ConfigurationError{Setting: "render_api_key"}
	}
	if s.config.RenderProxyURL == "" {
		return nil, &ConfigurationError{Setting: "render_proxy_url"}
	}

	endpoint, err := url.Parse(s.config.RenderProxyURL)
	if err != nil {
		return nil, &ConfigurationError{Setting: "render_proxy_url"}
	}
	q := endpoint.Query()
	q.Set("api_key", s.config.RenderAPIKey)
	q.Set("url", target)
	q.Set("render_js", "true")
	if s.config.RenderWaitMillis > 0 {
		q.Set("wait", strconv.Itoa(s.config.RenderWaitMillis))
	}
	endpoint.RawQuery = q.Encode()

	res, err := s.get(ctx, endpoint.String(), s.config.RenderTimeout, s.config.MaxPageSizeBytes)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// fetchReader fetches target through the read-only reader proxy
func (s *Scraper) fetchReader(ctx context.Context, target string) ([]byte, error) {
	if s.config.ReaderProxyURL == "" {
		return nil, &ConfigurationError{Setting: "reader_proxy_url"}
	}
	res, err := s.get(ctx, s.config.ReaderProxyURL+target, s.config.ReaderTimeout, s.config.MaxPageSizeBytes)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// fetchFailure converts a transport error into a platform-tagged extraction error
func fetchFailure(platform models.PlatformKind, err error) error {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return extractionError(platform, ReasonNotConfigured, err)
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return extractionError(platform, ReasonProxyStatus, err)
	}
	return extractionError(platform, ReasonNetwork, err)
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}

// metaContent returns the content of the first meta tag matching each key,
// trying keys in the order given. Keys match property or name attributes.
func metaContent(n *html.Node, keys ...string) string {
	found := make(map[string]string)
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var property, name, content string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "property":
					property = strings.ToLower(attr.Val)
				case "name":
					name = strings.ToLower(attr.Val)
				case "content":
					content = strings.TrimSpace(attr.Val)
				}
			}
			if content != "" {
				for _, key := range []string{property, name} {
					if key != "" {
						if _, seen := found[key]; !seen {
							found[key] = content
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)

	for _, key := range keys {
		if v := found[key]; v != "" {
			return v
		}
	}
	return ""
}

// imgSources lists img src values in document order, falling back to lazy-load attributes
func imgSources(n *html.Node) []string {
	var sources []string
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			var src, dataSrc string
			for _, attr := range n.Attr {
				switch attr.Key {
				case "src":
					src = strings.TrimSpace(attr.Val)
				case "data-src", "data-lazy-src":
					if dataSrc == "" {
						dataSrc = strings.TrimSpace(attr.Val)
					}
				}
			}
			if src == "" || strings.HasPrefix(src, "data:") {
				src = dataSrc
			}
			if src != "" {
				sources = append(sources, src)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sources
}

func parseHTML(body []byte) *html.Node {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	return doc
}

// resolveURL resolves a potentially relative URL against a base URL
func resolveURL(base *url.URL, href string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", err
	}
	return base.ResolveReference(parsed).String(), nil
}

var unicodeEscape = regexp.MustCompile(`\\u([0-9a-fA-F]{4})`)

// unescapeURL undoes JSON and HTML escaping found in scraped markup
func unescapeURL(s string) string {
	s = strings.ReplaceAll(s, `\/`, `/`)
	s = unicodeEscape.ReplaceAllStringFunc(s, func(m string) string {
		code, err := strconv.ParseUint(m[2:], 16, 32)
		if err != nil {
			return m
		}
		return string(rune(code))
	})
	s = strings.ReplaceAll(s, "&amp;", "&")
	return strings.TrimRight(s, `\`)
}

// candidateList collects URLs in priority order, dropping duplicates
type candidateList struct {
	seen  map[string]struct{}
	items []candidate
}

type candidate struct {
	url      string
	priority int
}

func (l *candidateList) add(u string, priority int) bool {
	u = strings.TrimSpace(u)
	if u == "" {
		return false
	}
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, dup := l.seen[u]; dup {
		return false
	}
	l.seen[u] = struct{}{}
	l.items = append(l.items, candidate{url: u, priority: priority})
	return true
}

func (l *candidateList) len() int {
	return len(l.items)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}
