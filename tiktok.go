package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/snaplook/scraper/models"
)

type tiktokOEmbed struct {
	ThumbnailURL string `json:"thumbnail_url"`
}

// extractTikTok tries the oEmbed thumbnail first and falls back to scraping
// the resolved page through the reader proxy.
func (s *Scraper) extractTikTok(ctx context.Context, rawURL string) ([]models.ImageCandidate, ExtractOptions, error) {
	const platform = models.PlatformTikTok
	opts := ExtractOptions{TargetAspect: portrait}

	u, ok := parseShareURL(rawURL)
	if !ok {
		return nil, opts, extractionError(platform, ReasonMalformedURL, nil)
	}

	resolved := u.String()
	if isTikTokShortLink(u) {
		final, err := s.resolveRedirect(ctx, resolved)
		if err != nil {
			s.logger.Warn("tiktok redirect resolution failed", "url", resolved, "error", err)
		} else {
			resolved = final
		}
	}

	thumb, err := s.tiktokThumbnail(ctx, resolved)
	if err != nil {
		s.logger.Debug("tiktok oembed unavailable", "error", err)
	}
	if thumb != "" && !s.tiktokLowValue(thumb) {
		return []models.ImageCandidate{{URL: thumb, Priority: 0}}, opts, nil
	}

	body, err := s.fetchReader(ctx, resolved)
	if err != nil {
		return nil, opts, fetchFailure(platform, err)
	}

	found := s.tiktokCandidates(body)
	if len(found) == 0 {
		return nil, opts, noCandidates(platform)
	}
	return found, opts, nil
}

func isTikTokShortLink(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	return host == "vm.tiktok.com" || host == "vt.tiktok.com" || strings.HasPrefix(strings.ToLower(u.Path), "/t/")
}

// resolveRedirect follows redirects and returns the final URL
func (s *Scraper) resolveRedirect(ctx context.Context, target string) (string, error) {
	if s.config.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ResolveTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", target, err)
	}
	resp.Body.Close()
	return resp.Request.URL.String(), nil
}

// tiktokThumbnail queries oEmbed for the video thumbnail
func (s *Scraper) tiktokThumbnail(ctx context.Context, videoURL string) (string, error) {
	if s.config.TikTokOEmbedURL == "" {
		return "", &ConfigurationError{Setting: "tiktok_oembed_url"}
	}
	endpoint, err := url.Parse(s.config.TikTokOEmbedURL)
	if err != nil {
		return "", &ConfigurationError{Setting: "tiktok_oembed_url"}
	}
	q := endpoint.Query()
	q.Set("url", videoURL)
	endpoint.RawQuery = q.Encode()

	res, err := s.get(ctx, endpoint.String(), s.config.ResolveTimeout, s.config.MaxPageSizeBytes)
	if err != nil {
		return "", err
	}

	var payload tiktokOEmbed
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return "", fmt.Errorf("failed to decode oembed response: %w", err)
	}
	return strings.TrimSpace(payload.ThumbnailURL), nil
}

func (s *Scraper) tiktokLowValue(u string) bool {
	return containsAny(strings.ToLower(u), s.patterns.TikTok.LowValue)
}

func (s *Scraper) tiktokCDN(u string) bool {
	return containsAny(strings.ToLower(u), s.patterns.TikTok.CDNHosts)
}

// tiktokCandidates scrapes a reader-proxy page. Origin-quality URLs win
// outright: when any exist, nothing else is returned, so they rank first.
func (s *Scraper) tiktokCandidates(body []byte) []models.ImageCandidate {
	p := s.patterns.TikTok
	page := string(body)

	var origin candidateList
	for _, m := range p.Origin.FindAllString(page, -1) {
		if u := unescapeURL(m); !s.tiktokLowValue(u) {
			origin.add(u, 0)
		}
	}
	if origin.len() > 0 {
		return origin.candidates()
	}

	var list candidateList
	doc := parseHTML(body)
	if doc != nil {
		for _, key := range []string{"og:image", "twitter:image"} {
			if u := unescapeURL(metaContent(doc, key)); u != "" && !s.tiktokLowValue(u) {
				list.add(u, 0)
			}
		}
	}

	for _, m := range p.Cover.FindAllStringSubmatch(page, -1) {
		if u := unescapeURL(m[1]); s.tiktokCDN(u) && !s.tiktokLowValue(u) {
			list.add(u, 1)
		}
	}

	for _, m := range p.Poster.FindAllStringSubmatch(page, -1) {
		if u := unescapeURL(m[1]); !s.tiktokLowValue(u) {
			list.add(u, 3)
		}
	}
	if doc != nil {
		for _, src := range imgSources(doc) {
			if u := unescapeURL(src); s.tiktokCDN(u) && !s.tiktokLowValue(u) {
				list.add(u, 4)
			}
		}
	}
	for _, m := range p.BareURL.FindAllString(page, -1) {
		if u := unescapeURL(m); !s.tiktokLowValue(u) {
			list.add(u, 5)
		}
	}
	for _, m := range p.MarkdownImage.FindAllStringSubmatch(page, -1) {
		if u := unescapeURL(m[1]); !s.tiktokLowValue(u) {
			list.add(u, 6)
		}
	}

	return list.candidates()
}
