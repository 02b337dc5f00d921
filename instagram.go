package scraper

import (
	"context"
	"net/url"
	"strings"

	"github.com/snaplook/scraper/models"
)

// extractInstagram renders the post through the proxy and picks a single
// image. Only transport failures are retried; a rendered page without
// candidates is final.
func (s *Scraper) extractInstagram(ctx context.Context, rawURL string) ([]models.ImageCandidate, ExtractOptions, error) {
	const platform = models.PlatformInstagram
	if _, ok := parseShareURL(rawURL); !ok {
		return nil, ExtractOptions{}, extractionError(platform, ReasonMalformedURL, nil)
	}
	if s.config.RenderAPIKey == "" {
		return nil, ExtractOptions{}, fetchFailure(platform, &ConfigurationError{Setting: "render_api_key"})
	}

	attempts := 1 + max(0, s.config.InstagramRetries)
	var body []byte
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		body, lastErr = s.fetchRendered(ctx, strings.TrimSpace(rawURL))
		if lastErr == nil || ctx.Err() != nil || IsConfigurationError(lastErr) {
			break
		}
		s.logger.Warn("instagram render failed", "attempt", attempt, "max_attempts", attempts, "error", lastErr)
	}
	if lastErr != nil {
		return nil, ExtractOptions{}, fetchFailure(platform, lastErr)
	}

	found := s.instagramCandidates(body)
	if len(found) == 0 {
		return nil, ExtractOptions{}, noCandidates(platform)
	}

	idx := s.config.InstagramImageIndex
	if idx < 0 {
		idx = 0
	}
	if idx >= len(found) {
		idx = len(found) - 1
	}
	return []models.ImageCandidate{found[idx]}, ExtractOptions{}, nil
}

// instagramCandidates lists every usable image in priority order
func (s *Scraper) instagramCandidates(body []byte) []models.ImageCandidate {
	p := s.patterns.Instagram
	page := string(body)
	var list candidateList

	for _, m := range p.ImageURL.FindAllString(page, -1) {
		u := unescapeURL(m)
		if containsAny(u, p.Markers) {
			list.add(s.cleanInstagramURL(u), 0)
			break
		}
	}

	if m := p.DisplayURL.FindStringSubmatch(page); m != nil {
		list.add(s.cleanInstagramURL(unescapeURL(m[1])), 1)
	}

	if doc := parseHTML(body); doc != nil {
		taken := 0
		for _, src := range imgSources(doc) {
			if taken >= p.MaxImgTags {
				break
			}
			u := unescapeURL(src)
			if containsAny(u, p.Markers) {
				list.add(s.cleanInstagramURL(u), 2)
				taken++
			}
		}
		if og := metaContent(doc, "og:image"); og != "" {
			list.add(s.cleanInstagramURL(unescapeURL(og)), 3)
		}
	}

	return list.candidates()
}

// cleanInstagramURL requests the unscaled original. URLs carrying a cache-key
// marker are signed and returned untouched.
func (s *Scraper) cleanInstagramURL(raw string) string {
	p := s.patterns.Instagram
	if containsAny(raw, p.Markers) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery != "" {
		q := u.Query()
		for _, param := range p.StripParams {
			q.Del(param)
		}
		u.RawQuery = q.Encode()
	}
	u.Path = p.SizePath.ReplaceAllString(u.Path, "/")
	u.Path = p.SizeSuffix.ReplaceAllString(u.Path, "")
	u.RawPath = ""
	return u.String()
}
