package scraper

import (
	"bytes"
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/snaplook/scraper/models"
)

var genericMetaSelectors = []string{
	`meta[property="og:image"]`,
	`meta[property="og:image:url"]`,
	`meta[property="og:image:secure_url"]`,
	`meta[name="twitter:image"]`,
	`meta[property="twitter:image"]`,
	`meta[name="twitter:image:src"]`,
}

// extractGeneric handles any other link with a single plain GET. Pages that
// need JavaScript simply yield nothing.
func (s *Scraper) extractGeneric(ctx context.Context, rawURL string) ([]models.ImageCandidate, ExtractOptions, error) {
	const platform = models.PlatformGenericLink
	u, ok := parseShareURL(rawURL)
	if !ok {
		return nil, ExtractOptions{}, extractionError(platform, ReasonMalformedURL, nil)
	}

	if isGoogleImgres(u) {
		if target, ok := imgurlParam(u); ok {
			return []models.ImageCandidate{{URL: target, Priority: 0}}, ExtractOptions{}, nil
		}
	}
	if s.isDirectImage(u) {
		return []models.ImageCandidate{{URL: u.String(), Priority: 0}}, ExtractOptions{}, nil
	}

	res, err := s.get(ctx, u.String(), s.config.QuickTimeout, s.config.MaxPageSizeBytes)
	if err != nil {
		return nil, ExtractOptions{}, fetchFailure(platform, err)
	}

	found := s.genericCandidates(res.Body, res.FinalURL)
	if len(found) == 0 {
		return nil, ExtractOptions{}, noCandidates(platform)
	}
	return found, ExtractOptions{}, nil
}

func isGoogleImgres(u *url.URL) bool {
	return strings.Contains(strings.ToLower(u.Hostname()), "google.") &&
		strings.Contains(strings.ToLower(u.Path), "/imgres")
}

// isDirectImage reports whether the link already points at an image file
func (s *Scraper) isDirectImage(u *url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range s.patterns.Generic.ImageExtensions {
		if ext == e {
			return true
		}
	}
	return containsAny(strings.ToLower(u.String()), s.patterns.Generic.ThumbnailHosts)
}

// genericCandidates takes at most one social preview image, then up to
// MaxImgTags inline images that survive the noise filters.
func (s *Scraper) genericCandidates(body []byte, pageURL *url.URL) []models.ImageCandidate {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && pageURL != nil {
		if resolved, err := resolveURL(pageURL, href); err == nil {
			if b, err := url.Parse(resolved); err == nil {
				base = b
			}
		}
	}

	absolute := func(href string) string {
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "data:") {
			return ""
		}
		if base == nil {
			return href
		}
		resolved, err := resolveURL(base, href)
		if err != nil {
			return ""
		}
		if _, ok := parseShareURL(resolved); !ok {
			return ""
		}
		return resolved
	}

	var list candidateList
	for _, sel := range genericMetaSelectors {
		content := doc.Find(sel).First().AttrOr("content", "")
		if u := absolute(content); u != "" && !s.shouldSkipImage(u) {
			list.add(u, 0)
			break
		}
	}

	taken := 0
	doc.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if taken >= s.patterns.Generic.MaxImgTags {
			return false
		}
		src := img.AttrOr("src", "")
		if src == "" || strings.HasPrefix(src, "data:") {
			src = img.AttrOr("data-src", img.AttrOr("data-lazy-src", ""))
		}
		u := absolute(src)
		if u == "" || s.shouldSkipImage(u) {
			return true
		}
		if list.add(u, 1) {
			taken++
		}
		return true
	})

	return list.candidates()
}

// shouldSkipImage checks if an image URL is decoration, tracking or a noise host
func (s *Scraper) shouldSkipImage(imageURL string) bool {
	lower := strings.ToLower(imageURL)
	g := s.patterns.Generic

	// Thumbnail hosts share a domain with noise hosts but are real images
	if containsAny(lower, g.ThumbnailHosts) {
		return false
	}
	if containsAny(lower, g.NoiseHosts) {
		return true
	}

	u, err := url.Parse(lower)
	if err != nil {
		return true
	}
	for _, kw := range g.SkipKeywords {
		if hasPathToken(u.Path, kw) {
			return true
		}
	}
	return false
}

// hasPathToken matches kw as a whole path token (plural allowed), so "logo"
// hits "site-logo.png" and "/icons/" but "blank" leaves "blanket.jpg" alone.
func hasPathToken(p, kw string) bool {
	if kw == "" {
		return false
	}
	for offset := 0; ; {
		idx := strings.Index(p[offset:], kw)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(kw)
		if end < len(p) && p[end] == 's' {
			end++
		}
		if (start == 0 || !isAlnum(p[start-1])) && (end == len(p) || !isAlnum(p[end])) {
			return true
		}
		offset = start + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
