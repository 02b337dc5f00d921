package scraper

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/snaplook/scraper/models"
)

// extractPinterest renders the pin through the proxy and collects pinimg
// URLs, best resolution first.
func (s *Scraper) extractPinterest(ctx context.Context, rawURL string) ([]models.ImageCandidate, ExtractOptions, error) {
	const platform = models.PlatformPinterest
	if _, ok := parseShareURL(rawURL); !ok {
		return nil, ExtractOptions{}, extractionError(platform, ReasonMalformedURL, nil)
	}

	body, err := s.fetchRendered(ctx, strings.TrimSpace(rawURL))
	if err != nil {
		return nil, ExtractOptions{}, fetchFailure(platform, err)
	}

	found := s.pinterestCandidates(body)
	if len(found) == 0 {
		return nil, ExtractOptions{}, noCandidates(platform)
	}
	return found, ExtractOptions{}, nil
}

func (s *Scraper) pinterestCandidates(body []byte) []models.ImageCandidate {
	p := s.patterns.Pinterest
	page := string(body)
	var list candidateList

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		og := doc.Find(`meta[property="og:image"]`).First().AttrOr("content", "")
		list.add(unescapeURL(og), 0)
	}

	for i, re := range []*regexp.Regexp{p.Originals, p.Medium, p.AnyImage} {
		for _, m := range re.FindAllString(page, -1) {
			list.add(unescapeURL(m), i+1)
		}
	}

	return list.candidates()
}
