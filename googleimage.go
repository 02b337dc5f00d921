package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/snaplook/scraper/models"
)

// extractGoogleImage returns the original image behind an image-search result
func (s *Scraper) extractGoogleImage(_ context.Context, rawURL string) ([]models.ImageCandidate, ExtractOptions, error) {
	const platform = models.PlatformGoogleImage
	u, ok := parseShareURL(rawURL)
	if !ok {
		return nil, ExtractOptions{}, extractionError(platform, ReasonMalformedURL, nil)
	}

	target, ok := imgurlParam(u)
	if !ok {
		return nil, ExtractOptions{}, extractionError(platform, ReasonMalformedURL, fmt.Errorf("imgurl parameter missing or not http(s)"))
	}
	return []models.ImageCandidate{{URL: target, Priority: 0}}, ExtractOptions{}, nil
}

// imgurlParam reads the percent-decoded imgurl parameter and requires it to be http(s)
func imgurlParam(u *url.URL) (string, bool) {
	target := strings.TrimSpace(u.Query().Get("imgurl"))
	if _, ok := parseShareURL(target); !ok {
		return "", false
	}
	return target, true
}
