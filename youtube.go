package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/snaplook/scraper/models"
)

var youtubeIDPrefixes = []string{"/shorts/", "/v/", "/embed/", "/live/"}

// ExtractYouTubeVideoID finds the video id in a watch, short, shorts or
// embed URL. The scheme is optional.
func ExtractYouTubeVideoID(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, ".youtu.be"):
		id = strings.TrimPrefix(u.Path, "/")
	case strings.Contains(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		for _, prefix := range youtubeIDPrefixes {
			if idx := strings.Index(u.Path, prefix); idx >= 0 {
				id = u.Path[idx+len(prefix):]
				break
			}
		}
	default:
		return "", false
	}

	id = trimVideoID(id)
	return id, id != ""
}

// trimVideoID cuts the id at the first character that cannot be part of it
func trimVideoID(id string) string {
	for i, r := range id {
		isIDChar := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_'
		if !isIDChar {
			return id[:i]
		}
	}
	return id
}

// extractYouTube builds the thumbnail grid for the video. No network access.
func (s *Scraper) extractYouTube(_ context.Context, rawURL string) ([]models.ImageCandidate, ExtractOptions, error) {
	const platform = models.PlatformYouTube
	id, ok := ExtractYouTubeVideoID(rawURL)
	if !ok {
		return nil, ExtractOptions{}, extractionError(platform, ReasonMalformedURL, fmt.Errorf("no video id in %q", rawURL))
	}

	var opts ExtractOptions
	if strings.Contains(strings.ToLower(rawURL), "/shorts/") {
		opts.TargetAspect = portrait
	}
	return youtubeCandidates(id, s.patterns.YouTube), opts, nil
}

// youtubeCandidates orders the grid quality-first: every host is tried for a
// variant before moving down to the next variant.
func youtubeCandidates(id string, p YouTubePatterns) []models.ImageCandidate {
	var list candidateList
	priority := 0
	for _, variant := range p.Variants {
		for _, host := range p.Hosts {
			list.add(fmt.Sprintf("https://%s/vi/%s/%s.jpg", host, id, variant), priority)
		}
		priority++
	}
	if p.LiveVariant != "" && len(p.Hosts) > 0 {
		list.add(fmt.Sprintf("https://%s/vi/%s/%s.jpg", p.Hosts[0], id, p.LiveVariant), priority)
		priority++
	}
	if len(p.Hosts) > 0 {
		for _, variant := range p.WebPVariants {
			list.add(fmt.Sprintf("https://%s/vi_webp/%s/%s.webp", p.Hosts[0], id, variant), priority)
		}
	}
	return list.candidates()
}
