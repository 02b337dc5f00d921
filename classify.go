package scraper

import (
	"net/url"
	"strings"

	"github.com/snaplook/scraper/models"
)

// Classify reports which platform a shared string points at. It is total:
// anything that is not a well-formed http(s) URL is PlatformNone.
func Classify(text string) models.PlatformKind {
	u, ok := parseShareURL(text)
	if !ok {
		return models.PlatformNone
	}

	host := strings.ToLower(u.Hostname())
	path := strings.ToLower(u.Path)
	query := strings.ToLower(u.RawQuery)

	switch {
	case strings.Contains(path, "/p/") || strings.Contains(path, "/reel/"):
		return models.PlatformInstagram
	case isTikTok(host, path):
		return models.PlatformTikTok
	case strings.Contains(path, "/pin/") || host == "pin.it":
		return models.PlatformPinterest
	case isYouTube(host, path):
		return models.PlatformYouTube
	case strings.Contains(host, "google.") &&
		(strings.Contains(path, "/imgres") || strings.Contains(path, "/search")) &&
		strings.Contains(query, "imgurl="):
		return models.PlatformGoogleImage
	default:
		return models.PlatformGenericLink
	}
}

func isTikTok(host, path string) bool {
	if host == "vm.tiktok.com" || host == "vt.tiktok.com" {
		return true
	}
	if !strings.Contains(host, "tiktok.com") {
		return false
	}
	return strings.Contains(path, "/video/") || strings.Contains(path, "/@") || strings.Contains(path, "/t/")
}

func isYouTube(host, path string) bool {
	if host == "youtu.be" || strings.HasSuffix(host, ".youtu.be") {
		return len(strings.Trim(path, "/")) > 0
	}
	if !strings.Contains(host, "youtube.com") {
		return false
	}
	return strings.Contains(path, "/watch") || strings.Contains(path, "/shorts/") || strings.Contains(path, "/v/")
}

// parseShareURL trims the input and accepts only absolute http(s) URLs with a host
func parseShareURL(text string) (*url.URL, bool) {
	s := strings.TrimSpace(text)
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return nil, false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || u.Hostname() == "" {
		return nil, false
	}
	return u, true
}
