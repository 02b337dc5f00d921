package scraper

import (
	"errors"
	"fmt"

	"github.com/snaplook/scraper/models"
)

// Extraction failure reasons
const (
	ReasonNoCandidates  = "no_candidates"
	ReasonNetwork       = "network"
	ReasonProxyStatus   = "proxy_status"
	ReasonMalformedURL  = "malformed_url"
	ReasonNotConfigured = "not_configured"
)

// ErrNoCandidates is wrapped by every extraction that found nothing usable
var ErrNoCandidates = errors.New("no image candidates found")

// ExtractionError is a platform-tagged extraction failure
type ExtractionError struct {
	Platform models.PlatformKind
	Reason   string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s extraction failed (%s): %v", e.Platform, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s extraction failed (%s)", e.Platform, e.Reason)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func extractionError(platform models.PlatformKind, reason string, err error) *ExtractionError {
	return &ExtractionError{Platform: platform, Reason: reason, Err: err}
}

func noCandidates(platform models.PlatformKind) *ExtractionError {
	return extractionError(platform, ReasonNoCandidates, ErrNoCandidates)
}

// ConfigurationError means a required setting is missing. Callers should
// send the user to setup instead of retrying.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("missing configuration: %s", e.Setting)
}

// DownloadError means every candidate failed to download
type DownloadError struct {
	Attempts int
	LastErr  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("all %d image candidates failed: %v", e.Attempts, e.LastErr)
}

func (e *DownloadError) Unwrap() error {
	return e.LastErr
}

// IsConfigurationError reports whether err stems from missing configuration
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
