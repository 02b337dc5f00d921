package models

import "time"

// ShareKind identifies what the host handed to the share flow
type ShareKind string

const (
	ShareText  ShareKind = "text"
	ShareURL   ShareKind = "url"
	ShareImage ShareKind = "image"
	ShareFile  ShareKind = "file"
)

// ShareInput is one attachment loaded from a share. Build it with the
// constructors below and treat it as read-only afterwards.
type ShareInput struct {
	Kind     ShareKind `json:"kind"`
	Text     string    `json:"text,omitempty"`
	URL      string    `json:"url,omitempty"`
	Bytes    []byte    `json:"-"`
	Path     string    `json:"path,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
}

// TextShare wraps plain shared text
func TextShare(text string) ShareInput {
	return ShareInput{Kind: ShareText, Text: text}
}

// URLShare wraps a shared link
func URLShare(u string) ShareInput {
	return ShareInput{Kind: ShareURL, URL: u, Text: u}
}

// ImageShare wraps raw image bytes
func ImageShare(data []byte, mimeType string) ShareInput {
	return ShareInput{Kind: ShareImage, Bytes: data, MimeType: mimeType}
}

// FileShare wraps a file already written by the host
func FileShare(path, mimeType string) ShareInput {
	return ShareInput{Kind: ShareFile, Path: path, MimeType: mimeType}
}

// PlatformKind is the source platform detected for a shared string
type PlatformKind string

const (
	PlatformInstagram   PlatformKind = "instagram"
	PlatformTikTok      PlatformKind = "tiktok"
	PlatformPinterest   PlatformKind = "pinterest"
	PlatformYouTube     PlatformKind = "youtube"
	PlatformGoogleImage PlatformKind = "googleImage"
	PlatformGenericLink PlatformKind = "genericLink"
	PlatformNone        PlatformKind = "none"
)

// ImageCandidate is an unverified image URL proposed by an extractor.
// Lower Priority means a better quality tier.
type ImageCandidate struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
}

// CandidateURLs flattens candidates into URLs, preserving order
func CandidateURLs(candidates []ImageCandidate) []string {
	urls := make([]string, 0, len(candidates))
	for _, c := range candidates {
		urls = append(urls, c.URL)
	}
	return urls
}

// SavedImage describes the image persisted by fetch-and-select
type SavedImage struct {
	Path        string `json:"path"`
	SourceURL   string `json:"source_url"`
	ContentType string `json:"content_type"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Orientation int    `json:"orientation,omitempty"` // EXIF orientation (1-8)
	Cropped     bool   `json:"cropped"`
	SizeBytes   int64  `json:"size_bytes"`
}

// SharedMediaType mirrors the media kinds the host application understands
type SharedMediaType string

const (
	MediaImage SharedMediaType = "image"
	MediaVideo SharedMediaType = "video"
	MediaText  SharedMediaType = "text"
	MediaFile  SharedMediaType = "file"
	MediaURL   SharedMediaType = "url"
)

// SharedMediaFile is one entry of the handoff record
type SharedMediaFile struct {
	Path      string          `json:"path"`
	MimeType  string          `json:"mimeType,omitempty"`
	Thumbnail string          `json:"thumbnail,omitempty"`
	Duration  *float64        `json:"duration,omitempty"`
	Message   string          `json:"message,omitempty"`
	Type      SharedMediaType `json:"type"`
}

// HandoffStatus tracks how far the host has progressed with a share
type HandoffStatus string

const (
	StatusPending    HandoffStatus = "pending"
	StatusProcessing HandoffStatus = "processing"
	StatusCompleted  HandoffStatus = "completed"
)

// Valid reports whether the status is one the host recognizes
func (s HandoffStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// HandoffRecord is what the share flow leaves behind for the host application
type HandoffRecord struct {
	SessionID string            `json:"session_id"`
	Files     []SharedMediaFile `json:"files"`
	Message   string            `json:"message,omitempty"`
	Status    HandoffStatus     `json:"status"`
	SourceURL string            `json:"source_url,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ShareSession is the persisted view of one share run
type ShareSession struct {
	ID          string        `json:"id"`
	SourceURL   string        `json:"source_url,omitempty"`
	Platform    PlatformKind  `json:"platform"`
	Status      HandoffStatus `json:"status"`
	ImagePath   string        `json:"image_path,omitempty"`
	Message     string        `json:"message,omitempty"`
	SearchID    string        `json:"search_id,omitempty"`
	ResultCount int           `json:"result_count"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
