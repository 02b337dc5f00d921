// Package storage persists selected share images on the local filesystem or
// an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config contains storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// Storage handles filesystem storage operations
type Storage struct {
	config Config
	now    func() time.Time
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
		now:    time.Now,
	}, nil
}

// SaveImage saves an image under images/YYYY/MM/ and returns the path
// relative to the base directory. An existing file is never overwritten.
func (s *Storage) SaveImage(ctx context.Context, imageData []byte, name, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" {
		return "", errors.New("image name is required")
	}

	dirPath := filepath.Join(s.config.BasePath, datedDir(s.now()))
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	ext := imageExtension(contentType)
	filePath := filepath.Join(dirPath, name+ext)

	// O_EXCL makes the existence check and the create a single step
	var file *os.File
	for counter := 1; ; counter++ {
		f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			file = f
			break
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create image file: %w", err)
		}
		filePath = filepath.Join(dirPath, fmt.Sprintf("%s-%d%s", name, counter, ext))
	}

	if _, err := file.Write(imageData); err != nil {
		file.Close()
		os.Remove(filePath)
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	// Return relative path from base storage directory
	relPath, err := filepath.Rel(s.config.BasePath, filePath)
	if err != nil {
		return "", fmt.Errorf("failed to get relative path: %w", err)
	}

	return filepath.ToSlash(relPath), nil
}

// ReadImage reads an image from the filesystem
func (s *Storage) ReadImage(_ context.Context, relPath string) ([]byte, error) {
	fullPath, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	return data, nil
}

// DeleteImage deletes an image from the filesystem. Missing files are not an error.
func (s *Storage) DeleteImage(_ context.Context, relPath string) error {
	fullPath, err := s.resolve(relPath)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete image file: %w", err)
	}

	return nil
}

// GetFullPath returns the full filesystem path for a relative path
func (s *Storage) GetFullPath(relPath string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(relPath))
}

// resolve keeps relative paths inside the base directory
func (s *Storage) resolve(relPath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes storage directory", relPath)
	}
	return filepath.Join(s.config.BasePath, clean), nil
}

// datedDir is images/YYYY/MM
func datedDir(t time.Time) string {
	return filepath.Join("images", fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())))
}

// imageExtension falls back to .jpg for unknown image types and .bin for
// other files
func imageExtension(contentType string) string {
	if ext := extensionFromContentType(contentType); ext != "" {
		return ext
	}
	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if mediaType == "" || mediaType == "application/octet-stream" || strings.HasPrefix(mediaType, "image/") {
		return ".jpg"
	}
	return ".bin"
}

// extensionFromContentType returns the file extension for a content type
func extensionFromContentType(contentType string) string {
	// Normalize content type (remove charset, etc.)
	contentType = strings.ToLower(strings.Split(contentType, ";")[0])
	contentType = strings.TrimSpace(contentType)

	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/avif":
		return ".avif"
	case "image/heic":
		return ".heic"
	case "image/bmp":
		return ".bmp"
	case "image/tiff":
		return ".tiff"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ""
	}
}
