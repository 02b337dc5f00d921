package scraper

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memorySink keeps saved images in memory
type memorySink struct {
	mu      sync.Mutex
	images  map[string][]byte
	types   map[string]string
	deleted []string
	saveErr error
}

func newMemorySink() *memorySink {
	return &memorySink{images: map[string][]byte{}, types: map[string]string{}}
}

func (m *memorySink) SaveImage(ctx context.Context, data []byte, name, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ext := ".jpg"
	if contentType == "image/png" {
		ext = ".png"
	}
	path := "images/" + name + ext
	m.images[path] = append([]byte(nil), data...)
	m.types[path] = contentType
	return path, nil
}

func (m *memorySink) DeleteImage(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *memorySink) ReadImage(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.images[path]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.images)
}

// testConfig returns defaults with timeouts short enough for tests
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HTTPTimeout = 5 * time.Second
	cfg.QuickTimeout = 2 * time.Second
	cfg.ResolveTimeout = 2 * time.Second
	cfg.ReaderTimeout = 2 * time.Second
	cfg.RenderTimeout = 2 * time.Second
	cfg.ImageTimeout = 2 * time.Second
	cfg.RenderAPIKey = "test-key"
	return cfg
}

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}
