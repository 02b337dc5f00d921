package scraper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snaplook/scraper/models"
)

func TestPinterestCandidates(t *testing.T) {
	s := New(testConfig(), nil)
	found := s.pinterestCandidates(loadFixture(t, "pinterest_pin.html"))

	assert.Equal(t, []models.ImageCandidate{
		{URL: "https://i.pinimg.com/736x/ab/cd/ef/pin.jpg", Priority: 0},
		{URL: "https://i.pinimg.com/originals/ab/cd/ef/pin.jpg", Priority: 1},
		{URL: "https://i.pinimg.com/564x/ab/cd/ef/pin.jpg", Priority: 2},
		{URL: "https://i.pinimg.com/236x/ab/cd/ef/pin.jpg", Priority: 3},
	}, found)
}

func TestExtractPinterest(t *testing.T) {
	server, calls := renderProxy(t, loadFixture(t, "pinterest_pin.html"), 0)
	cfg := testConfig()
	cfg.RenderProxyURL = server.URL

	found, opts, err := New(cfg, nil).Extract(context.Background(), models.PlatformPinterest, "https://pin.it/3xYz")
	require.NoError(t, err)

	assert.Len(t, found, 4)
	assert.Zero(t, opts.TargetAspect)
	assert.Equal(t, int32(1), calls.Load())
}

func TestExtractPinterestRequiresAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.RenderAPIKey = ""

	_, _, err := New(cfg, nil).Extract(context.Background(), models.PlatformPinterest, "https://www.pinterest.com/pin/123/")
	assert.True(t, IsConfigurationError(err))
}

func TestExtractPinterestNoImages(t *testing.T) {
	server, _ := renderProxy(t, []byte(`<html><head><meta property="og:title" content="Pin"></head></html>`), 0)
	cfg := testConfig()
	cfg.RenderProxyURL = server.URL

	_, _, err := New(cfg, nil).Extract(context.Background(), models.PlatformPinterest, "https://www.pinterest.com/pin/123/")

	var extErr *ExtractionError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, ReasonNoCandidates, extErr.Reason)
	assert.Equal(t, models.PlatformPinterest, extErr.Platform)
}
