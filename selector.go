package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"net/http"
	"strings"

	// Register decoders for formats served by CDNs
	_ "image/gif"

	"github.com/google/uuid"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/snaplook/scraper/models"
	"github.com/snaplook/scraper/slug"
)

const jpegQuality = 90

// SelectFirstValid downloads candidates in order and persists the first one
// that is a real image. Candidates are never fetched in parallel. When
// targetAspect is positive the image is center-cropped to it.
func (s *Scraper) SelectFirstValid(ctx context.Context, candidates []string, targetAspect float64) (*models.SavedImage, error) {
	if s.sink == nil {
		return nil, &ConfigurationError{Setting: "image_sink"}
	}

	var lastErr error
	attempts := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, ok := parseShareURL(candidate); !ok {
			s.logger.Debug("skipping malformed candidate", "url", candidate)
			continue
		}

		attempts++
		data, contentType, err := s.downloadImage(ctx, candidate)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			downloadsTotal.WithLabelValues("failed").Inc()
			s.logger.Debug("candidate rejected", "url", candidate, "error", err)
			lastErr = err
			continue
		}
		downloadsTotal.WithLabelValues("ok").Inc()

		img := s.prepareImage(data, contentType, targetAspect)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := slug.GenerateWithFallback(slug.FromImageURL(candidate), "shared-image") + "-" + uuid.NewString()[:8]
		path, err := s.sink.SaveImage(ctx, img.data, name, img.contentType)
		if err != nil {
			return nil, fmt.Errorf("failed to persist image: %w", err)
		}

		s.logger.Info("image selected",
			"url", candidate,
			"path", path,
			"attempts", attempts,
			"cropped", img.cropped,
		)
		return &models.SavedImage{
			Path:        path,
			SourceURL:   candidate,
			ContentType: img.contentType,
			Width:       img.width,
			Height:      img.height,
			Orientation: img.orientation,
			Cropped:     img.cropped,
			SizeBytes:   int64(len(img.data)),
		}, nil
	}

	if lastErr == nil {
		lastErr = ErrNoCandidates
	}
	return nil, &DownloadError{Attempts: attempts, LastErr: lastErr}
}

// downloadImage downloads an image from a URL with size limit
func (s *Scraper) downloadImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	res, err := s.get(ctx, imageURL, s.config.ImageTimeout, s.config.MaxImageSizeBytes)
	if err != nil {
		return nil, "", err
	}
	if len(res.Body) == 0 {
		return nil, "", errors.New("empty response body")
	}

	contentType := http.DetectContentType(res.Body)
	if strings.HasPrefix(contentType, "image/") {
		return res.Body, contentType, nil
	}
	// Sniffing misses newer formats such as AVIF; trust the server then
	header := strings.ToLower(strings.TrimSpace(strings.Split(res.ContentType, ";")[0]))
	if strings.HasPrefix(header, "image/") {
		return res.Body, header, nil
	}
	return nil, "", fmt.Errorf("not an image: %s", contentType)
}

type preparedImage struct {
	data        []byte
	contentType string
	width       int
	height      int
	orientation int
	cropped     bool
}

// prepareImage reads dimensions and orientation and crops when the aspect
// is off target. Any failure keeps the downloaded bytes.
func (s *Scraper) prepareImage(data []byte, contentType string, targetAspect float64) preparedImage {
	img := preparedImage{data: data, contentType: contentType, orientation: 1}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return img
	}
	if format == "jpeg" {
		img.orientation = exifOrientation(data)
	}
	img.width, img.height = cfg.Width, cfg.Height
	if img.orientation >= 5 {
		img.width, img.height = img.height, img.width
	}

	if targetAspect <= 0 || img.width == 0 || img.height == 0 {
		return img
	}
	aspect := float64(img.width) / float64(img.height)
	if math.Abs(aspect-targetAspect)/targetAspect <= s.config.CropTolerance {
		return img
	}

	cropped, w, h, ct, err := centerCrop(data, format, img.orientation, targetAspect)
	if err != nil {
		s.logger.Warn("crop failed, keeping original", "error", err)
		return img
	}
	return preparedImage{
		data:        cropped,
		contentType: ct,
		width:       w,
		height:      h,
		orientation: 1,
		cropped:     true,
	}
}

// exifOrientation returns the EXIF orientation tag, 1 when absent
func exifOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	o, err := tag.Int(0)
	if err != nil || o < 1 || o > 8 {
		return 1
	}
	return o
}

// centerCrop applies the orientation, crops the middle to targetAspect and
// re-encodes. PNG stays PNG, everything else becomes JPEG.
func centerCrop(data []byte, format string, orientation int, targetAspect float64) ([]byte, int, int, string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, "", fmt.Errorf("failed to decode image: %w", err)
	}
	oriented := applyOrientation(src, orientation)

	b := oriented.Bounds()
	w, h := b.Dx(), b.Dy()
	rect := b
	if float64(w)/float64(h) > targetAspect {
		cw := int(math.Round(float64(h) * targetAspect))
		if cw < 1 {
			cw = 1
		}
		x0 := b.Min.X + (w-cw)/2
		rect = image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	} else {
		ch := int(math.Round(float64(w) / targetAspect))
		if ch < 1 {
			ch = 1
		}
		y0 := b.Min.Y + (h-ch)/2
		rect = image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), oriented, rect.Min, draw.Src)

	var buf bytes.Buffer
	contentType := "image/jpeg"
	if format == "png" {
		contentType = "image/png"
		err = png.Encode(&buf, dst)
	} else {
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, 0, 0, "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), rect.Dx(), rect.Dy(), contentType, nil
}

// applyOrientation rotates and flips pixels so the image displays upright
// without its EXIF tag.
func applyOrientation(src image.Image, orientation int) image.Image {
	if orientation <= 1 || orientation > 8 {
		return src
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dw, dh := w, h
	if orientation >= 5 {
		dw, dh = h, w
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	for y := 0; y < dh; y++ {
		for x := 0; x < dw; x++ {
			var sx, sy int
			switch orientation {
			case 2:
				sx, sy = w-1-x, y
			case 3:
				sx, sy = w-1-x, h-1-y
			case 4:
				sx, sy = x, h-1-y
			case 5:
				sx, sy = y, x
			case 6:
				sx, sy = y, h-1-x
			case 7:
				sx, sy = w-1-y, h-1-x
			case 8:
				sx, sy = w-1-y, x
			}
			dst.Set(x, y, src.At(b.Min.X+sx, b.Min.Y+sy))
		}
	}
	return dst
}
