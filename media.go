package scraper

import (
	"encoding/binary"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/snaplook/scraper/models"
)

// fileContentType picks the declared type, then the extension, then a sniff
func fileContentType(declared, path string, data []byte) string {
	for _, candidate := range []string{declared, mime.TypeByExtension(filepath.Ext(path)), http.DetectContentType(data)} {
		mediaType, _, err := mime.ParseMediaType(candidate)
		if err != nil || mediaType == "application/octet-stream" {
			continue
		}
		return strings.ToLower(mediaType)
	}
	return "application/octet-stream"
}

func mediaTypeFor(contentType string) models.SharedMediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return models.MediaVideo
	}
	return models.MediaFile
}

// mp4Duration reads the movie header of an ISO-BMFF file (mp4, mov) and
// returns the duration in seconds.
func mp4Duration(data []byte) (float64, bool) {
	moov, ok := findBox(data, "moov")
	if !ok {
		return 0, false
	}
	mvhd, ok := findBox(moov, "mvhd")
	if !ok || len(mvhd) < 4 {
		return 0, false
	}

	var timescale uint32
	var duration uint64
	switch mvhd[0] {
	case 0:
		if len(mvhd) < 20 {
			return 0, false
		}
		timescale = binary.BigEndian.Uint32(mvhd[12:16])
		duration = uint64(binary.BigEndian.Uint32(mvhd[16:20]))
	case 1:
		if len(mvhd) < 32 {
			return 0, false
		}
		timescale = binary.BigEndian.Uint32(mvhd[20:24])
		duration = binary.BigEndian.Uint64(mvhd[24:32])
	default:
		return 0, false
	}
	if timescale == 0 {
		return 0, false
	}
	return float64(duration) / float64(timescale), true
}

// findBox returns the payload of the first box of the given type at this level
func findBox(data []byte, boxType string) ([]byte, bool) {
	for len(data) >= 8 {
		size := uint64(binary.BigEndian.Uint32(data[:4]))
		header := uint64(8)
		switch size {
		case 0:
			size = uint64(len(data))
		case 1:
			if len(data) < 16 {
				return nil, false
			}
			size = binary.BigEndian.Uint64(data[8:16])
			header = 16
		}
		if size < header || size > uint64(len(data)) {
			return nil, false
		}
		if string(data[4:8]) == boxType {
			return data[header:size], true
		}
		data = data[size:]
	}
	return nil, false
}
