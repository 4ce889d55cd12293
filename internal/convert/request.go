package convert

import (
	"fmt"
	"math"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/formats"
)

// DefaultQuality is the quality fraction used when none is configured.
const DefaultQuality = 0.8

// Request describes one conversion. It is a plain value; copy it freely.
type Request struct {
	Format        string  `json:"format"`
	Quality       float64 `json:"quality"`
	MaxWidth      int     `json:"maxWidth,omitempty"`
	MaxHeight     int     `json:"maxHeight,omitempty"`
	StripMetadata bool    `json:"stripMetadata"`
}

// DefaultRequest converts to WebP at the default quality with no size limit.
func DefaultRequest() Request {
	return Request{Format: "webp", Quality: DefaultQuality, StripMetadata: true}
}

// Resolve validates the request and returns the canonical target media
// type. Checks run in order: format, quality, dimension limits.
func (r Request) Resolve() (string, error) {
	mediaType, err := formats.Resolve(r.Format)
	if err != nil {
		return "", err
	}
	if math.IsNaN(r.Quality) || r.Quality < 0 || r.Quality > 1 {
		return "", errs.Newf(errs.InvalidQuality, "request", "quality %v outside [0, 1]", r.Quality)
	}
	if r.MaxWidth < 0 || r.MaxHeight < 0 {
		return "", errs.Newf(errs.InvalidDimensions, "request", "max %dx%d", r.MaxWidth, r.MaxHeight)
	}
	return mediaType, nil
}

// Validate reports whether the request is well formed.
func (r Request) Validate() error {
	_, err := r.Resolve()
	return err
}

// String renders the request for logs.
func (r Request) String() string {
	s := fmt.Sprintf("%s q=%.2f", r.Format, r.Quality)
	if r.MaxWidth > 0 || r.MaxHeight > 0 {
		s += fmt.Sprintf(" max=%dx%d", r.MaxWidth, r.MaxHeight)
	}
	if r.StripMetadata {
		s += " strip"
	}
	return s
}

// QualityFromPercent maps an integer quality 0-100 onto [0, 1]. Values
// outside the range are rejected, never clamped.
func QualityFromPercent(p int) (float64, error) {
	if p < 0 || p > 100 {
		return 0, errs.Newf(errs.InvalidQuality, "request", "quality %d outside 0-100", p)
	}
	return float64(p) / 100, nil
}

// QualityPercent is the inverse of QualityFromPercent.
func QualityPercent(q float64) int {
	return int(math.Round(q * 100))
}
