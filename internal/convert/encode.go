package convert

import (
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"cleanconvert/internal/mediatypes"
)

// Encoder writes an image in one output format. quality is a fraction in
// [0, 1]; lossless encoders ignore it.
type Encoder interface {
	MediaType() string
	Encode(w io.Writer, img image.Image, quality float64) error
}

// builtinEncoders returns the encoders that need no external library at
// runtime.
func builtinEncoders() []Encoder {
	return []Encoder{jpegEncoder{}, pngEncoder{}, bmpEncoder{}, tiffEncoder{}, webpEncoder{}}
}

type jpegEncoder struct{}

func (jpegEncoder) MediaType() string { return mediatypes.JPEG }

func (jpegEncoder) Encode(w io.Writer, img image.Image, quality float64) error {
	return jpeg.Encode(w, flatten(img), &jpeg.Options{Quality: percent(quality)})
}

type pngEncoder struct{}

func (pngEncoder) MediaType() string { return mediatypes.PNG }

func (pngEncoder) Encode(w io.Writer, img image.Image, _ float64) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	return enc.Encode(w, img)
}

type bmpEncoder struct{}

func (bmpEncoder) MediaType() string { return mediatypes.BMP }

func (bmpEncoder) Encode(w io.Writer, img image.Image, _ float64) error {
	return bmp.Encode(w, img)
}

type tiffEncoder struct{}

func (tiffEncoder) MediaType() string { return mediatypes.TIFF }

func (tiffEncoder) Encode(w io.Writer, img image.Image, _ float64) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

type webpEncoder struct{}

func (webpEncoder) MediaType() string { return mediatypes.WebP }

func (webpEncoder) Encode(w io.Writer, img image.Image, quality float64) error {
	return webp.Encode(w, img, &webp.Options{
		Lossless: quality >= 1,
		Quality:  float32(quality * 100),
	})
}

// percent converts a quality fraction to the 1-100 scale lossy encoders use.
func percent(q float64) int {
	p := int(math.Round(q * 100))
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}

// flatten composites images with transparency onto white, since JPEG has no
// alpha channel.
func flatten(img image.Image) image.Image {
	if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
