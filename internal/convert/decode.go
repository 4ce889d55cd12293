package convert

import (
	"bytes"
	"fmt"
	"image"

	// Image format decoders
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/tiff" // TIFF format support
	_ "golang.org/x/image/webp" // WebP format support

	"cleanconvert/internal/formats"
	"cleanconvert/internal/mediatypes"
)

// decoded is a source image together with the type it was read as.
type decoded struct {
	img       image.Image
	mediaType string
}

// decode reads data into an image, applying EXIF orientation. The source
// type is judged by content, not by the declared type.
func (e *Engine) decode(data []byte) (decoded, error) {
	mt := formats.Sniff(data)

	var (
		img image.Image
		err error
	)
	switch mt {
	case mediatypes.SVG:
		img, err = decodeSVG(data, e.maxRaster)
	case mediatypes.ICO:
		img, err = decodeICO(data)
	case mediatypes.AVIF, mediatypes.HEIC, mediatypes.HEIF:
		if !e.vips {
			return decoded{}, fmt.Errorf("no decoder for %s", mt)
		}
		img, err = vipsDecode(data)
	default:
		img, err = imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	}
	if err != nil {
		return decoded{}, err
	}
	if b := img.Bounds(); b.Dx() < 1 || b.Dy() < 1 {
		return decoded{}, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}
	return decoded{img: img, mediaType: mt}, nil
}

// dimensions reads the pixel size from the header where the format allows.
func (e *Engine) dimensions(data []byte) (int, int, error) {
	switch formats.Sniff(data) {
	case mediatypes.SVG:
		return svgConfig(data)
	case mediatypes.ICO:
		return icoConfig(data)
	case mediatypes.AVIF, mediatypes.HEIC, mediatypes.HEIF:
		if !e.vips {
			return 0, 0, fmt.Errorf("no decoder for %s", formats.Sniff(data))
		}
		return vipsDimensions(data)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
