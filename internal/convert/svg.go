package convert

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Browsers render an SVG without intrinsic size at 300x150.
const (
	defaultSVGWidth  = 300
	defaultSVGHeight = 150
)

func readSVG(data []byte) (*oksvg.SvgIcon, int, int, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("svg: %w", err)
	}
	w := int(math.Ceil(icon.ViewBox.W))
	h := int(math.Ceil(icon.ViewBox.H))
	if w <= 0 || h <= 0 {
		w, h = defaultSVGWidth, defaultSVGHeight
	}
	return icon, w, h, nil
}

func svgConfig(data []byte) (int, int, error) {
	_, w, h, err := readSVG(data)
	return w, h, err
}

// decodeSVG rasterises an SVG at its intrinsic size, scaled down so that
// neither side exceeds maxSide.
func decodeSVG(data []byte, maxSide int) (image.Image, error) {
	icon, w, h, err := readSVG(data)
	if err != nil {
		return nil, err
	}
	if maxSide > 0 {
		w, h = ScaleDimensions(w, h, maxSide, maxSide)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)
	return rgba, nil
}
