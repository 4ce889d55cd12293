package convert

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

// createTestImage returns a w x h image with a simple gradient.
func createTestImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// exifSegment builds a minimal APP1 Exif segment holding only an
// orientation tag.
func exifSegment(orientation uint16) []byte {
	tiffData := []byte{
		'I', 'I', 0x2A, 0x00, // little endian TIFF header
		0x08, 0x00, 0x00, 0x00, // IFD0 offset
		0x01, 0x00, // one entry
		0x12, 0x01, 0x03, 0x00, 0x01, 0x00, 0x00, 0x00, // orientation, SHORT, count 1
		byte(orientation), 0x00, 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00, // no next IFD
	}
	payload := append([]byte("Exif\x00\x00"), tiffData...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

// buildICO wraps PNG payloads in an ICO container.
func buildICO(t *testing.T, images ...image.Image) []byte {
	t.Helper()
	var payloads [][]byte
	for _, img := range images {
		payloads = append(payloads, encodePNG(t, img))
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, uint16(len(images))})
	offset := uint32(6 + 16*len(images))
	for i, img := range images {
		b := img.Bounds()
		entry := []byte{byte(b.Dx() % 256), byte(b.Dy() % 256), 0, 0, 1, 0, 32, 0}
		buf.Write(entry)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payloads[i])))
		_ = binary.Write(&buf, binary.LittleEndian, offset)
		offset += uint32(len(payloads[i]))
	}
	for _, p := range payloads {
		buf.Write(p)
	}
	return buf.Bytes()
}
