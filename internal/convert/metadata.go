package convert

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata summarises the source EXIF block and what happened to it.
type Metadata struct {
	HasEXIF     bool       `json:"hasExif"`
	Camera      string     `json:"camera,omitempty"`
	TakenAt     *time.Time `json:"takenAt,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	// Preserved is true when the EXIF block was carried into the output.
	Preserved bool `json:"preserved"`
}

// readMetadata extracts an EXIF summary. Inputs without EXIF give a zero value.
func readMetadata(data []byte) Metadata {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return Metadata{}
	}

	md := Metadata{HasEXIF: true}
	var parts []string
	for _, field := range []exif.FieldName{exif.Make, exif.Model} {
		if tag, err := x.Get(field); err == nil {
			if s, err := tag.StringVal(); err == nil && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
	}
	md.Camera = strings.Join(parts, " ")

	if t, err := x.DateTime(); err == nil {
		md.TakenAt = &t
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			md.Orientation = v
		}
	}
	return md
}

const (
	markerSOI  = 0xD8
	markerEOI  = 0xD9
	markerSOS  = 0xDA
	markerAPP1 = 0xE1
)

var exifHeader = []byte("Exif\x00\x00")

// extractEXIFSegment returns a copy of the complete APP1 Exif segment
// (marker, length and payload) of a JPEG stream, or nil.
func extractEXIFSegment(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return nil
	}
	i := 2
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			return nil
		}
		marker := data[i+1]
		if marker == 0xFF {
			// fill byte
			i++
			continue
		}
		if marker == markerSOS || marker == markerEOI {
			return nil
		}
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		end := i + 2 + length
		if length < 2 || end > len(data) {
			return nil
		}
		if marker == markerAPP1 && bytes.HasPrefix(data[i+4:end], exifHeader) {
			seg := make([]byte, end-i)
			copy(seg, data[i:end])
			return seg
		}
		i = end
	}
	return nil
}

// resetOrientation rewrites the IFD0 orientation tag of an APP1 Exif
// segment to 1 (top-left), in place. Pixels are auto-oriented on decode, so
// the carried tag must not rotate them a second time.
func resetOrientation(seg []byte) {
	const tiffStart = 4 + 6 // marker+length, "Exif\0\0"
	if len(seg) < tiffStart+8 {
		return
	}
	tiffData := seg[tiffStart:]

	var order binary.ByteOrder
	switch string(tiffData[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return
	}

	ifd := int(order.Uint32(tiffData[4:8]))
	if ifd+2 > len(tiffData) {
		return
	}
	count := int(order.Uint16(tiffData[ifd : ifd+2]))
	for k := 0; k < count; k++ {
		entry := ifd + 2 + 12*k
		if entry+12 > len(tiffData) {
			return
		}
		if order.Uint16(tiffData[entry:entry+2]) == 0x0112 {
			order.PutUint16(tiffData[entry+8:entry+10], 1)
			return
		}
	}
}

// insertSegment places seg directly after the SOI marker of a JPEG stream.
func insertSegment(jpegData, seg []byte) []byte {
	if len(jpegData) < 2 || len(seg) == 0 {
		return jpegData
	}
	out := make([]byte, 0, len(jpegData)+len(seg))
	out = append(out, jpegData[:2]...)
	out = append(out, seg...)
	out = append(out, jpegData[2:]...)
	return out
}
