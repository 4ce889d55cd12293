package convert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/bmp"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// icoEntry is one image in an ICO directory.
type icoEntry struct {
	width, height int
	bitCount      int
	size, offset  uint32
}

// parseICO reads the ICO directory and returns its entries.
func parseICO(data []byte) ([]icoEntry, error) {
	if len(data) < 6 {
		return nil, errors.New("ico: short header")
	}
	if binary.LittleEndian.Uint16(data[0:2]) != 0 || binary.LittleEndian.Uint16(data[2:4]) != 1 {
		return nil, errors.New("ico: bad header")
	}
	count := int(binary.LittleEndian.Uint16(data[4:6]))
	if count == 0 || len(data) < 6+16*count {
		return nil, errors.New("ico: bad directory")
	}

	entries := make([]icoEntry, 0, count)
	for i := 0; i < count; i++ {
		d := data[6+16*i : 6+16*(i+1)]
		e := icoEntry{
			width:    int(d[0]),
			height:   int(d[1]),
			bitCount: int(binary.LittleEndian.Uint16(d[6:8])),
			size:     binary.LittleEndian.Uint32(d[8:12]),
			offset:   binary.LittleEndian.Uint32(d[12:16]),
		}
		// zero means 256 in the directory
		if e.width == 0 {
			e.width = 256
		}
		if e.height == 0 {
			e.height = 256
		}
		if uint64(e.offset)+uint64(e.size) > uint64(len(data)) {
			return nil, fmt.Errorf("ico: entry %d out of range", i)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// largestICOEntry picks the entry with the most pixels, preferring deeper
// colour on ties.
func largestICOEntry(entries []icoEntry) icoEntry {
	best := entries[0]
	for _, e := range entries[1:] {
		if e.width*e.height > best.width*best.height ||
			(e.width*e.height == best.width*best.height && e.bitCount > best.bitCount) {
			best = e
		}
	}
	return best
}

func icoConfig(data []byte) (int, int, error) {
	entries, err := parseICO(data)
	if err != nil {
		return 0, 0, err
	}
	e := largestICOEntry(entries)
	return e.width, e.height, nil
}

// decodeICO decodes the largest image in an ICO file. Entries are either
// embedded PNGs or headerless BMPs.
func decodeICO(data []byte) (image.Image, error) {
	entries, err := parseICO(data)
	if err != nil {
		return nil, err
	}
	e := largestICOEntry(entries)
	payload := data[e.offset : e.offset+e.size]

	if bytes.HasPrefix(payload, pngSignature) {
		return png.Decode(bytes.NewReader(payload))
	}
	return decodeICODIB(payload)
}

// decodeICODIB wraps a device-independent bitmap from an ICO entry in a BMP
// file header so the BMP decoder can read it. The stored height covers the
// colour and AND masks, so it is halved.
func decodeICODIB(dib []byte) (image.Image, error) {
	if len(dib) < 40 {
		return nil, errors.New("ico: short bitmap header")
	}
	headerSize := binary.LittleEndian.Uint32(dib[0:4])
	if headerSize < 40 || int(headerSize) > len(dib) {
		return nil, errors.New("ico: bad bitmap header")
	}

	fixed := make([]byte, len(dib))
	copy(fixed, dib)
	height := int32(binary.LittleEndian.Uint32(fixed[8:12]))
	binary.LittleEndian.PutUint32(fixed[8:12], uint32(height/2))

	bitCount := binary.LittleEndian.Uint16(fixed[14:16])
	colors := binary.LittleEndian.Uint32(fixed[32:36])
	if colors == 0 && bitCount <= 8 {
		colors = 1 << bitCount
	}
	if bitCount > 8 {
		colors = 0
	}

	pixelOffset := 14 + headerSize + 4*colors
	fileSize := 14 + uint32(len(fixed))

	var buf bytes.Buffer
	buf.Grow(int(fileSize))
	buf.WriteString("BM")
	_ = binary.Write(&buf, binary.LittleEndian, fileSize)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	_ = binary.Write(&buf, binary.LittleEndian, pixelOffset)
	buf.Write(fixed)

	return bmp.Decode(&buf)
}
