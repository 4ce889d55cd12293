package formats

import (
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/mediatypes"
)

// Descriptor describes one conversion target.
type Descriptor struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Extension string `json:"extension"`
	Lossy     bool   `json:"lossy"`
	Label     string `json:"label"`
}

// outputs lists every conversion target in presentation order.
var outputs = []Descriptor{
	{Name: "webp", MediaType: mediatypes.WebP, Extension: "webp", Lossy: true, Label: "WebP"},
	{Name: "avif", MediaType: mediatypes.AVIF, Extension: "avif", Lossy: true, Label: "AVIF"},
	{Name: "jpg", MediaType: mediatypes.JPEG, Extension: "jpg", Lossy: true, Label: "JPG"},
	{Name: "png", MediaType: mediatypes.PNG, Extension: "png", Label: "PNG"},
	{Name: "bmp", MediaType: mediatypes.BMP, Extension: "bmp", Label: "BMP"},
	{Name: "tiff", MediaType: mediatypes.TIFF, Extension: "tiff", Label: "TIFF"},
}

var names = map[string]string{
	"jpg":  mediatypes.JPEG,
	"jpeg": mediatypes.JPEG,
	"png":  mediatypes.PNG,
	"webp": mediatypes.WebP,
	"avif": mediatypes.AVIF,
	"bmp":  mediatypes.BMP,
	"tif":  mediatypes.TIFF,
	"tiff": mediatypes.TIFF,
}

// Fallback is the lossless type the engine degrades to when a requested
// encoder is unavailable.
const Fallback = mediatypes.PNG

// Resolve maps a short format name ("jpg", ".webp", "TIFF") or a media type
// ("image/jpeg") to the canonical output media type.
func Resolve(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.TrimPrefix(key, ".")
	if mt, ok := names[key]; ok {
		return mt, nil
	}
	if mt := mediatypes.Normalize(key); IsOutput(mt) {
		return mt, nil
	}
	return "", errs.Newf(errs.UnsupportedFormat, "resolve", "%q is not a conversion target", name)
}

// IsOutput reports whether mediaType is a conversion target.
func IsOutput(mediaType string) bool {
	_, ok := Lookup(mediaType)
	return ok
}

// Lookup returns the descriptor for an output media type.
func Lookup(mediaType string) (Descriptor, bool) {
	mt := mediatypes.Normalize(mediaType)
	for _, d := range outputs {
		if d.MediaType == mt {
			return d, true
		}
	}
	return Descriptor{}, false
}

// OutputFormats returns every conversion target.
func OutputFormats() []Descriptor {
	out := make([]Descriptor, len(outputs))
	copy(out, outputs)
	return out
}

// Extension returns the file extension (without dot) used for a produced
// buffer of the given media type.
func Extension(mediaType string) string {
	if d, ok := Lookup(mediaType); ok {
		return d.Extension
	}
	return mediatypes.ExtensionFor(mediaType)
}

// Sniff returns the media type actually contained in data, judged by
// content rather than by what the encoder was asked to produce.
func Sniff(data []byte) string {
	if len(data) == 0 {
		return mediatypes.Unknown
	}
	return mediatypes.Normalize(mimetype.Detect(data).String())
}

// Capabilities records which output types the current environment can encode.
type Capabilities struct {
	encodable map[string]bool
}

// NewCapabilities builds a capability set from the encodable media types.
func NewCapabilities(mediaTypes ...string) Capabilities {
	c := Capabilities{encodable: make(map[string]bool, len(mediaTypes))}
	for _, mt := range mediaTypes {
		c.encodable[mediatypes.Normalize(mt)] = true
	}
	return c
}

// Probe reports whether mediaType can be encoded natively here.
func (c Capabilities) Probe(mediaType string) bool {
	return c.encodable[mediatypes.Normalize(mediaType)]
}

// Supported returns the output descriptors that can be encoded natively.
func (c Capabilities) Supported() []Descriptor {
	var out []Descriptor
	for _, d := range outputs {
		if c.encodable[d.MediaType] {
			out = append(out, d)
		}
	}
	return out
}

// MediaTypes returns the encodable media types, sorted.
func (c Capabilities) MediaTypes() []string {
	out := make([]string, 0, len(c.encodable))
	for mt := range c.encodable {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}

// Status is a serialisable view of one output format's availability.
type Status struct {
	Descriptor
	Native bool `json:"native"`
}

// Report lists every output format with whether it is natively encodable.
// Formats that are not native still convert, falling back to Fallback.
func (c Capabilities) Report() []Status {
	out := make([]Status, 0, len(outputs))
	for _, d := range outputs {
		out = append(out, Status{Descriptor: d, Native: c.encodable[d.MediaType]})
	}
	return out
}
