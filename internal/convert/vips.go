package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"cleanconvert/internal/formats"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/mediatypes"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

var errVipsUnavailable = errors.New("libvips not available")

// InitVips starts libvips with its log output routed through log. Call it
// once at startup before building an Engine with Vips enabled.
func InitVips(log *logging.Logger) error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}
	log = logging.OrDefault(log)

	// Configure vips logging before Startup so the level applies from the first message
	var vipsLogLevel vips.LogLevel
	switch log.Level() {
	case logging.LevelDebug:
		vipsLogLevel = vips.LogLevelInfo
	case logging.LevelInfo:
		vipsLogLevel = vips.LogLevelWarning
	case logging.LevelWarn:
		vipsLogLevel = vips.LogLevelError
	default:
		vipsLogLevel = vips.LogLevelCritical
	}
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		switch level {
		case vips.LogLevelError, vips.LogLevelCritical:
			log.Error("[%s] %s", domain, msg)
		case vips.LogLevelWarning:
			log.Warn("[%s] %s", domain, msg)
		default:
			log.Debug("[%s] %s", domain, msg)
		}
	}, vipsLogLevel)

	// Conversions already run in parallel through the queue, keep vips itself single threaded
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	vipsAvailable = true
	log.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips releases libvips resources.
func ShutdownVips(log *logging.Logger) {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		logging.OrDefault(log).Info("libvips shutdown complete")
	}
}

// IsVipsAvailable reports whether libvips is initialized.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// vipsDecode loads formats the Go decoders cannot read (AVIF, HEIF) and
// hands them back as an image.Image via a lossless PNG round trip.
func vipsDecode(data []byte) (image.Image, error) {
	if !IsVipsAvailable() {
		return nil, errVipsUnavailable
	}
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()

	if err := ref.AutoRotate(); err != nil {
		return nil, fmt.Errorf("vips auto-rotate failed: %w", err)
	}

	params := vips.NewPngExportParams()
	params.StripMetadata = true
	out, _, err := ref.ExportPng(params)
	if err != nil {
		return nil, fmt.Errorf("vips export failed: %w", err)
	}
	return png.Decode(bytes.NewReader(out))
}

func vipsDimensions(data []byte) (int, int, error) {
	if !IsVipsAvailable() {
		return 0, 0, errVipsUnavailable
	}
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return 0, 0, fmt.Errorf("vips failed to load image: %w", err)
	}
	defer ref.Close()
	return ref.Width(), ref.Height(), nil
}

// vipsEncoder encodes through a libvips exporter. The image handed over
// has already been decoded, so it carries no metadata of its own; EXIF is
// restored afterwards by the engine when the request keeps it.
type vipsEncoder struct {
	mediaType string
	// flatten composites transparency onto white before export.
	flatten bool
	export  func(ref *vips.ImageRef, quality float64) ([]byte, error)
}

func (e vipsEncoder) MediaType() string { return e.mediaType }

func (e vipsEncoder) Encode(w io.Writer, img image.Image, quality float64) error {
	if e.flatten {
		img = flatten(img)
	}
	ref, err := vipsFromImage(img)
	if err != nil {
		return err
	}
	defer ref.Close()

	out, err := e.export(ref, quality)
	if err != nil {
		return fmt.Errorf("vips %s export failed: %w", mediatypes.ExtensionFor(e.mediaType), err)
	}
	_, err = w.Write(out)
	return err
}

func exportAVIF(ref *vips.ImageRef, quality float64) ([]byte, error) {
	params := vips.NewAvifExportParams()
	params.Quality = percent(quality)
	params.Lossless = quality >= 1
	params.StripMetadata = true
	out, _, err := ref.ExportAvif(params)
	return out, err
}

func exportWebP(ref *vips.ImageRef, quality float64) ([]byte, error) {
	params := vips.NewWebpExportParams()
	params.Quality = percent(quality)
	params.Lossless = quality >= 1
	params.StripMetadata = true
	out, _, err := ref.ExportWebp(params)
	return out, err
}

func exportJPEG(ref *vips.ImageRef, quality float64) ([]byte, error) {
	params := vips.NewJpegExportParams()
	params.Quality = percent(quality)
	params.OptimizeCoding = true
	params.StripMetadata = true
	out, _, err := ref.ExportJpeg(params)
	return out, err
}

// PNG and TIFF are lossless; quality is ignored.
func exportPNG(ref *vips.ImageRef, _ float64) ([]byte, error) {
	params := vips.NewPngExportParams()
	params.StripMetadata = true
	out, _, err := ref.ExportPng(params)
	return out, err
}

func exportTIFF(ref *vips.ImageRef, _ float64) ([]byte, error) {
	params := vips.NewTiffExportParams()
	params.Compression = vips.TiffCompressionDeflate
	params.StripMetadata = true
	out, _, err := ref.ExportTiff(params)
	return out, err
}

// vipsCandidates lists the libvips encoders in registration order. Each one
// replaces the built-in encoder for its type once it passes the probe.
func vipsCandidates() []Encoder {
	return []Encoder{
		vipsEncoder{mediaType: mediatypes.AVIF, export: exportAVIF},
		vipsEncoder{mediaType: mediatypes.WebP, export: exportWebP},
		vipsEncoder{mediaType: mediatypes.JPEG, flatten: true, export: exportJPEG},
		vipsEncoder{mediaType: mediatypes.PNG, export: exportPNG},
		vipsEncoder{mediaType: mediatypes.TIFF, export: exportTIFF},
	}
}

func vipsFromImage(img image.Image) (*vips.ImageRef, error) {
	if !IsVipsAvailable() {
		return nil, errVipsUnavailable
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vips failed to load image: %w", err)
	}
	return ref, nil
}

// vipsEncoders returns the libvips-backed encoders that actually work in
// this build of libvips, found by encoding a 1x1 image and sniffing the
// result.
func vipsEncoders(log *logging.Logger) []Encoder {
	if !IsVipsAvailable() {
		return nil
	}
	probe := image.NewNRGBA(image.Rect(0, 0, 1, 1))

	var out []Encoder
	for _, enc := range vipsCandidates() {
		var buf bytes.Buffer
		if err := enc.Encode(&buf, probe, DefaultQuality); err != nil {
			log.Warn("libvips cannot encode %s: %v", enc.MediaType(), err)
			continue
		}
		if got := formats.Sniff(buf.Bytes()); got != enc.MediaType() {
			log.Warn("libvips %s encoder produced %s", enc.MediaType(), got)
			continue
		}
		out = append(out, enc)
	}
	return out
}
