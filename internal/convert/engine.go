package convert

import (
	"bytes"
	"context"
	"time"

	"github.com/disintegration/imaging"

	"cleanconvert/internal/errs"
	"cleanconvert/internal/formats"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/mediatypes"
)

// DefaultMaxRaster bounds the size SVG sources are rasterised at.
const DefaultMaxRaster = 10000

// DefaultMaxDimension bounds the width and height of raster sources the
// engine will decode.
const DefaultMaxDimension = 10000

// Observer records conversion metrics. The metrics package provides the
// implementation.
type Observer interface {
	ObserveConversion(requested, resolved string, fallback bool, durationSeconds float64, err error)
}

// Options configures an Engine.
type Options struct {
	Logger *logging.Logger
	// Vips registers libvips-backed codecs: AVIF, WebP, JPEG, PNG and TIFF
	// encoders that pass a startup probe, plus AVIF/HEIF decode.
	// InitVips must have been called first.
	Vips bool
	// DisabledEncoders lists output media types or format names to treat as
	// unavailable, simulating a less capable environment. The fallback
	// encoder cannot be disabled.
	DisabledEncoders []string
	// MaxRaster bounds vector rasterisation. Zero uses DefaultMaxRaster.
	MaxRaster int
	// MaxDimension rejects raster sources whose header declares a wider or
	// taller image, before any pixels are allocated. Zero uses
	// DefaultMaxDimension.
	MaxDimension int
	Observer     Observer
}

// Result is a successful conversion. MediaType is what the bytes actually
// are; when it differs from RequestedType, UsedFallback is set.
type Result struct {
	Data          []byte        `json:"-"`
	MediaType     string        `json:"mediaType"`
	RequestedType string        `json:"requestedType"`
	UsedFallback  bool          `json:"usedFallback"`
	Width         int           `json:"width"`
	Height        int           `json:"height"`
	Size          int64         `json:"size"`
	SourceType    string        `json:"sourceType"`
	SourceWidth   int           `json:"sourceWidth"`
	SourceHeight  int           `json:"sourceHeight"`
	SourceSize    int64         `json:"sourceSize"`
	Metadata      Metadata      `json:"metadata"`
	Duration      time.Duration `json:"duration"`
}

// SavingsPercent is the size reduction relative to the source, negative
// when the output grew.
func (r *Result) SavingsPercent() float64 {
	if r.SourceSize <= 0 {
		return 0
	}
	return float64(r.SourceSize-r.Size) / float64(r.SourceSize) * 100
}

// Engine turns source bytes into a converted image.
type Engine struct {
	log          *logging.Logger
	encoders     map[string]Encoder
	vips         bool
	maxRaster    int
	maxDimension int
	observer     Observer
}

// NewEngine builds an engine with the built-in encoders plus any libvips
// encoders that work in this environment.
func NewEngine(opts Options) *Engine {
	log := logging.OrDefault(opts.Logger).With("convert:")
	e := &Engine{
		log:          log,
		encoders:     make(map[string]Encoder),
		vips:         opts.Vips && IsVipsAvailable(),
		maxRaster:    opts.MaxRaster,
		maxDimension: opts.MaxDimension,
		observer:     opts.Observer,
	}
	if e.maxRaster <= 0 {
		e.maxRaster = DefaultMaxRaster
	}
	if e.maxDimension <= 0 {
		e.maxDimension = DefaultMaxDimension
	}

	for _, enc := range builtinEncoders() {
		e.encoders[enc.MediaType()] = enc
	}
	if e.vips {
		for _, enc := range vipsEncoders(log) {
			e.encoders[enc.MediaType()] = enc
		}
	}

	for _, name := range opts.DisabledEncoders {
		mt, err := formats.Resolve(name)
		if err != nil {
			log.Warn("Ignoring unknown disabled encoder %q", name)
			continue
		}
		if mt == formats.Fallback {
			log.Warn("The fallback encoder %s cannot be disabled", mt)
			continue
		}
		delete(e.encoders, mt)
	}

	log.Debug("Encoders available: %v", e.Capabilities().MediaTypes())
	return e
}

// Capabilities reports which output types are encoded natively.
func (e *Engine) Capabilities() formats.Capabilities {
	types := make([]string, 0, len(e.encoders))
	for mt := range e.encoders {
		types = append(types, mt)
	}
	return formats.NewCapabilities(types...)
}

// Dimensions reads the pixel size of data without a full decode where the
// format allows it.
func (e *Engine) Dimensions(ctx context.Context, data []byte) (int, int, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	return e.dimensions(data)
}

// Convert decodes data, scales it to fit req's limits, encodes it to the
// requested format and verifies what was produced. The context is checked
// between stages; callers enforce hard deadlines.
func (e *Engine) Convert(ctx context.Context, data []byte, req Request) (*Result, error) {
	start := time.Now()
	requested, err := req.Resolve()
	if err != nil {
		return nil, err
	}

	res, err := e.convert(ctx, data, req, requested)
	elapsed := time.Since(start)
	if e.observer != nil {
		resolved := ""
		fallback := false
		if res != nil {
			resolved, fallback = res.MediaType, res.UsedFallback
		}
		e.observer.ObserveConversion(requested, resolved, fallback, elapsed.Seconds(), err)
	}
	if err != nil {
		return nil, err
	}
	res.Duration = elapsed
	return res, nil
}

func (e *Engine) convert(ctx context.Context, data []byte, req Request, requested string) (*Result, error) {
	if err := stageErr(ctx, "decode"); err != nil {
		return nil, err
	}
	if err := e.checkBounds(data); err != nil {
		return nil, err
	}
	src, err := e.decode(data)
	if err != nil {
		return nil, errs.New(errs.DecodeFailed, "decode", err)
	}

	sb := src.img.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	tw, th := ScaleDimensions(sw, sh, req.MaxWidth, req.MaxHeight)

	if err := stageErr(ctx, "resize"); err != nil {
		return nil, err
	}
	img := src.img
	if tw != sw || th != sh {
		img = imaging.Resize(src.img, tw, th, imaging.Lanczos)
	}

	enc, ok := e.encoders[requested]
	if !ok {
		enc = e.encoders[formats.Fallback]
		e.log.Debug("No encoder for %s, using %s", requested, enc.MediaType())
	}

	if err := stageErr(ctx, "encode"); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := enc.Encode(&buf, img, req.Quality); err != nil {
		return nil, errs.New(errs.EncodeFailed, "encode "+enc.MediaType(), err)
	}
	out := buf.Bytes()
	if len(out) == 0 {
		return nil, errs.Newf(errs.EncodeFailed, "encode "+enc.MediaType(), "encoder produced no data")
	}

	md := readMetadata(data)
	if !req.StripMetadata && src.mediaType == mediatypes.JPEG && enc.MediaType() == mediatypes.JPEG {
		if seg := extractEXIFSegment(data); seg != nil {
			resetOrientation(seg)
			out = insertSegment(out, seg)
			md.Preserved = true
		}
	}

	// Judge the result by its bytes, not by which encoder ran.
	actual := formats.Sniff(out)
	if actual == mediatypes.Unknown {
		actual = enc.MediaType()
	}
	res := &Result{
		Data:          out,
		MediaType:     actual,
		RequestedType: requested,
		UsedFallback:  actual != requested,
		Width:         tw,
		Height:        th,
		Size:          int64(len(out)),
		SourceType:    src.mediaType,
		SourceWidth:   sw,
		SourceHeight:  sh,
		SourceSize:    int64(len(data)),
		Metadata:      md,
	}
	if res.UsedFallback {
		e.log.Info("Requested %s but produced %s", requested, actual)
	}
	return res, nil
}

// stageErr converts a finished context into the matching pipeline error.
func stageErr(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return errs.New(errs.Timeout, stage, err)
		}
		return errs.New(errs.Canceled, stage, err)
	}
	return nil
}

// checkBounds refuses raster sources whose declared size exceeds
// maxDimension. Vector sources are rasterised within maxRaster instead, and
// unreadable headers are left for decode to report.
func (e *Engine) checkBounds(data []byte) error {
	if formats.Sniff(data) == mediatypes.SVG {
		return nil
	}
	w, h, err := e.dimensions(data)
	if err != nil {
		return nil
	}
	if w > e.maxDimension || h > e.maxDimension {
		return errs.Newf(errs.CorruptOrInvalidDimensions, "decode",
			"source is %dx%d, limit is %d pixels per side", w, h, e.maxDimension)
	}
	return nil
}
