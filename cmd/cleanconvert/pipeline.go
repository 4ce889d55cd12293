package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cleanconvert/internal/archive"
	"cleanconvert/internal/batch"
	"cleanconvert/internal/convert"
	"cleanconvert/internal/history"
	"cleanconvert/internal/ingest"
	"cleanconvert/internal/lifecycle"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/queue"
	"cleanconvert/internal/startup"
	"cleanconvert/internal/validate"
)

// options are the flags shared by convert and watch.
type options struct {
	format       string
	quality      int
	maxWidth     int
	maxHeight    int
	keepMetadata bool
	outDir       string
	concurrency  int
	timeout      time.Duration
	retries      int
	verify       bool
	vips         bool
	disabled     string
	historyDSN   string
	verbose      bool
}

func (o *options) register(fs *flag.FlagSet) {
	d := startup.Defaults()
	fs.StringVar(&o.format, "format", d.DefaultFormat, "output format (webp, avif, jpg, png, bmp, tiff)")
	fs.IntVar(&o.quality, "quality", d.DefaultQuality, "quality 0-100 for lossy formats")
	fs.IntVar(&o.maxWidth, "max-width", 0, "maximum output width in pixels (0 = unbounded)")
	fs.IntVar(&o.maxHeight, "max-height", 0, "maximum output height in pixels (0 = unbounded)")
	fs.BoolVar(&o.keepMetadata, "keep-metadata", false, "carry EXIF into JPEG output")
	fs.StringVar(&o.outDir, "out", ".", "output directory")
	fs.IntVar(&o.concurrency, "concurrency", d.Concurrency, "parallel conversions")
	fs.DurationVar(&o.timeout, "timeout", d.Timeout, "time budget per conversion")
	fs.IntVar(&o.retries, "retries", d.Retries, "retries for timed out conversions")
	fs.BoolVar(&o.verify, "verify", d.VerifyIntegrity, "decode-check files before accepting them")
	fs.BoolVar(&o.vips, "vips", d.VipsEnabled, "use libvips when available")
	fs.StringVar(&o.disabled, "disable", "", "comma separated encoders to treat as unavailable")
	fs.StringVar(&o.historyDSN, "history", "", "sqlite file to keep the attempt log in")
	fs.BoolVar(&o.verbose, "v", false, "verbose logging")
}

// config maps the flags onto the server configuration type so that both
// binaries share defaults and validation.
func (o *options) config() (*startup.Config, error) {
	cfg := startup.Defaults()
	cfg.DefaultFormat = o.format
	cfg.DefaultQuality = o.quality
	cfg.Concurrency = o.concurrency
	cfg.Timeout = o.timeout
	cfg.Retries = o.retries
	cfg.VerifyIntegrity = o.verify
	cfg.VipsEnabled = o.vips
	cfg.HistoryDSN = o.historyDSN
	for _, enc := range strings.Split(o.disabled, ",") {
		if enc = strings.TrimSpace(enc); enc != "" {
			cfg.DisabledEncoders = append(cfg.DisabledEncoders, enc)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (o *options) request(cfg *startup.Config) (convert.Request, error) {
	req, err := cfg.DefaultRequest()
	if err != nil {
		return convert.Request{}, err
	}
	req.MaxWidth = o.maxWidth
	req.MaxHeight = o.maxHeight
	req.StripMetadata = !o.keepMetadata
	return req, req.Validate()
}

func (o *options) logger(stderr io.Writer) *logging.Logger {
	level := logging.LevelWarn
	if o.verbose {
		level = logging.LevelDebug
	}
	return logging.NewWithWriter(stderr, level, "")
}

// pipeline is one batch and everything it runs on.
type pipeline struct {
	cfg      *startup.Config
	log      *logging.Logger
	engine   *convert.Engine
	queue    *queue.Queue
	registry *lifecycle.Registry
	history  *history.Store
	batch    *batch.Batch
	walker   *ingest.Walker
	vips     bool
}

type pipelineOptions struct {
	maxItems     int
	onTransition func(prev, next batch.Item)
}

func newPipeline(ctx context.Context, o *options, popts pipelineOptions, stderr io.Writer) (*pipeline, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	req, err := o.request(cfg)
	if err != nil {
		return nil, err
	}
	log := o.logger(stderr)

	p := &pipeline{cfg: cfg, log: log}
	if cfg.VipsEnabled {
		if err := convert.InitVips(log); err != nil {
			log.Debug("libvips unavailable: %v", err)
		} else {
			p.vips = true
		}
	}

	p.engine = convert.NewEngine(convert.Options{
		Logger:           log,
		Vips:             p.vips,
		DisabledEncoders: cfg.DisabledEncoders,
		MaxDimension:     cfg.MaxImageDimension,
	})
	p.queue = queue.New(p.engine, queue.Config{
		Concurrency: cfg.Workers(),
		Timeout:     cfg.Timeout,
		Retry:       cfg.RetryConfig(log),
		Logger:      log,
	})
	p.history, err = history.Open(ctx, history.Options{DSN: cfg.HistoryDSN, Logger: log})
	if err != nil {
		p.queue.Close()
		return nil, err
	}
	p.registry = lifecycle.NewRegistry(lifecycle.Options{Logger: log})

	codec := archive.NewZipCodec(cfg.MaxArchiveSize)
	p.batch = batch.New(batch.Deps{
		Queue:     p.queue,
		Engine:    p.engine,
		Registry:  p.registry,
		Validator: validate.New(cfg.ValidatorConfig()),
		Unpacker:  codec,
		Packer:    codec,
		Recorder:  p.history,
		Logger:    log,
	}, batch.Config{
		MaxItems:        popts.maxItems,
		VerifyIntegrity: cfg.VerifyIntegrity,
		DefaultRequest:  req,
		OnTransition:    popts.onTransition,
	})

	p.walker = ingest.NewWalker(ingest.WalkerConfig{
		MaxFileSize:    cfg.MaxFileSize,
		MaxArchiveSize: cfg.MaxArchiveSize,
		SkipHidden:     true,
		Logger:         log,
	})
	return p, nil
}

func (p *pipeline) Close() {
	p.batch.Close()
	p.queue.Close()
	if err := p.history.Close(); err != nil {
		p.log.Warn("Failed to close history: %v", err)
	}
	if p.vips {
		convert.ShutdownVips(p.log)
	}
}

// writeDownload saves d under dir without replacing an existing file.
func writeDownload(dir string, d batch.Download) (string, error) {
	return writeUnique(dir, d.FileName, d.Data)
}

func writeUnique(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := 0; ; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		path := filepath.Join(dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return "", err
		}
		return path, f.Close()
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
