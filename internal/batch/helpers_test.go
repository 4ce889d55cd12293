package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"cleanconvert/internal/archive"
	"cleanconvert/internal/convert"
	"cleanconvert/internal/history"
	"cleanconvert/internal/lifecycle"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/queue"
	"cleanconvert/internal/retry"
	"cleanconvert/internal/validate"
)

// createJPEG encodes a w x h gradient as JPEG.
func createJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func jpegFile(t *testing.T, name string, w, h int) InputFile {
	t.Helper()
	return validate.NewFile(name, mediatypes.JPEG, createJPEG(t, w, h))
}

// createZip bundles name -> content pairs.
func createZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create: %v", err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip Write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

// gatedConverter blocks every conversion until the gate is opened.
type gatedConverter struct {
	inner   queue.Converter
	gate    chan struct{}
	started chan struct{}
}

func newGatedConverter(inner queue.Converter) *gatedConverter {
	return &gatedConverter{inner: inner, gate: make(chan struct{}), started: make(chan struct{}, 64)}
}

func (g *gatedConverter) Convert(ctx context.Context, data []byte, req convert.Request) (*convert.Result, error) {
	g.started <- struct{}{}
	<-g.gate
	return g.inner.Convert(ctx, data, req)
}

type fixture struct {
	batch    *Batch
	engine   *convert.Engine
	queue    *queue.Queue
	registry *lifecycle.Registry
	history  *history.Store
}

type fixtureOptions struct {
	concurrency  int
	maxItems     int
	verify       bool
	disabled     []string
	converter    func(*convert.Engine) queue.Converter
	onTransition func(prev, next Item)
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	log := logging.Discard()

	engine := convert.NewEngine(convert.Options{Logger: log, DisabledEncoders: opts.disabled})
	var conv queue.Converter = engine
	if opts.converter != nil {
		conv = opts.converter(engine)
	}
	if opts.concurrency == 0 {
		opts.concurrency = 3
	}

	q := queue.New(conv, queue.Config{
		Concurrency: opts.concurrency,
		Timeout:     10 * time.Second,
		Retry:       retry.Config{MaxRetries: 0},
		Logger:      log,
	})
	t.Cleanup(q.Close)

	store, err := history.Open(context.Background(), history.Options{Logger: log})
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	reg := lifecycle.NewRegistry(lifecycle.Options{Logger: log})
	codec := archive.NewZipCodec(0)

	b := New(Deps{
		Queue:     q,
		Engine:    engine,
		Registry:  reg,
		Validator: validate.New(validate.DefaultConfig()),
		Unpacker:  codec,
		Packer:    codec,
		Recorder:  store,
		Logger:    log,
	}, Config{
		ID:              "test1234",
		MaxItems:        opts.maxItems,
		VerifyIntegrity: opts.verify,
		OnTransition:    opts.onTransition,
	})
	t.Cleanup(b.Close)

	return &fixture{batch: b, engine: engine, queue: q, registry: reg, history: store}
}

func process(t *testing.T, b *Batch) Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sum, err := b.ProcessAll(ctx)
	if err != nil {
		t.Fatalf("ProcessAll() error = %v", err)
	}
	return sum
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
