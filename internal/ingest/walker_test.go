package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"cleanconvert/internal/logging"
	"cleanconvert/internal/mediatypes"
)

func createPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 4; i++ {
		img.Set(i, i, color.RGBA{R: 255, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

type countingObserver struct {
	ingest map[string]int
	events map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{ingest: map[string]int{}, events: map[string]int{}}
}

func (c *countingObserver) ObserveIngest(status string)        { c.ingest[status]++ }
func (c *countingObserver) ObserveWatchEvent(eventType string) { c.events[eventType]++ }

func TestNewWalkerDefaults(t *testing.T) {
	w := NewWalker(WalkerConfig{})
	def := DefaultWalkerConfig()

	if w.cfg.NumWorkers != def.NumWorkers {
		t.Errorf("NumWorkers = %d, want %d", w.cfg.NumWorkers, def.NumWorkers)
	}
	if w.cfg.MaxFileSize != def.MaxFileSize {
		t.Errorf("MaxFileSize = %d, want %d", w.cfg.MaxFileSize, def.MaxFileSize)
	}
	if w.cfg.Retry.MaxRetries != def.Retry.MaxRetries {
		t.Errorf("Retry.MaxRetries = %d, want %d", w.cfg.Retry.MaxRetries, def.Retry.MaxRetries)
	}
}

func TestWalkDirectoryTree(t *testing.T) {
	dir := t.TempDir()
	img := createPNG(t)
	writeFile(t, filepath.Join(dir, "b.png"), img)
	writeFile(t, filepath.Join(dir, "a.png"), img)
	writeFile(t, filepath.Join(dir, "sub", "c.png"), img)
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("not an image"))
	writeFile(t, filepath.Join(dir, ".hidden.png"), img)
	writeFile(t, filepath.Join(dir, ".cache", "d.png"), img)

	obs := newCountingObserver()
	w := NewWalker(WalkerConfig{NumWorkers: 3, SkipHidden: true, Logger: logging.Discard(), Observer: obs})

	files, failures, err := w.Walk(context.Background(), dir)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("failures = %v", failures)
	}

	var names []string
	for _, f := range files {
		names = append(names, f.Name)
		if f.MediaType != mediatypes.PNG {
			t.Errorf("%s media type = %q, want %q", f.Name, f.MediaType, mediatypes.PNG)
		}
		if f.Size != int64(len(img)) || len(f.Data) != len(img) {
			t.Errorf("%s size = %d (%d bytes), want %d", f.Name, f.Size, len(f.Data), len(img))
		}
	}
	want := []string{"a.png", "b.png", "c.png"}
	if len(names) != len(want) {
		t.Fatalf("files = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("files[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	if obs.ingest[StatusRead] != 3 || obs.ingest[StatusSkipped] != 1 {
		t.Errorf("observed = %v, want 3 read and 1 skipped", obs.ingest)
	}
	if read, skipped, _ := w.Stats(); read != 3 || skipped != 1 {
		t.Errorf("Stats() = %d read, %d skipped", read, skipped)
	}
}

func TestWalkExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	img := createPNG(t)
	noExt := filepath.Join(dir, "scan")
	text := filepath.Join(dir, "readme.txt")
	writeFile(t, noExt, img)
	writeFile(t, text, []byte("hello"))
	missing := filepath.Join(dir, "missing.png")

	w := NewWalker(WalkerConfig{Logger: logging.Discard()})
	files, failures, err := w.Walk(context.Background(), text, noExt, missing)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
	if files[0].Name != "readme.txt" || files[0].MediaType != "text/plain" {
		t.Errorf("explicit text file = %s %q, want readme.txt sniffed as text/plain", files[0].Name, files[0].MediaType)
	}
	if files[1].MediaType != mediatypes.PNG {
		t.Errorf("sniffed type = %q, want %q", files[1].MediaType, mediatypes.PNG)
	}
	if len(failures) != 1 || failures[0].Path != missing {
		t.Errorf("failures = %v, want %s", failures, missing)
	}
}

func TestWalkOversizedFileIsNotRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.png")
	writeFile(t, path, make([]byte, 2048))

	w := NewWalker(WalkerConfig{MaxFileSize: 1024, Logger: logging.Discard()})
	files, _, err := w.Walk(context.Background(), path)
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("files = %d, want 1", len(files))
	}
	if files[0].Size != 2048 || files[0].Data != nil {
		t.Errorf("oversized file = size %d with %d bytes, want size 2048 and no data", files[0].Size, len(files[0].Data))
	}
}

func TestWalkCanceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.png"), createPNG(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := NewWalker(WalkerConfig{Logger: logging.Discard()})
	files, _, err := w.Walk(ctx, dir)
	if err == nil {
		t.Fatal("Walk() on canceled context returned nil error")
	}
	if len(files) != 0 {
		t.Errorf("files = %d, want 0", len(files))
	}
}
