package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"cleanconvert/internal/convert"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/queue"
	"cleanconvert/internal/validate"
)

func TestUploadAndProcessScenario(t *testing.T) {
	f := newFixture(t, fixtureOptions{verify: true})
	b := f.batch

	report := b.AddFiles(context.Background(), []InputFile{
		jpegFile(t, "wide.jpg", 2000, 1000),
		jpegFile(t, "square.jpg", 800, 800),
		validate.NewFile("empty.jpg", mediatypes.JPEG, nil),
	})
	if len(report.Added) != 2 {
		t.Fatalf("added %d items, want 2", len(report.Added))
	}
	if len(report.Rejected) != 1 {
		t.Fatalf("rejected %d files, want 1", len(report.Rejected))
	}
	if r := report.Rejected[0]; r.Name != "empty.jpg" || r.Code != errs.EmptyFile || r.Reason == "" {
		t.Errorf("rejection = %+v", r)
	}
	for _, it := range b.Items() {
		if it.Status != StatusPending {
			t.Errorf("%s status = %s, want pending", it.Name, it.Status)
		}
	}

	req := convert.Request{Format: "webp", Quality: 0.8, MaxWidth: 1000, StripMetadata: true}
	if err := b.UpdateSettings(req); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	sum := process(t, b)
	if sum.Succeeded != 2 || sum.Failed != 0 {
		t.Fatalf("summary = %+v", sum)
	}

	items := b.Items()
	want := map[string][2]int{"wide.jpg": {1000, 500}, "square.jpg": {800, 800}}
	for _, it := range items {
		if it.Status != StatusCompleted || it.Result == nil || it.Err != nil {
			t.Fatalf("%s = %s (result %v, err %v)", it.Name, it.Status, it.Result, it.Err)
		}
		dims := want[it.Name]
		if it.Result.Width != dims[0] || it.Result.Height != dims[1] {
			t.Errorf("%s output = %dx%d, want %dx%d", it.Name, it.Result.Width, it.Result.Height, dims[0], dims[1])
		}
		if it.Result.MediaType != mediatypes.WebP || it.Result.UsedFallback {
			t.Errorf("%s output type = %s fallback=%v", it.Name, it.Result.MediaType, it.Result.UsedFallback)
		}
		if it.Progress != queue.ProgressDone {
			t.Errorf("%s progress = %d, want %d", it.Name, it.Progress, queue.ProgressDone)
		}
	}

	hist, err := f.history.Summary(context.Background())
	if err != nil {
		t.Fatalf("history Summary() error = %v", err)
	}
	if hist.Total != 2 || hist.Succeeded != 2 {
		t.Errorf("history summary = %+v", hist)
	}
}

func TestConcurrencyBoundScenario(t *testing.T) {
	var (
		mu            sync.Mutex
		processing    int
		maxProcessing int
	)
	f := newFixture(t, fixtureOptions{
		concurrency: 2,
		onTransition: func(prev, next Item) {
			mu.Lock()
			defer mu.Unlock()
			if prev.Status == StatusProcessing {
				processing--
			}
			if next.Status == StatusProcessing {
				processing++
			}
			if processing > maxProcessing {
				maxProcessing = processing
			}
		},
	})

	files := make([]InputFile, 10)
	for i := range files {
		files[i] = jpegFile(t, "img.jpg", 64+i, 48)
	}
	if r := f.batch.AddFiles(context.Background(), files); len(r.Added) != 10 {
		t.Fatalf("added %d, want 10 (rejected %+v)", len(r.Added), r.Rejected)
	}

	sum := process(t, f.batch)
	if sum.Succeeded != 10 {
		t.Errorf("succeeded = %d, want 10", sum.Succeeded)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxProcessing > 2 {
		t.Errorf("max items processing = %d, want <= 2", maxProcessing)
	}
	if maxProcessing == 0 {
		t.Error("no processing transition observed")
	}
	if processing != 0 {
		t.Errorf("processing after pass = %d, want 0", processing)
	}
}

func TestFailureIsolation(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	b := f.batch

	files := []InputFile{
		jpegFile(t, "a.jpg", 40, 30),
		validate.NewFile("broken.jpg", mediatypes.JPEG, []byte("definitely not a jpeg")),
		jpegFile(t, "b.jpg", 40, 30),
		jpegFile(t, "c.jpg", 40, 30),
	}
	if r := b.AddFiles(context.Background(), files); len(r.Added) != 4 {
		t.Fatalf("added %d, want 4", len(r.Added))
	}

	sum := process(t, b)
	if sum.Succeeded != 3 || sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 3 succeeded and 1 failed", sum)
	}

	for _, it := range b.Items() {
		if it.Name == "broken.jpg" {
			if it.Status != StatusError || it.Err == nil || it.Result != nil {
				t.Errorf("broken item = %+v", it)
			} else if it.Err.Code != errs.DecodeFailed {
				t.Errorf("broken code = %s, want DecodeFailed", it.Err.Code)
			}
			continue
		}
		if it.Status != StatusCompleted {
			t.Errorf("%s = %s, want completed", it.Name, it.Status)
		}
	}
}

func TestIntegrityCheckRejectsCorruptFile(t *testing.T) {
	f := newFixture(t, fixtureOptions{verify: true})
	r := f.batch.AddFiles(context.Background(), []InputFile{
		validate.NewFile("broken.png", mediatypes.PNG, []byte("not a png")),
	})
	if len(r.Added) != 0 || len(r.Rejected) != 1 {
		t.Fatalf("report = %+v", r)
	}
	if r.Rejected[0].Code != errs.CorruptOrInvalidDimensions {
		t.Errorf("code = %s, want CorruptOrInvalidDimensions", r.Rejected[0].Code)
	}
}

func TestFallbackIsVisible(t *testing.T) {
	f := newFixture(t, fixtureOptions{disabled: []string{"webp"}})
	b := f.batch

	b.AddFiles(context.Background(), []InputFile{jpegFile(t, "photo.jpg", 32, 32)})
	sum := process(t, b)

	if sum.Succeeded != 1 || sum.Fallbacks != 1 {
		t.Fatalf("summary = %+v, want 1 succeeded with fallback", sum)
	}
	it := b.Items()[0]
	if it.Status != StatusCompleted {
		t.Fatalf("status = %s", it.Status)
	}
	if !it.Result.UsedFallback || it.Result.MediaType == it.Result.RequestedType {
		t.Errorf("result = %+v, want a visible fallback", it.Result)
	}
	if it.Result.MediaType != mediatypes.PNG || it.Result.FileName != "photo.png" {
		t.Errorf("fallback output = %s %s", it.Result.MediaType, it.Result.FileName)
	}
	if s := b.Stats(); s.Fallbacks != 1 {
		t.Errorf("Stats().Fallbacks = %d", s.Fallbacks)
	}
}

func TestSettingsChangeResetsCompletedItems(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	b := f.batch

	b.AddFiles(context.Background(), []InputFile{
		jpegFile(t, "a.jpg", 30, 20),
		jpegFile(t, "b.jpg", 20, 30),
	})
	process(t, b)

	before := b.Items()
	for _, it := range before {
		if it.Status != StatusCompleted {
			t.Fatalf("%s = %s before settings change", it.Name, it.Status)
		}
	}

	if err := b.UpdateSettings(convert.Request{Format: "png", Quality: 0.5}); err != nil {
		t.Fatalf("UpdateSettings() error = %v", err)
	}

	for i, it := range b.Items() {
		if it.Status != StatusPending || it.Result != nil || it.Err != nil {
			t.Errorf("%s after reset = %s result=%v", it.Name, it.Status, it.Result)
		}
		if it.Attempt != before[i].Attempt+1 {
			t.Errorf("%s attempt = %d, want %d", it.Name, it.Attempt, before[i].Attempt+1)
		}
		if it.Request.Format != "png" {
			t.Errorf("%s request = %v", it.Name, it.Request)
		}
		if _, ok := f.registry.Lookup(before[i].Result.Handle); ok {
			t.Errorf("%s prior result handle still live", it.Name)
		}
		if _, ok := f.registry.Lookup(it.Original); !ok {
			t.Errorf("%s original handle was released", it.Name)
		}
	}

	sum := process(t, b)
	if sum.Succeeded != 2 {
		t.Fatalf("second pass summary = %+v", sum)
	}
	for _, it := range b.Items() {
		if it.Result.MediaType != mediatypes.PNG {
			t.Errorf("%s reconverted to %s, want png", it.Name, it.Result.MediaType)
		}
	}
}

func TestUpdateSettingsRejectsInvalidRequest(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	b := f.batch
	b.AddFiles(context.Background(), []InputFile{jpegFile(t, "a.jpg", 10, 10)})

	tests := []struct {
		name string
		req  convert.Request
		code errs.Code
	}{
		{"quality above range", convert.Request{Format: "webp", Quality: 1.5}, errs.InvalidQuality},
		{"quality below range", convert.Request{Format: "webp", Quality: -0.1}, errs.InvalidQuality},
		{"unknown format", convert.Request{Format: "gif", Quality: 0.5}, errs.UnsupportedFormat},
		{"negative width", convert.Request{Format: "png", Quality: 0.5, MaxWidth: -1}, errs.InvalidDimensions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.UpdateSettings(tt.req)
			if errs.CodeOf(err) != tt.code {
				t.Errorf("UpdateSettings() = %v, want %s", err, tt.code)
			}
		})
	}

	if got := b.Items()[0].Request; got != convert.DefaultRequest() {
		t.Errorf("request changed to %v after rejected updates", got)
	}
}

func TestRemoveAndClearReleaseHandles(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	b := f.batch

	r := b.AddFiles(context.Background(), []InputFile{
		jpegFile(t, "a.jpg", 10, 10),
		jpegFile(t, "b.jpg", 10, 10),
		jpegFile(t, "c.jpg", 10, 10),
	})
	process(t, b)

	if live := f.registry.Stats().Live; live != 6 {
		t.Fatalf("live handles = %d, want 6 (original + result per item)", live)
	}

	if err := b.RemoveItem(r.Added[0].ID); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if err := b.RemoveItem(r.Added[0].ID); errs.CodeOf(err) != errs.NotFound {
		t.Errorf("second RemoveItem() = %v, want NotFound", err)
	}
	if got := len(f.registry.Owned(r.Added[0].ID)); got != 0 {
		t.Errorf("removed item still owns %d handles", got)
	}
	if live := f.registry.Stats().Live; live != 4 {
		t.Errorf("live handles = %d, want 4", live)
	}

	if n := b.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	s := f.registry.Stats()
	if s.Live != 0 || s.Acquired != s.Released {
		t.Errorf("registry after Clear = %+v", s)
	}
	if len(b.Items()) != 0 {
		t.Error("items remain after Clear")
	}
}

func TestLateResultIsDiscarded(t *testing.T) {
	var gated *gatedConverter
	f := newFixture(t, fixtureOptions{
		concurrency: 1,
		converter: func(e *convert.Engine) queue.Converter {
			gated = newGatedConverter(e)
			return gated
		},
	})
	b := f.batch
	r := b.AddFiles(context.Background(), []InputFile{jpegFile(t, "a.jpg", 10, 10)})
	id := r.Added[0].ID

	done := make(chan Summary, 1)
	go func() {
		sum, _ := b.ProcessAll(context.Background())
		done <- sum
	}()

	<-gated.started
	waitFor(t, "item to be processing", func() bool {
		it, _ := b.Item(id)
		return it.Status == StatusProcessing
	})

	if err := b.RemoveItem(id); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	close(gated.gate)

	sum := <-done
	if sum.Dropped != 1 || sum.Succeeded != 0 {
		t.Errorf("summary = %+v, want the late result dropped", sum)
	}
	if s := f.registry.Stats(); s.Live != 0 {
		t.Errorf("live handles = %d after discarded result, want 0", s.Live)
	}
}

func TestProcessAllCancel(t *testing.T) {
	var gated *gatedConverter
	f := newFixture(t, fixtureOptions{
		concurrency: 1,
		converter: func(e *convert.Engine) queue.Converter {
			gated = newGatedConverter(e)
			return gated
		},
	})
	b := f.batch
	b.AddFiles(context.Background(), []InputFile{
		jpegFile(t, "a.jpg", 10, 10),
		jpegFile(t, "b.jpg", 10, 10),
		jpegFile(t, "c.jpg", 10, 10),
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := b.ProcessAll(ctx)
		errc <- err
	}()

	<-gated.started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessAll() error = %v, want context.Canceled", err)
	}
	close(gated.gate)

	waitFor(t, "queue to drain", func() bool { return f.queue.Active() == 0 && f.queue.Pending() == 0 })

	pending := 0
	for _, it := range b.Items() {
		if it.Status == StatusPending {
			pending++
		}
	}
	if pending != 2 {
		t.Errorf("pending items after cancel = %d, want 2", pending)
	}

	// the cancelled items can be processed again
	sum := process(t, b)
	if sum.Succeeded != 2 {
		t.Errorf("second pass = %+v, want 2 succeeded", sum)
	}
}

func TestBatchFull(t *testing.T) {
	f := newFixture(t, fixtureOptions{maxItems: 2})
	r := f.batch.AddFiles(context.Background(), []InputFile{
		jpegFile(t, "a.jpg", 10, 10),
		jpegFile(t, "b.jpg", 10, 10),
		jpegFile(t, "c.jpg", 10, 10),
	})
	if len(r.Added) != 2 || len(r.Rejected) != 1 {
		t.Fatalf("report = %d added, %d rejected", len(r.Added), len(r.Rejected))
	}
	if r.Rejected[0].Code != errs.BatchFull || r.Rejected[0].Name != "c.jpg" {
		t.Errorf("rejection = %+v", r.Rejected[0])
	}
}

func TestAddFilesUnpacksBundles(t *testing.T) {
	f := newFixture(t, fixtureOptions{verify: true})
	bundle := createZip(t, map[string][]byte{
		"photos/one.jpg":   createJPEG(t, 12, 12),
		"photos/two.jpg":   createJPEG(t, 14, 10),
		"readme.txt":       []byte("hello"),
		"nested/inner.zip": createZip(t, map[string][]byte{"x.jpg": createJPEG(t, 4, 4)}),
	})

	r := f.batch.AddFiles(context.Background(), []InputFile{
		validate.NewFile("photos.zip", mediatypes.Zip, bundle),
		validate.NewFile("broken.zip", mediatypes.Zip, []byte("PK not really")),
		jpegFile(t, "loose.jpg", 8, 8),
	})

	if len(r.Added) != 3 {
		t.Fatalf("added %d, want 3 (two entries and one loose file)", len(r.Added))
	}
	if len(r.Rejected) != 1 || r.Rejected[0].Code != errs.ArchiveUnreadable || r.Rejected[0].Name != "broken.zip" {
		t.Errorf("rejected = %+v", r.Rejected)
	}

	sources := 0
	for _, it := range r.Added {
		if it.Source == "photos.zip" {
			sources++
		}
	}
	if sources != 2 {
		t.Errorf("%d items attributed to the bundle, want 2", sources)
	}
}

func TestBundleEntriesAreDimensionChecked(t *testing.T) {
	bundle := func(t *testing.T) []byte {
		return createZip(t, map[string][]byte{
			"wide.jpg": createJPEG(t, 12000, 2),
			"ok.jpg":   createJPEG(t, 16, 16),
		})
	}

	t.Run("integrity check rejects oversized entry", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{verify: true})
		r := f.batch.AddFiles(context.Background(), []InputFile{
			validate.NewFile("photos.zip", mediatypes.Zip, bundle(t)),
		})
		if len(r.Added) != 1 || r.Added[0].Name != "ok.jpg" {
			t.Fatalf("added = %+v, want only ok.jpg", r.Added)
		}
		if len(r.Rejected) != 1 {
			t.Fatalf("rejected = %+v, want one rejection", r.Rejected)
		}
		rej := r.Rejected[0]
		if rej.Name != "wide.jpg" || rej.Source != "photos.zip" || rej.Code != errs.CorruptOrInvalidDimensions {
			t.Errorf("rejection = %+v", rej)
		}
	})

	t.Run("engine refuses oversized entry without integrity check", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{})
		r := f.batch.AddFiles(context.Background(), []InputFile{
			validate.NewFile("photos.zip", mediatypes.Zip, bundle(t)),
		})
		if len(r.Added) != 2 {
			t.Fatalf("added %d, want 2", len(r.Added))
		}
		process(t, f.batch)

		for _, added := range r.Added {
			it, _ := f.batch.Item(added.ID)
			switch it.Name {
			case "wide.jpg":
				if it.Status != StatusError || it.Err == nil || it.Err.Code != errs.CorruptOrInvalidDimensions {
					t.Errorf("wide.jpg = %s %+v, want error CorruptOrInvalidDimensions", it.Status, it.Err)
				}
			case "ok.jpg":
				if it.Status != StatusCompleted {
					t.Errorf("ok.jpg status = %s, want completed", it.Status)
				}
			}
		}
	})
}

func TestDownloads(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	b := f.batch

	r := b.AddFiles(context.Background(), []InputFile{
		jpegFile(t, "holiday.jpg", 20, 10),
		jpegFile(t, "dir/holiday.jpeg", 10, 20),
		validate.NewFile("broken.jpg", mediatypes.JPEG, []byte("junk")),
	})

	if _, err := b.DownloadItem(r.Added[0].ID); errs.CodeOf(err) != errs.NotReady {
		t.Errorf("DownloadItem() before processing = %v, want NotReady", err)
	}
	if _, err := b.DownloadItem("missing"); errs.CodeOf(err) != errs.NotFound {
		t.Errorf("DownloadItem(missing) = %v, want NotFound", err)
	}
	if _, _, err := b.DownloadAllAsArchive(context.Background()); errs.CodeOf(err) != errs.NotReady {
		t.Errorf("DownloadAllAsArchive() with nothing converted = %v, want NotReady", err)
	}

	process(t, b)

	d, err := b.DownloadItem(r.Added[0].ID)
	if err != nil {
		t.Fatalf("DownloadItem() error = %v", err)
	}
	if d.FileName != "holiday.webp" || d.MediaType != mediatypes.WebP || len(d.Data) == 0 || d.ETag == "" {
		t.Errorf("download = %s %s %d bytes etag %q", d.FileName, d.MediaType, len(d.Data), d.ETag)
	}

	downloads, outcomes := b.DownloadAllIndividually()
	if len(downloads) != 2 || len(outcomes) != 3 {
		t.Fatalf("individual downloads = %d, outcomes = %d", len(downloads), len(outcomes))
	}
	if o := outcomes[2]; o.Outcome != OutcomeSkipped || o.Code != errs.NotReady {
		t.Errorf("failed item outcome = %+v", o)
	}

	ad, outcomes, err := b.DownloadAllAsArchive(context.Background())
	if err != nil {
		t.Fatalf("DownloadAllAsArchive() error = %v", err)
	}
	if ad.FileName != "cleanconvert-batch-test1234.zip" || ad.Entries != 2 || ad.MediaType != mediatypes.Zip {
		t.Errorf("archive = %+v", ad)
	}
	if len(outcomes) != 3 {
		t.Errorf("archive outcomes = %d, want 3", len(outcomes))
	}

	zr, err := zip.NewReader(bytes.NewReader(ad.Data), int64(len(ad.Data)))
	if err != nil {
		t.Fatalf("archive unreadable: %v", err)
	}
	names := map[string]bool{}
	for _, zf := range zr.File {
		names[zf.Name] = true
	}
	if !names["holiday.webp"] || !names["holiday-1.webp"] {
		t.Errorf("archive entries = %v, want holiday.webp and holiday-1.webp", names)
	}
}

func TestStatsAndClose(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	b := f.batch

	r := b.AddFiles(context.Background(), []InputFile{
		jpegFile(t, "a.jpg", 200, 200),
		validate.NewFile("broken.jpg", mediatypes.JPEG, []byte("junk")),
	})
	process(t, b)
	first := r.Added[0].ID

	s := b.Stats()
	if s.Total != 2 || s.Completed != 1 || s.Failed != 1 || s.Pending != 0 {
		t.Errorf("Stats() = %+v", s)
	}
	if s.OriginalBytes == 0 || s.OutputBytes == 0 {
		t.Errorf("Stats() bytes = %d/%d", s.OriginalBytes, s.OutputBytes)
	}
	if s.Limit != 3 || s.BatchID != "test1234" {
		t.Errorf("Stats() limit=%d id=%s", s.Limit, s.BatchID)
	}

	b.Close()
	b.Close()

	if live := f.registry.Stats().Live; live != 0 {
		t.Errorf("live handles after Close = %d", live)
	}
	if b.IsLive(first) {
		t.Error("item still live after Close")
	}
	r = b.AddFiles(context.Background(), []InputFile{jpegFile(t, "late.jpg", 4, 4)})
	if len(r.Added) != 0 || len(r.Rejected) != 1 || r.Rejected[0].Code != errs.Canceled {
		t.Errorf("AddFiles after Close = %+v", r)
	}
	if _, err := b.ProcessAll(context.Background()); err == nil {
		t.Error("ProcessAll after Close should fail")
	}
}
