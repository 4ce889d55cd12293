package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cleanconvert/internal/formats"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/retry"
	"cleanconvert/internal/validate"
	"cleanconvert/internal/workers"
)

// Ingest statuses reported to the Observer.
const (
	StatusRead    = "read"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Observer records ingest metrics. The metrics package provides the
// implementation.
type Observer interface {
	ObserveIngest(status string)
	ObserveWatchEvent(eventType string)
}

// WalkerConfig configures the parallel file reader
type WalkerConfig struct {
	// NumWorkers is the number of parallel readers (0 = auto, I/O bound)
	NumWorkers int
	// ChannelBuffer is the size of the work channel buffer
	ChannelBuffer int
	// SkipHidden skips files and directories starting with "."
	SkipHidden bool
	// MaxFileSize and MaxArchiveSize stop oversized files from being read.
	// Such files are still returned, with Size set and no Data, so the
	// validator reports them as TooLarge.
	MaxFileSize    int64
	MaxArchiveSize int64

	Retry    retry.Config
	Logger   *logging.Logger
	Observer Observer
}

// DefaultWalkerConfig returns defaults sized for local disks.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		NumWorkers:     workers.ForIO(8),
		ChannelBuffer:  256,
		SkipHidden:     true,
		MaxFileSize:    validate.DefaultMaxFileSize,
		MaxArchiveSize: 4 * validate.DefaultMaxFileSize,
		Retry:          retry.FileConfig(),
	}
}

// Failure is a path that could not be read.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Path, f.Err)
}

// fileJob represents a file to be read
type fileJob struct {
	index    int
	path     string
	size     int64
	explicit bool
}

type fileResult struct {
	index int
	file  validate.File
	err   error
	skip  bool
	path  string
}

// Walker reads image files and bundles from paths and directory trees into
// memory. Directories are walked recursively and only files with an image
// or zip extension are picked up; paths named explicitly are always read so
// that the validator can explain why they are rejected.
type Walker struct {
	cfg WalkerConfig
	log *logging.Logger

	filesRead    atomic.Int64
	filesSkipped atomic.Int64
	errorsCount  atomic.Int64
}

// NewWalker creates a walker. Zero config fields take the defaults.
func NewWalker(cfg WalkerConfig) *Walker {
	def := DefaultWalkerConfig()
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = def.NumWorkers
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = def.ChannelBuffer
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.MaxArchiveSize <= 0 {
		cfg.MaxArchiveSize = def.MaxArchiveSize
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialBackoff == 0 {
		cfg.Retry = def.Retry
	}
	log := logging.OrDefault(cfg.Logger).With("ingest:")
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = log
	}
	return &Walker{cfg: cfg, log: log}
}

// Walk reads every file under paths. Files come back in walk order: the
// order of paths, then lexical order within each directory. Unreadable
// paths are reported as failures and never stop the walk. The error is
// non-nil only when ctx ends first.
func (w *Walker) Walk(ctx context.Context, paths ...string) ([]validate.File, []Failure, error) {
	startTime := time.Now()
	jobs := make(chan fileJob, w.cfg.ChannelBuffer)
	results := make(chan fileResult, w.cfg.ChannelBuffer)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				results <- w.process(ctx, job)
			}
		}()
	}

	var (
		collected []fileResult
		failures  []Failure
		done      = make(chan struct{})
	)
	go func() {
		defer close(done)
		for r := range results {
			collected = append(collected, r)
		}
	}()

	next := 0
	for _, root := range paths {
		if ctx.Err() != nil {
			break
		}
		failures = append(failures, w.enqueue(ctx, root, &next, jobs)...)
	}
	close(jobs)
	wg.Wait()
	close(results)
	<-done

	sort.Slice(collected, func(i, j int) bool { return collected[i].index < collected[j].index })
	files := make([]validate.File, 0, len(collected))
	for _, r := range collected {
		switch {
		case r.err != nil:
			failures = append(failures, Failure{Path: r.path, Err: r.err})
		case !r.skip:
			files = append(files, r.file)
		}
	}

	w.log.Info("Read %d files in %v (skipped %d, errors %d)",
		len(files), time.Since(startTime).Round(time.Millisecond), w.filesSkipped.Load(), len(failures))

	if err := ctx.Err(); err != nil {
		return files, failures, err
	}
	return files, failures, nil
}

// enqueue sends the files under root to the readers.
func (w *Walker) enqueue(ctx context.Context, root string, next *int, jobs chan<- fileJob) []Failure {
	info, err := os.Stat(root)
	if err != nil {
		w.observe(StatusError)
		return []Failure{{Path: root, Err: err}}
	}

	send := func(job fileJob) bool {
		job.index = *next
		*next++
		select {
		case jobs <- job:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !info.IsDir() {
		send(fileJob{path: root, size: info.Size(), explicit: true})
		return nil
	}

	var failures []Failure
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if err != nil {
			w.log.Warn("Error accessing path %s: %v", path, err)
			failures = append(failures, Failure{Path: path, Err: err})
			w.observe(StatusError)
			return nil
		}

		if path != root && w.cfg.SkipHidden && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		if mediatypes.GetFileType(mediatypes.Ext(d.Name())) == mediatypes.FileTypeOther {
			w.filesSkipped.Add(1)
			w.observe(StatusSkipped)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			w.log.Warn("Error getting info for %s: %v", path, err)
			failures = append(failures, Failure{Path: path, Err: err})
			w.observe(StatusError)
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		if !send(fileJob{path: path, size: fi.Size()}) {
			return fs.SkipAll
		}
		return nil
	})
	return failures
}

func (w *Walker) process(ctx context.Context, job fileJob) fileResult {
	f, err := w.ReadFile(ctx, job.path, job.size)
	if err != nil {
		w.errorsCount.Add(1)
		w.observe(StatusError)
		return fileResult{index: job.index, path: job.path, err: err}
	}
	w.filesRead.Add(1)
	w.observe(StatusRead)
	return fileResult{index: job.index, path: job.path, file: f}
}

// ReadFile loads one file. size is the size from a prior stat; a negative
// size stats the file first. The declared type comes from the extension,
// or from the content when the extension is unknown.
func (w *Walker) ReadFile(ctx context.Context, path string, size int64) (validate.File, error) {
	if size < 0 {
		fi, err := os.Stat(path)
		if err != nil {
			return validate.File{}, err
		}
		size = fi.Size()
	}

	name := filepath.Base(path)
	mt := mediatypes.GetMimeType(mediatypes.Ext(name))

	limit := w.cfg.MaxFileSize
	if mediatypes.IsArchive(name, mt) {
		limit = w.cfg.MaxArchiveSize
	}
	if size > limit {
		return validate.File{Name: name, MediaType: mt, Size: size}, nil
	}

	data, err := retry.ReadFile(ctx, path, w.cfg.Retry)
	if err != nil {
		return validate.File{}, err
	}
	if mt == mediatypes.Unknown {
		mt = formats.Sniff(data)
	}
	return validate.NewFile(name, mt, data), nil
}

func (w *Walker) observe(status string) {
	if w.cfg.Observer != nil {
		w.cfg.Observer.ObserveIngest(status)
	}
}

// Stats returns counters accumulated over every walk.
func (w *Walker) Stats() (read, skipped, errors int64) {
	return w.filesRead.Load(), w.filesSkipped.Load(), w.errorsCount.Load()
}
