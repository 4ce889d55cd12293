package ingest

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"cleanconvert/internal/logging"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/validate"
)

// DefaultStabilityDelay is how long a file must go without writes before
// it is read.
const DefaultStabilityDelay = 2 * time.Second

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Roots          []string
	StabilityDelay time.Duration
	SkipHidden     bool
	Logger         *logging.Logger
	Observer       Observer
}

// Watcher emits image files as they appear under its roots. Directories
// created later are watched too. A file is read once it has been quiet for
// the stability delay, so half-copied files are not picked up.
type Watcher struct {
	cfg    WatcherConfig
	reader *Walker
	fsw    *fsnotify.Watcher
	log    *logging.Logger
	out    chan validate.File

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
	emits   sync.WaitGroup
}

// NewWatcher creates a watcher that reads files through reader.
func NewWatcher(cfg WatcherConfig, reader *Walker) (*Watcher, error) {
	if len(cfg.Roots) == 0 {
		return nil, errors.New("watcher needs at least one root directory")
	}
	if cfg.StabilityDelay <= 0 {
		cfg.StabilityDelay = DefaultStabilityDelay
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:     cfg,
		reader:  reader,
		fsw:     fsw,
		log:     logging.OrDefault(cfg.Logger).With("watcher:"),
		out:     make(chan validate.File),
		pending: make(map[string]*time.Timer),
	}, nil
}

// Files delivers files read by Run. It is closed when Run returns.
func (w *Watcher) Files() <-chan validate.File {
	return w.out
}

// Run watches until ctx is done. Only files created or written after Run
// starts are emitted.
func (w *Watcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		w.stopPending()
		w.emits.Wait()
		close(w.out)
	}()

	for _, root := range w.cfg.Roots {
		if err := w.addTree(root); err != nil {
			return err
		}
	}
	w.log.Info("Watching %s", strings.Join(w.cfg.Roots, ", "))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error: %v", err)
		}
	}
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) hidden(name string) bool {
	return w.cfg.SkipHidden && strings.HasPrefix(filepath.Base(name), ".")
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.hidden(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.log.Warn("Cannot watch %s: %v", path, err)
		}
		return nil
	})
}

func eventType(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "chmod"
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if w.cfg.Observer != nil {
		w.cfg.Observer.ObserveWatchEvent(eventType(ev.Op))
	}
	if w.hidden(ev.Name) {
		return
	}

	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.cancel(ev.Name)
		return
	}
	if !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Write) {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.log.Warn("Cannot watch new directory %s: %v", ev.Name, err)
			}
			return
		}
	}

	if mediatypes.GetFileType(mediatypes.Ext(ev.Name)) == mediatypes.FileTypeOther {
		return
	}
	w.schedule(ctx, ev.Name)
}

// schedule (re)starts the quiet-period timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.StabilityDelay)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.StabilityDelay, func() {
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		w.emits.Add(1)
		w.mu.Unlock()

		defer w.emits.Done()
		w.emit(ctx, path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// stopPending stops every timer. Timers that already fired finish their
// emit before Run closes the output channel.
func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) emit(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	f, err := w.reader.ReadFile(ctx, path, -1)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.log.Warn("Failed to read %s: %v", path, err)
		}
		w.reader.observe(StatusError)
		return
	}
	w.reader.observe(StatusRead)
	w.log.Debug("New file %s", path)

	select {
	case w.out <- f:
	case <-ctx.Done():
	}
}
