package lifecycle

import (
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"cleanconvert/internal/logging"
)

// HandlePrefix starts every handle issued by a Registry.
const HandlePrefix = "blob:cleanconvert/"

// DefaultSweepInterval is how often the background sweeper reconciles the
// live set.
const DefaultSweepInterval = 5 * time.Minute

// Handle is an opaque, revocable reference to one buffer.
type Handle string

// Valid reports whether h has the shape of an issued handle.
func (h Handle) Valid() bool {
	return strings.HasPrefix(string(h), HandlePrefix) && len(h) > len(HandlePrefix)
}

// Blob is a live buffer and its bookkeeping.
type Blob struct {
	Handle    Handle
	Owner     string
	MediaType string
	Data      []byte
	ETag      string
	Created   time.Time
}

// Stats summarises registry activity. Acquired always equals Released + Live.
type Stats struct {
	Live     int    `json:"live"`
	Bytes    int64  `json:"bytes"`
	Acquired uint64 `json:"acquired"`
	Released uint64 `json:"released"`
}

// Observer records registry metrics. The metrics package provides the
// implementation.
type Observer interface {
	ObserveAcquire(bytes int)
	ObserveRelease(reason string, count int)
	ObserveLive(count int, bytes int64)
}

// Options configures a Registry.
type Options struct {
	Logger   *logging.Logger
	Observer Observer
}

// Registry tracks every live handle. Release is idempotent: releasing an
// unknown or already released handle is a no-op that reports false.
type Registry struct {
	log      *logging.Logger
	observer Observer

	mu       sync.Mutex
	live     map[Handle]*Blob
	byOwner  map[string]map[Handle]struct{}
	bytes    int64
	acquired uint64
	released uint64

	sweepMu  sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		log:      logging.OrDefault(opts.Logger).With("lifecycle:"),
		observer: opts.Observer,
		live:     make(map[Handle]*Blob),
		byOwner:  make(map[string]map[Handle]struct{}),
	}
}

// Acquire registers data under owner and returns a fresh handle. Handles are
// never reused.
func (r *Registry) Acquire(owner string, data []byte, mediaType string) Handle {
	h := Handle(HandlePrefix + uuid.NewString())
	sum := blake2b.Sum256(data)
	b := &Blob{
		Handle:    h,
		Owner:     owner,
		MediaType: mediaType,
		Data:      data,
		ETag:      `"` + hex.EncodeToString(sum[:16]) + `"`,
		Created:   time.Now(),
	}

	r.mu.Lock()
	r.live[h] = b
	set, ok := r.byOwner[owner]
	if !ok {
		set = make(map[Handle]struct{})
		r.byOwner[owner] = set
	}
	set[h] = struct{}{}
	r.bytes += int64(len(data))
	r.acquired++
	count, bytes := len(r.live), r.bytes
	r.mu.Unlock()

	if r.observer != nil {
		r.observer.ObserveAcquire(len(data))
		r.observer.ObserveLive(count, bytes)
	}
	return h
}

// Lookup returns the blob behind a live handle.
func (r *Registry) Lookup(h Handle) (Blob, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.live[h]
	if !ok {
		return Blob{}, false
	}
	return *b, true
}

// Release revokes h. It reports whether this call was the effective release.
func (r *Registry) Release(h Handle) bool {
	r.mu.Lock()
	ok := r.releaseLocked(h)
	count, bytes := len(r.live), r.bytes
	r.mu.Unlock()

	if ok {
		r.report("explicit", 1, count, bytes)
	}
	return ok
}

// ReleaseOwner revokes every handle owned by owner and returns how many
// were live.
func (r *Registry) ReleaseOwner(owner string) int {
	r.mu.Lock()
	n := 0
	for h := range r.byOwner[owner] {
		if r.releaseLocked(h) {
			n++
		}
	}
	count, bytes := len(r.live), r.bytes
	r.mu.Unlock()

	r.report("owner", n, count, bytes)
	return n
}

// ReleaseAll revokes every outstanding handle. Used at session teardown.
func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	n := 0
	for h := range r.live {
		if r.releaseLocked(h) {
			n++
		}
	}
	count, bytes := len(r.live), r.bytes
	r.mu.Unlock()

	if n > 0 {
		r.log.Debug("Released %d outstanding handles", n)
	}
	r.report("teardown", n, count, bytes)
	return n
}

// Sweep revokes handles whose owner is no longer live according to isLive.
// Handles of live owners are never touched. isLive is called without the
// registry lock held, so it may take locks of its own.
func (r *Registry) Sweep(isLive func(owner string) bool) int {
	r.mu.Lock()
	owners := make([]string, 0, len(r.byOwner))
	for owner := range r.byOwner {
		owners = append(owners, owner)
	}
	r.mu.Unlock()

	var stale []string
	for _, owner := range owners {
		if !isLive(owner) {
			stale = append(stale, owner)
		}
	}

	r.mu.Lock()
	n := 0
	for _, owner := range stale {
		for h := range r.byOwner[owner] {
			if r.releaseLocked(h) {
				n++
			}
		}
	}
	count, bytes := len(r.live), r.bytes
	r.mu.Unlock()

	if n > 0 {
		r.log.Info("Sweep revoked %d orphaned handles", n)
	}
	r.report("sweep", n, count, bytes)
	return n
}

func (r *Registry) releaseLocked(h Handle) bool {
	b, ok := r.live[h]
	if !ok {
		return false
	}
	delete(r.live, h)
	if set := r.byOwner[b.Owner]; set != nil {
		delete(set, h)
		if len(set) == 0 {
			delete(r.byOwner, b.Owner)
		}
	}
	r.bytes -= int64(len(b.Data))
	r.released++
	return true
}

func (r *Registry) report(reason string, n, count int, bytes int64) {
	if r.observer == nil {
		return
	}
	if n > 0 {
		r.observer.ObserveRelease(reason, n)
	}
	r.observer.ObserveLive(count, bytes)
}

// Owned returns the live handles of owner, sorted.
func (r *Registry) Owned(owner string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.byOwner[owner]))
	for h := range r.byOwner[owner] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Live:     len(r.live),
		Bytes:    r.bytes,
		Acquired: r.acquired,
		Released: r.released,
	}
}

// StartSweeper runs Sweep every interval until Stop. Calling it while a
// sweeper is already running does nothing.
func (r *Registry) StartSweeper(interval time.Duration, isLive func(owner string) bool) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()
	if r.stopChan != nil {
		return
	}
	r.stopChan = make(chan struct{})
	r.done = make(chan struct{})
	go r.sweepLoop(interval, isLive, r.stopChan, r.done)
}

func (r *Registry) sweepLoop(interval time.Duration, isLive func(string) bool, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep(isLive)
		case <-stop:
			return
		}
	}
}

// Stop halts the background sweeper and waits for it to exit. It is safe to
// call more than once.
func (r *Registry) Stop() {
	r.sweepMu.Lock()
	stop, done := r.stopChan, r.done
	r.stopChan, r.done = nil, nil
	r.sweepMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
