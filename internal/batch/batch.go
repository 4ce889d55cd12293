package batch

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"cleanconvert/internal/archive"
	"cleanconvert/internal/convert"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/formats"
	"cleanconvert/internal/history"
	"cleanconvert/internal/lifecycle"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/mediatypes"
	"cleanconvert/internal/queue"
	"cleanconvert/internal/validate"
)

// DefaultMaxItems is the batch size ceiling.
const DefaultMaxItems = 50

// Scheduler runs conversion jobs. *queue.Queue implements it.
type Scheduler interface {
	Submit(job queue.Job) bool
	Cancel(id string) bool
	Active() int
	Limit() int
}

// Engine probes dimensions for the integrity check and reports which output
// formats are available. *convert.Engine implements it.
type Engine interface {
	validate.DimensionProber
	Capabilities() formats.Capabilities
}

// Recorder stores conversion attempts. *history.Store implements it.
type Recorder interface {
	Record(ctx context.Context, a history.Attempt) error
}

// Deps are the collaborators of a Batch. Recorder and Logger are optional.
type Deps struct {
	Queue     Scheduler
	Engine    Engine
	Registry  *lifecycle.Registry
	Validator *validate.Validator
	Unpacker  archive.Unpacker
	Packer    archive.Packer
	Recorder  Recorder
	Logger    *logging.Logger
}

// Config configures a Batch.
type Config struct {
	ID              string
	MaxItems        int
	VerifyIntegrity bool
	DefaultRequest  convert.Request
	// SweepInterval starts the registry sweeper when positive.
	SweepInterval time.Duration
	// OnTransition observes every item change inside the batch's critical
	// section, so calls arrive in a total order. prev is the zero Item for
	// additions and next is the zero Item for removals. It must not call
	// back into the Batch.
	OnTransition func(prev, next Item)
}

// Batch is the ordered collection of items in one session.
type Batch struct {
	id   string
	deps Deps
	cfg  Config
	log  *logging.Logger

	mu     sync.Mutex
	order  []string
	items  map[string]Item
	queued map[string]int // item id -> attempt submitted to the queue
	closed bool
}

// New creates an empty batch.
func New(deps Deps, cfg Config) *Batch {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()[:8]
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.DefaultRequest.Format == "" {
		cfg.DefaultRequest = convert.DefaultRequest()
	}
	if deps.Registry == nil {
		deps.Registry = lifecycle.NewRegistry(lifecycle.Options{Logger: deps.Logger})
	}
	if deps.Validator == nil {
		deps.Validator = validate.New(validate.DefaultConfig())
	}

	b := &Batch{
		id:     cfg.ID,
		deps:   deps,
		cfg:    cfg,
		log:    logging.OrDefault(deps.Logger).With("batch:"),
		items:  make(map[string]Item),
		queued: make(map[string]int),
	}
	if cfg.SweepInterval > 0 {
		deps.Registry.StartSweeper(cfg.SweepInterval, b.IsLive)
	}
	return b
}

// ID returns the batch identifier used in archive names.
func (b *Batch) ID() string {
	return b.id
}

// Settings returns the request new and reset items receive.
func (b *Batch) Settings() convert.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.DefaultRequest
}

// update applies fn to the item under the batch lock. fn returns the
// replacement and whether to store it. update reports whether a change was
// stored.
func (b *Batch) update(id string, fn func(Item) (Item, bool)) (Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updateLocked(id, fn)
}

func (b *Batch) updateLocked(id string, fn func(Item) (Item, bool)) (Item, bool) {
	prev, ok := b.items[id]
	if !ok {
		return Item{}, false
	}
	next, changed := fn(prev)
	if !changed {
		return prev, false
	}
	b.items[id] = next
	b.transition(prev, next)
	return next, true
}

func (b *Batch) transition(prev, next Item) {
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(prev, next)
	}
}

// AddFiles validates files and appends the accepted ones as pending items.
// Bundles are unpacked first; an unreadable bundle is reported as a
// rejection and does not affect the other files.
func (b *Batch) AddFiles(ctx context.Context, files []InputFile) AddReport {
	var report AddReport

	type candidate struct {
		file   InputFile
		source string
	}
	var candidates []candidate

	for _, f := range files {
		if !mediatypes.IsArchive(f.Name, f.MediaType) {
			candidates = append(candidates, candidate{file: f})
			continue
		}
		if b.deps.Unpacker == nil {
			report.Rejected = append(report.Rejected, reject(f.Name, "", errs.Newf(errs.InvalidType, "add", "bundles are not accepted")))
			continue
		}
		entries, err := b.deps.Unpacker.Unpack(ctx, f.Name, f.Data)
		if err != nil {
			b.log.Warn("Could not unpack %s: %v", f.Name, err)
			report.Rejected = append(report.Rejected, reject(f.Name, "", err))
			continue
		}
		b.log.Debug("Unpacked %d image entries from %s", len(entries), f.Name)
		for _, e := range entries {
			candidates = append(candidates, candidate{file: e, source: f.Name})
		}
	}

	for _, c := range candidates {
		f := c.file
		f.MediaType = mediatypes.Normalize(f.MediaType)

		if res := b.deps.Validator.Validate(f); !res.Valid {
			report.Rejected = append(report.Rejected, Rejection{Name: f.Name, Source: c.source, Code: res.Code, Reason: res.Reason})
			continue
		}
		if b.cfg.VerifyIntegrity && b.deps.Engine != nil {
			if res := b.deps.Validator.CheckIntegrity(ctx, f, b.deps.Engine); !res.Valid {
				report.Rejected = append(report.Rejected, Rejection{Name: f.Name, Source: c.source, Code: res.Code, Reason: res.Reason})
				continue
			}
		}

		item, err := b.insert(f, c.source)
		if err != nil {
			report.Rejected = append(report.Rejected, reject(f.Name, c.source, err))
			continue
		}
		report.Added = append(report.Added, item)
	}

	if len(report.Rejected) > 0 {
		b.log.Info("Added %d files, rejected %d", len(report.Added), len(report.Rejected))
	}
	return report
}

func reject(name, source string, err error) Rejection {
	return Rejection{Name: name, Source: source, Code: errs.CodeOf(err), Reason: errs.Reason(err)}
}

func (b *Batch) insert(f InputFile, source string) (Item, error) {
	sum := blake2b.Sum256(f.Data)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Item{}, errs.Newf(errs.Canceled, "add", "session closed")
	}
	if len(b.items) >= b.cfg.MaxItems {
		return Item{}, errs.Newf(errs.BatchFull, "add", "limit is %d files", b.cfg.MaxItems)
	}

	item := Item{
		ID:        uuid.NewString(),
		Name:      f.Name,
		MediaType: f.MediaType,
		Size:      f.Size,
		Digest:    hex.EncodeToString(sum[:16]),
		Source:    source,
		Request:   b.cfg.DefaultRequest,
		Status:    StatusPending,
		AddedAt:   time.Now(),
		data:      f.Data,
	}
	item.Original = b.deps.Registry.Acquire(item.ID, f.Data, f.MediaType)

	b.items[item.ID] = item
	b.order = append(b.order, item.ID)
	b.transition(Item{}, item)
	return item, nil
}

// RemoveItem drops an item, cancels its queued job and releases its handles.
// A conversion already in flight finishes and its result is discarded.
func (b *Batch) RemoveItem(id string) error {
	b.mu.Lock()
	prev, ok := b.items[id]
	if !ok {
		b.mu.Unlock()
		return errs.Newf(errs.NotFound, "remove", "item %s", id)
	}
	b.removeLocked(id)
	b.transition(prev, Item{})
	b.mu.Unlock()

	b.deps.Queue.Cancel(id)
	b.deps.Registry.ReleaseOwner(id)
	return nil
}

func (b *Batch) removeLocked(id string) {
	delete(b.items, id)
	delete(b.queued, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Clear removes every item and returns how many were removed.
func (b *Batch) Clear() int {
	b.mu.Lock()
	ids := append([]string(nil), b.order...)
	for _, id := range ids {
		prev := b.items[id]
		b.removeLocked(id)
		b.transition(prev, Item{})
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.deps.Queue.Cancel(id)
		b.deps.Registry.ReleaseOwner(id)
	}
	if len(ids) > 0 {
		b.log.Info("Cleared %d items", len(ids))
	}
	return len(ids)
}

// UpdateSettings validates req and applies it to every item that is not
// processing. Completed and failed items go back to pending and their
// previous result handle is released. Items added later use req too.
func (b *Batch) UpdateSettings(req convert.Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.cfg.DefaultRequest = req
	reset := 0
	for _, id := range b.order {
		b.updateLocked(id, func(it Item) (Item, bool) {
			switch it.Status {
			case StatusPending:
				it.Request = req
				return it, true
			case StatusCompleted, StatusError:
				if it.Result != nil {
					b.deps.Registry.Release(it.Result.Handle)
				}
				it.Request = req
				it.Status = StatusPending
				it.Progress = 0
				it.Attempt++
				it.Result = nil
				it.Err = nil
				reset++
				return it, true
			}
			return it, false
		})
	}
	b.log.Info("Settings changed to %s, %d items reset", req, reset)
	return nil
}

// ProcessAll submits every pending item that is not already queued and
// waits until each of them completes, fails or is dropped. Cancelling ctx
// stops waiting and cancels the jobs of this pass that have not started.
func (b *Batch) ProcessAll(ctx context.Context) (Summary, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Summary{}, errs.Newf(errs.Canceled, "process", "session closed")
	}
	var pass []Item
	for _, id := range b.order {
		it := b.items[id]
		if it.Status != StatusPending {
			continue
		}
		if _, queued := b.queued[id]; queued {
			continue
		}
		b.queued[id] = it.Attempt
		pass = append(pass, it)
	}
	b.mu.Unlock()

	outcomes := make(chan Outcome, len(pass))
	waiting := make(map[string]Item, len(pass))
	for _, it := range pass {
		if b.deps.Queue.Submit(b.job(it, outcomes)) {
			waiting[it.ID] = it
			continue
		}
		b.mu.Lock()
		if b.queued[it.ID] == it.Attempt {
			delete(b.queued, it.ID)
		}
		b.mu.Unlock()
		outcomes <- Outcome{ItemID: it.ID, Name: it.Name, Outcome: OutcomeDropped, Code: errs.Canceled, Reason: errs.Message(errs.Canceled)}
		waiting[it.ID] = it
	}
	if len(pass) > 0 {
		b.log.Debug("Processing %d items", len(pass))
	}

	received := make(map[string]Outcome, len(pass))
	for len(received) < len(waiting) {
		select {
		case o := <-outcomes:
			received[o.ItemID] = o
		case <-ctx.Done():
			for id := range waiting {
				if _, done := received[id]; !done {
					b.deps.Queue.Cancel(id)
				}
			}
			return summarize(pass, received), ctx.Err()
		}
	}
	return summarize(pass, received), nil
}

func summarize(pass []Item, received map[string]Outcome) Summary {
	var s Summary
	for _, it := range pass {
		o, ok := received[it.ID]
		if !ok {
			continue
		}
		switch o.Outcome {
		case OutcomeCompleted:
			s.Succeeded++
			if o.UsedFallback {
				s.Fallbacks++
			}
		case OutcomeFailed:
			s.Failed++
		default:
			s.Dropped++
		}
		s.Outcomes = append(s.Outcomes, o)
	}
	return s
}

// job builds the queue job for one attempt of an item. Every callback checks
// that the item still exists at the same attempt; anything else is a stale
// result and is discarded.
func (b *Batch) job(it Item, outcomes chan<- Outcome) queue.Job {
	id, attempt := it.ID, it.Attempt
	current := func(cur Item) bool { return cur.Attempt == attempt }

	finish := func() {
		if b.queued[id] == attempt {
			delete(b.queued, id)
		}
	}
	dropped := func() {
		outcomes <- Outcome{ItemID: id, Name: it.Name, Outcome: OutcomeDropped, Code: errs.Canceled, Reason: errs.Message(errs.Canceled)}
	}

	return queue.Job{
		ID:    id,
		Input: it.data,
		Admit: func() (convert.Request, bool) {
			var req convert.Request
			_, ok := b.update(id, func(cur Item) (Item, bool) {
				if !current(cur) || cur.Status != StatusPending {
					return cur, false
				}
				req = cur.Request
				cur.Status = StatusProcessing
				cur.Progress = 0
				return cur, true
			})
			return req, ok
		},
		OnProgress: func(pct int) {
			b.update(id, func(cur Item) (Item, bool) {
				if !current(cur) || cur.Status != StatusProcessing || pct <= cur.Progress {
					return cur, false
				}
				cur.Progress = pct
				return cur, true
			})
		},
		OnComplete: func(res *convert.Result) {
			b.mu.Lock()
			next, ok := b.updateLocked(id, func(cur Item) (Item, bool) {
				if !current(cur) || cur.Status != StatusProcessing {
					return cur, false
				}
				cur.Status = StatusCompleted
				cur.Progress = queue.ProgressDone
				cur.Result = b.itemResult(cur, res)
				return cur, true
			})
			finish()
			b.mu.Unlock()

			if !ok {
				b.log.Debug("Discarding stale result for %s", id)
				dropped()
				return
			}
			b.record(next, res, nil)
			outcomes <- Outcome{ItemID: id, Name: next.Name, Outcome: OutcomeCompleted, UsedFallback: res.UsedFallback}
		},
		OnError: func(err error) {
			b.mu.Lock()
			next, ok := b.updateLocked(id, func(cur Item) (Item, bool) {
				if !current(cur) || cur.Status != StatusProcessing {
					return cur, false
				}
				cur.Status = StatusError
				cur.Err = newItemError(err)
				return cur, true
			})
			finish()
			b.mu.Unlock()

			if !ok {
				dropped()
				return
			}
			b.log.Warn("Conversion of %s failed: %v", next.Name, err)
			b.record(next, nil, err)
			outcomes <- Outcome{ItemID: id, Name: next.Name, Outcome: OutcomeFailed, Code: next.Err.Code, Reason: next.Err.Reason}
		},
		OnDrop: func() {
			b.mu.Lock()
			finish()
			b.mu.Unlock()
			dropped()
		},
	}
}

// itemResult registers the converted bytes under the item and describes
// them. Called with b.mu held.
func (b *Batch) itemResult(it Item, res *convert.Result) *ItemResult {
	return &ItemResult{
		Handle:         b.deps.Registry.Acquire(it.ID, res.Data, res.MediaType),
		FileName:       outputName(it.Name, res.MediaType),
		MediaType:      res.MediaType,
		RequestedType:  res.RequestedType,
		UsedFallback:   res.UsedFallback,
		Width:          res.Width,
		Height:         res.Height,
		Size:           res.Size,
		SourceWidth:    res.SourceWidth,
		SourceHeight:   res.SourceHeight,
		SavingsPercent: res.SavingsPercent(),
		Metadata:       res.Metadata,
		Duration:       res.Duration,
	}
}

func (b *Batch) record(it Item, res *convert.Result, err error) {
	if b.deps.Recorder == nil {
		return
	}
	a := history.Attempt{
		BatchID:    b.id,
		ItemID:     it.ID,
		FileName:   it.Name,
		Digest:     it.Digest,
		SourceType: it.MediaType,
		Quality:    it.Request.Quality,
		InputBytes: it.Size,
	}
	if mt, rerr := it.Request.Resolve(); rerr == nil {
		a.RequestedType = mt
	} else {
		a.RequestedType = it.Request.Format
	}
	if err != nil {
		a.Status = history.StatusError
		a.ErrorCode = string(errs.CodeOf(err))
	} else {
		a.Status = history.StatusCompleted
		a.SourceType = res.SourceType
		a.ResolvedType = res.MediaType
		a.UsedFallback = res.UsedFallback
		a.OutputBytes = res.Size
		a.Width = res.Width
		a.Height = res.Height
		a.Duration = res.Duration
	}
	if rerr := b.deps.Recorder.Record(context.Background(), a); rerr != nil {
		b.log.Warn("Failed to record attempt for %s: %v", it.Name, rerr)
	}
}

// Items returns a snapshot of all items in insertion order.
func (b *Batch) Items() []Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Item, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.items[id])
	}
	return out
}

// Item returns one item.
func (b *Batch) Item(id string) (Item, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	it, ok := b.items[id]
	return it, ok
}

// IsLive reports whether owner is an item of this batch. The registry
// sweeper uses it to find orphaned handles.
func (b *Batch) IsLive(owner string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.items[owner]
	return ok
}

// Stats aggregates the current items.
func (b *Batch) Stats() Stats {
	b.mu.Lock()
	s := Stats{BatchID: b.id, Total: len(b.items), MaxItems: b.cfg.MaxItems}
	for _, it := range b.items {
		switch it.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
			s.OriginalBytes += it.Size
			s.OutputBytes += it.Result.Size
			if it.Result.UsedFallback {
				s.Fallbacks++
			}
		case StatusError:
			s.Failed++
		}
	}
	b.mu.Unlock()

	if s.OriginalBytes > 0 {
		s.SavingsPercent = float64(s.OriginalBytes-s.OutputBytes) / float64(s.OriginalBytes) * 100
	}
	s.Active = b.deps.Queue.Active()
	s.Limit = b.deps.Queue.Limit()
	return s
}

// Close tears the session down: every item is removed, every outstanding
// handle released and the sweeper stopped. Later calls do nothing.
func (b *Batch) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.Clear()
	b.deps.Registry.Stop()
	if n := b.deps.Registry.ReleaseAll(); n > 0 {
		b.log.Debug("Released %d handles at teardown", n)
	}
}
