package queue

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"cleanconvert/internal/convert"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/memory"
	"cleanconvert/internal/retry"
)

const (
	// DefaultConcurrency is the number of conversions allowed in flight.
	DefaultConcurrency = 3
	// DefaultTimeout bounds a single conversion attempt.
	DefaultTimeout = 30 * time.Second

	// throttlePoll is how often a throttled worker rechecks memory.
	throttlePoll = 50 * time.Millisecond
)

// Progress checkpoints reported through Job.OnProgress.
const (
	ProgressAdmitted = 10
	ProgressEncoded  = 90
	ProgressDone     = 100
)

// Job outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimeout   = "timeout"
	OutcomeDropped   = "dropped"
)

// Converter performs one conversion attempt.
type Converter interface {
	Convert(ctx context.Context, data []byte, req convert.Request) (*convert.Result, error)
}

// Observer records queue metrics. The metrics package provides the
// implementation.
type Observer interface {
	ObserveQueueDepth(active, pending int)
	ObserveJob(outcome string, waitSeconds, runSeconds float64)
}

// Job is one unit of work. Exactly one of OnComplete, OnError or OnDrop is
// called for every submitted job.
type Job struct {
	ID    string
	Input []byte

	// Admit is called when a worker takes the job and returns the request to
	// run with. Returning false drops the job without converting.
	Admit func() (convert.Request, bool)

	OnProgress func(pct int)
	OnComplete func(*convert.Result)
	OnError    func(error)
	OnDrop     func()
}

func (j *Job) progress(pct int) {
	if j.OnProgress != nil {
		j.OnProgress(pct)
	}
}

func (j *Job) drop() {
	if j.OnDrop != nil {
		j.OnDrop()
	}
}

// Config configures a Queue.
type Config struct {
	Concurrency int
	Timeout     time.Duration
	Retry       retry.Config
	Memory      *memory.Monitor
	Logger      *logging.Logger
	Observer    Observer
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: DefaultConcurrency,
		Timeout:     DefaultTimeout,
		Retry:       retry.DefaultConfig(),
	}
}

type entry struct {
	job    Job
	queued time.Time
}

// Queue admits jobs in FIFO order to a fixed pool of workers. The pool size
// is the concurrency ceiling, so no more than Concurrency conversions are
// ever in flight.
type Queue struct {
	conv Converter
	cfg  Config
	log  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	cond    *sync.Cond
	pending []entry
	active  int
	closed  bool
}

// New starts a queue with cfg.Concurrency workers.
func New(conv Converter, cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		conv:   conv,
		cfg:    cfg,
		log:    logging.OrDefault(cfg.Logger).With("queue:"),
		ctx:    ctx,
		cancel: cancel,
	}
	q.cond = sync.NewCond(&q.mu)

	for i := 0; i < cfg.Concurrency; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Debug("Started %d workers (timeout %v, retries %d)", cfg.Concurrency, cfg.Timeout, cfg.Retry.MaxRetries)
	return q
}

// Submit appends a job to the pending list. It returns false if the queue is
// closed or a job with the same ID is already pending.
func (q *Queue) Submit(job Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	for _, e := range q.pending {
		if e.job.ID == job.ID {
			q.mu.Unlock()
			return false
		}
	}
	q.pending = append(q.pending, entry{job: job, queued: time.Now()})
	active, pending := q.active, len(q.pending)
	q.cond.Signal()
	q.mu.Unlock()

	q.observeDepth(active, pending)
	return true
}

// Cancel removes a job that has not been admitted yet. Admitted jobs cannot
// be cancelled.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	var (
		dropped entry
		found   bool
	)
	for i, e := range q.pending {
		if e.job.ID == id {
			dropped, found = e, true
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	active, pending := q.active, len(q.pending)
	q.mu.Unlock()

	if !found {
		return false
	}
	q.finishDropped(dropped)
	q.observeDepth(active, pending)
	return true
}

// Clear drops every pending job and returns how many were dropped. Jobs
// already in flight run to completion.
func (q *Queue) Clear() int {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	active := q.active
	q.mu.Unlock()

	for _, e := range dropped {
		q.finishDropped(e)
	}
	q.observeDepth(active, 0)
	return len(dropped)
}

// Active returns the number of jobs in flight.
func (q *Queue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Pending returns the number of jobs waiting for a worker.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Limit returns the concurrency ceiling.
func (q *Queue) Limit() int {
	return q.cfg.Concurrency
}

// Close drops pending jobs, cancels in-flight attempts and waits for the
// workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	q.Clear()
	q.cancel()
	q.wg.Wait()
	q.log.Debug("Stopped")
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		e, ok := q.next()
		if !ok {
			return
		}
		q.run(e)
		runtime.Gosched()
	}
}

// next blocks until a job is pending and memory allows admission. Above
// the critical water mark nothing is admitted; above the high water mark
// admission narrows to one conversion in flight.
func (q *Queue) next() (entry, bool) {
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return entry{}, false
		}
		q.mu.Unlock()

		if !q.cfg.Memory.WaitIfPaused(q.ctx) {
			return entry{}, false
		}

		q.mu.Lock()
		if len(q.pending) == 0 {
			// cancelled while waiting on memory
			q.mu.Unlock()
			continue
		}
		if q.active > 0 && q.cfg.Memory.ShouldThrottle() {
			// above the high water mark only one conversion runs at a time
			q.mu.Unlock()
			if !q.sleep(throttlePoll) {
				return entry{}, false
			}
			continue
		}
		e := q.pending[0]
		q.pending = q.pending[1:]
		q.active++
		q.mu.Unlock()
		return e, true
	}
}

// sleep waits for d, returning false if the queue shuts down first.
func (q *Queue) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.ctx.Done():
		return false
	}
}

func (q *Queue) run(e entry) {
	job := e.job
	wait := time.Since(e.queued)

	defer func() {
		q.mu.Lock()
		q.active--
		active, pending := q.active, len(q.pending)
		q.mu.Unlock()
		q.observeDepth(active, pending)
	}()

	req := convert.DefaultRequest()
	if job.Admit != nil {
		var ok bool
		if req, ok = job.Admit(); !ok {
			job.drop()
			q.observeJob(OutcomeDropped, wait, 0)
			return
		}
	}
	q.observeDepth(q.Active(), q.Pending())
	job.progress(ProgressAdmitted)

	start := time.Now()
	var res *convert.Result
	err := retry.Do(q.ctx, q.cfg.Retry, "convert", errs.Retryable, func(ctx context.Context) error {
		r, err := q.attempt(ctx, job.Input, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	elapsed := time.Since(start)

	if err != nil {
		outcome := OutcomeFailed
		if errs.CodeOf(err) == errs.Timeout {
			outcome = OutcomeTimeout
		}
		q.log.Debug("Job %s failed after %v: %v", job.ID, elapsed, err)
		if job.OnError != nil {
			job.OnError(err)
		}
		q.observeJob(outcome, wait, elapsed)
		return
	}

	job.progress(ProgressEncoded)
	if job.OnComplete != nil {
		job.OnComplete(res)
	}
	q.observeJob(OutcomeCompleted, wait, elapsed)
}

// attempt runs one conversion under the per-attempt timeout. On expiry the
// conversion goroutine is abandoned and its late result discarded.
func (q *Queue) attempt(parent context.Context, data []byte, req convert.Request) (*convert.Result, error) {
	ctx, cancel := context.WithTimeout(parent, q.cfg.Timeout)
	defer cancel()

	type outcome struct {
		res *convert.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := q.conv.Convert(ctx, data, req)
		ch <- outcome{res, err}
	}()

	select {
	case o := <-ch:
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errs.New(errs.Timeout, "convert", ctx.Err())
		}
		return nil, errs.New(errs.Canceled, "convert", ctx.Err())
	}
}

func (q *Queue) finishDropped(e entry) {
	e.job.drop()
	q.observeJob(OutcomeDropped, time.Since(e.queued), 0)
}

func (q *Queue) observeDepth(active, pending int) {
	if q.cfg.Observer != nil {
		q.cfg.Observer.ObserveQueueDepth(active, pending)
	}
}

func (q *Queue) observeJob(outcome string, wait, run time.Duration) {
	if q.cfg.Observer != nil {
		q.cfg.Observer.ObserveJob(outcome, wait.Seconds(), run.Seconds())
	}
}
