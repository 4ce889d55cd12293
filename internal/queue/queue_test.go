package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cleanconvert/internal/convert"
	"cleanconvert/internal/errs"
	"cleanconvert/internal/logging"
	"cleanconvert/internal/memory"
	"cleanconvert/internal/retry"
)

// fakeConverter runs fn for every call and tracks how many calls overlap.
type fakeConverter struct {
	fn func(ctx context.Context, data []byte) (*convert.Result, error)

	mu        sync.Mutex
	inFlight  int
	maxFlight int
	calls     int
	order     []string
}

func (f *fakeConverter) Convert(ctx context.Context, data []byte, req convert.Request) (*convert.Result, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.order = append(f.order, string(data))
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.fn != nil {
		return f.fn(ctx, data)
	}
	return &convert.Result{Data: data, MediaType: req.Format}, nil
}

type outcome struct {
	id       string
	kind     string
	err      error
	progress []int
}

// collector gathers exactly one terminal callback per job.
type collector struct {
	t  *testing.T
	mu sync.Mutex
	wg sync.WaitGroup

	outcomes map[string]*outcome
	admitted []string
}

func newCollector(t *testing.T) *collector {
	return &collector{t: t, outcomes: make(map[string]*outcome)}
}

func (c *collector) job(id string, data []byte) Job {
	c.wg.Add(1)
	c.mu.Lock()
	c.outcomes[id] = &outcome{id: id}
	c.mu.Unlock()

	finish := func(kind string, err error) {
		c.mu.Lock()
		o := c.outcomes[id]
		if o.kind != "" {
			c.t.Errorf("job %s got second terminal callback %s after %s", id, kind, o.kind)
		}
		o.kind, o.err = kind, err
		c.mu.Unlock()
		c.wg.Done()
	}

	return Job{
		ID:    id,
		Input: data,
		Admit: func() (convert.Request, bool) {
			c.mu.Lock()
			c.admitted = append(c.admitted, id)
			c.mu.Unlock()
			return convert.DefaultRequest(), true
		},
		OnProgress: func(pct int) {
			c.mu.Lock()
			c.outcomes[id].progress = append(c.outcomes[id].progress, pct)
			c.mu.Unlock()
		},
		OnComplete: func(*convert.Result) { finish("completed", nil) },
		OnError:    func(err error) { finish("error", err) },
		OnDrop:     func() { finish("dropped", nil) },
	}
}

func (c *collector) wait() {
	c.t.Helper()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for jobs")
	}
}

func (c *collector) get(id string) outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.outcomes[id]
}

func testConfig(concurrency int) Config {
	return Config{
		Concurrency: concurrency,
		Timeout:     time.Second,
		Retry:       retry.Config{MaxRetries: 0},
		Logger:      logging.Discard(),
	}
}

func TestConcurrencyBound(t *testing.T) {
	conv := &fakeConverter{fn: func(_ context.Context, data []byte) (*convert.Result, error) {
		time.Sleep(10 * time.Millisecond)
		return &convert.Result{Data: data}, nil
	}}
	q := New(conv, testConfig(2))
	defer q.Close()

	c := newCollector(t)
	var maxActive int32
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			if a := int32(q.Active()); a > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, a)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 10; i++ {
		if !q.Submit(c.job(fmt.Sprintf("job-%d", i), []byte{byte(i)})) {
			t.Fatalf("Submit(job-%d) = false", i)
		}
	}
	c.wait()
	close(stop)

	if conv.maxFlight > 2 {
		t.Errorf("max conversions in flight = %d, want <= 2", conv.maxFlight)
	}
	if m := atomic.LoadInt32(&maxActive); m > 2 {
		t.Errorf("max Active() sampled = %d, want <= 2", m)
	}
	if q.Limit() != 2 {
		t.Errorf("Limit() = %d, want 2", q.Limit())
	}
	for i := 0; i < 10; i++ {
		o := c.get(fmt.Sprintf("job-%d", i))
		if o.kind != "completed" {
			t.Errorf("job-%d = %s, want completed", i, o.kind)
		}
		if len(o.progress) != 2 || o.progress[0] != ProgressAdmitted || o.progress[1] != ProgressEncoded {
			t.Errorf("job-%d progress = %v", i, o.progress)
		}
	}
}

func TestFIFOAdmission(t *testing.T) {
	release := make(chan struct{})
	conv := &fakeConverter{fn: func(_ context.Context, data []byte) (*convert.Result, error) {
		if string(data) == "a" {
			<-release
		}
		return &convert.Result{Data: data}, nil
	}}
	q := New(conv, testConfig(1))
	defer q.Close()

	c := newCollector(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		q.Submit(c.job(id, []byte(id)))
	}
	close(release)
	c.wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	want := []string{"a", "b", "c", "d"}
	for i, id := range want {
		if c.admitted[i] != id {
			t.Fatalf("admission order = %v, want %v", c.admitted, want)
		}
	}
}

func TestFailureIsolation(t *testing.T) {
	conv := &fakeConverter{fn: func(_ context.Context, data []byte) (*convert.Result, error) {
		if string(data) == "corrupt" {
			return nil, errs.Newf(errs.DecodeFailed, "decode", "bad header")
		}
		return &convert.Result{Data: data}, nil
	}}
	q := New(conv, testConfig(2))
	defer q.Close()

	c := newCollector(t)
	ids := []string{"ok-1", "corrupt", "ok-2", "ok-3"}
	for _, id := range ids {
		data := []byte(id)
		if id != "corrupt" {
			data = []byte("fine")
		}
		q.Submit(c.job(id, data))
	}
	c.wait()

	for _, id := range ids {
		o := c.get(id)
		want := "completed"
		if id == "corrupt" {
			want = "error"
		}
		if o.kind != want {
			t.Errorf("%s = %s, want %s", id, o.kind, want)
		}
	}
	if got := errs.CodeOf(c.get("corrupt").err); got != errs.DecodeFailed {
		t.Errorf("corrupt error code = %s, want DecodeFailed", got)
	}
}

func TestTimeoutAbandonsAttempt(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	conv := &fakeConverter{fn: func(context.Context, []byte) (*convert.Result, error) {
		<-block // ignores ctx on purpose
		return &convert.Result{}, nil
	}}
	cfg := testConfig(1)
	cfg.Timeout = 20 * time.Millisecond
	q := New(conv, cfg)
	defer q.Close()

	c := newCollector(t)
	q.Submit(c.job("slow", []byte("x")))
	c.wait()

	o := c.get("slow")
	if o.kind != "error" {
		t.Fatalf("slow = %s, want error", o.kind)
	}
	if errs.CodeOf(o.err) != errs.Timeout {
		t.Errorf("error code = %s, want Timeout", errs.CodeOf(o.err))
	}
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
		wantKind  string
	}{
		{"transient retried", errs.New(errs.Transient, "encode", errors.New("busy")), 2, "completed"},
		{"decode failure not retried", errs.New(errs.DecodeFailed, "decode", nil), 1, "error"},
		{"encode failure not retried", errs.New(errs.EncodeFailed, "encode", nil), 1, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			conv := &fakeConverter{fn: func(context.Context, []byte) (*convert.Result, error) {
				if atomic.AddInt32(&calls, 1) == 1 {
					return nil, tt.err
				}
				return &convert.Result{}, nil
			}}
			cfg := testConfig(1)
			cfg.Retry = retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}
			q := New(conv, cfg)
			defer q.Close()

			c := newCollector(t)
			q.Submit(c.job("job", []byte("x")))
			c.wait()

			if got := int(atomic.LoadInt32(&calls)); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if o := c.get("job"); o.kind != tt.wantKind {
				t.Errorf("outcome = %s, want %s", o.kind, tt.wantKind)
			}
		})
	}
}

func TestCancelAndClear(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	conv := &fakeConverter{fn: func(_ context.Context, data []byte) (*convert.Result, error) {
		if string(data) == "first" {
			started <- struct{}{}
			<-release
		}
		return &convert.Result{}, nil
	}}
	q := New(conv, testConfig(1))
	defer q.Close()

	c := newCollector(t)
	q.Submit(c.job("first", []byte("first")))
	<-started

	for _, id := range []string{"second", "third", "fourth"} {
		q.Submit(c.job(id, []byte(id)))
	}
	if q.Pending() != 3 {
		t.Fatalf("Pending() = %d, want 3", q.Pending())
	}

	if !q.Cancel("second") {
		t.Error("Cancel(second) = false")
	}
	if q.Cancel("second") {
		t.Error("second Cancel(second) = true")
	}
	if q.Cancel("first") {
		t.Error("Cancel of an admitted job should fail")
	}
	if n := q.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}

	close(release)
	c.wait()

	if o := c.get("first"); o.kind != "completed" {
		t.Errorf("first = %s, want completed", o.kind)
	}
	for _, id := range []string{"second", "third", "fourth"} {
		if o := c.get(id); o.kind != "dropped" {
			t.Errorf("%s = %s, want dropped", id, o.kind)
		}
	}
	if conv.calls != 1 {
		t.Errorf("converter calls = %d, want 1", conv.calls)
	}
}

func TestAdmitCanDrop(t *testing.T) {
	q := New(&fakeConverter{}, testConfig(1))
	defer q.Close()

	c := newCollector(t)
	job := c.job("stale", []byte("x"))
	job.Admit = func() (convert.Request, bool) { return convert.Request{}, false }
	q.Submit(job)
	c.wait()

	if o := c.get("stale"); o.kind != "dropped" {
		t.Errorf("outcome = %s, want dropped", o.kind)
	}
}

func TestSubmitRejectsDuplicatesAndClosed(t *testing.T) {
	release := make(chan struct{})
	conv := &fakeConverter{fn: func(context.Context, []byte) (*convert.Result, error) {
		<-release
		return &convert.Result{}, nil
	}}
	q := New(conv, testConfig(1))

	c := newCollector(t)
	q.Submit(c.job("running", []byte("x")))
	q.Submit(c.job("queued", []byte("y")))
	if q.Submit(Job{ID: "queued"}) {
		t.Error("duplicate pending ID accepted")
	}

	close(release)
	q.Close()
	c.wait()

	if q.Submit(Job{ID: "late"}) {
		t.Error("Submit after Close = true")
	}
}

func TestHighMemoryNarrowsAdmission(t *testing.T) {
	memCfg := memory.DefaultConfig()
	memCfg.MemoryLimitBytes = 1 << 40
	// any live heap is "high"; nothing is ever critical
	memCfg.HighWaterMark = 1e-12
	memCfg.CriticalWaterMark = 1e6
	memCfg.CheckInterval = 5 * time.Millisecond
	memCfg.Logger = logging.Discard()
	mon := memory.NewMonitor(memCfg)
	mon.Start()
	defer mon.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for !mon.ShouldThrottle() {
		if time.Now().After(deadline) {
			t.Fatal("monitor never reported high usage")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conv := &fakeConverter{fn: func(_ context.Context, data []byte) (*convert.Result, error) {
		time.Sleep(20 * time.Millisecond)
		return &convert.Result{Data: data}, nil
	}}
	cfg := testConfig(3)
	cfg.Memory = mon
	q := New(conv, cfg)
	defer q.Close()

	c := newCollector(t)
	for i := 0; i < 4; i++ {
		if !q.Submit(c.job(fmt.Sprintf("job-%d", i), []byte{byte(i)})) {
			t.Fatalf("Submit(job-%d) = false", i)
		}
	}
	c.wait()

	if conv.maxFlight != 1 {
		t.Errorf("max conversions in flight = %d, want 1 while throttled", conv.maxFlight)
	}
	for i := 0; i < 4; i++ {
		if o := c.get(fmt.Sprintf("job-%d", i)); o.kind != "completed" {
			t.Errorf("job-%d = %s, want completed", i, o.kind)
		}
	}
}
