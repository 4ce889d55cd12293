package memory

import (
	"context"
	"math"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"cleanconvert/internal/logging"
)

// Observer records memory pressure. The metrics package provides the
// implementation.
type Observer interface {
	ObserveMemoryUsage(ratio float64)
	ObserveMemoryPaused(paused bool)
}

// Config holds memory management configuration
type Config struct {
	// MemoryLimitBytes is the soft memory limit (0 = use GOMEMLIMIT or no limit)
	MemoryLimitBytes int64

	// HighWaterMark is the fraction of the limit at which conversions are throttled
	HighWaterMark float64

	// CriticalWaterMark is the fraction at which new conversions stop being admitted
	CriticalWaterMark float64

	// CheckInterval is how often to sample the heap
	CheckInterval time.Duration

	Logger   *logging.Logger
	Observer Observer
}

// DefaultConfig returns the defaults used by the conversion queue
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     5 * time.Second,
	}
}

// Monitor samples heap usage and pauses admission of new conversions while
// usage is above the critical water mark. Decoded rasters dominate memory, so
// gating admission is enough to keep the process under its limit.
type Monitor struct {
	config   Config
	log      *logging.Logger
	limit    int64
	stopOnce sync.Once
	stopChan chan struct{}

	mu        sync.RWMutex
	current   uint64
	isPaused  bool
	pauseChan chan struct{}
}

// NewMonitor creates a new memory monitor
func NewMonitor(config Config) *Monitor {
	log := logging.OrDefault(config.Logger).With("memory:")
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}

	limit := config.MemoryLimitBytes
	if limit == 0 {
		if goMemLimit := debug.SetMemoryLimit(-1); goMemLimit > 0 && goMemLimit < 1<<62 {
			limit = goMemLimit
			log.Info("Monitor using GOMEMLIMIT: %s", formatBytes(limit))
		}
	}
	if limit == 0 {
		log.Debug("No memory limit configured, backpressure disabled")
	}

	return &Monitor{
		config:    config,
		log:       log,
		limit:     limit,
		stopChan:  make(chan struct{}),
		pauseChan: make(chan struct{}),
	}
}

// Enabled reports whether a limit is known and backpressure is active.
func (m *Monitor) Enabled() bool {
	return m != nil && m.limit > 0
}

// Start begins sampling
func (m *Monitor) Start() {
	if m.limit == 0 {
		return
	}
	go m.monitorLoop()
}

// Stop stops the monitor and releases anyone blocked in WaitIfPaused.
// It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) monitorLoop() {
	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkMemory()
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) checkMemory() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.record(stats.Alloc)
}

// record applies one heap sample and flips the paused state across the
// water marks.
func (m *Monitor) record(alloc uint64) {
	m.mu.Lock()
	m.current = alloc
	wasPaused := m.isPaused
	usage := 0.0

	if m.limit > 0 {
		usage = float64(alloc) / float64(m.limit)
		switch {
		case usage >= m.config.CriticalWaterMark && !m.isPaused:
			m.isPaused = true
			go runtime.GC()
		case usage < m.config.HighWaterMark && m.isPaused:
			m.isPaused = false
			close(m.pauseChan)
			m.pauseChan = make(chan struct{})
		}
	}
	paused := m.isPaused
	m.mu.Unlock()

	if obs := m.config.Observer; obs != nil && m.limit > 0 {
		obs.ObserveMemoryUsage(usage)
		if paused != wasPaused {
			obs.ObserveMemoryPaused(paused)
		}
	}
	if paused != wasPaused {
		if paused {
			m.log.Warn("Memory critical (%.1f%% of limit), pausing conversions", usage*100)
		} else {
			m.log.Info("Memory recovered (%.1f%% of limit), resuming conversions", usage*100)
		}
	}
}

// WaitIfPaused blocks while memory usage is critical. It returns false if ctx
// is done or the monitor is stopped first. A nil Monitor never blocks.
func (m *Monitor) WaitIfPaused(ctx context.Context) bool {
	if m == nil {
		return true
	}
	m.mu.RLock()
	if !m.isPaused {
		m.mu.RUnlock()
		return true
	}
	pauseChan := m.pauseChan
	m.mu.RUnlock()

	select {
	case <-pauseChan:
		return true
	case <-m.stopChan:
		return false
	case <-ctx.Done():
		return false
	}
}

// ShouldThrottle reports whether usage is at or above the high water mark.
// The queue then admits one conversion at a time.
func (m *Monitor) ShouldThrottle() bool {
	if m == nil || m.limit == 0 {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.current) >= float64(m.limit)*m.config.HighWaterMark
}

// IsPaused returns true while admission is paused
func (m *Monitor) IsPaused() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isPaused
}

// Stats is a point-in-time view of the monitor.
type Stats struct {
	Current int64   `json:"currentBytes"`
	Limit   int64   `json:"limitBytes"`
	Usage   float64 `json:"usage"`
	Paused  bool    `json:"paused"`
}

// GetStats returns current memory statistics
func (m *Monitor) GetStats() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Limit: m.limit, Paused: m.isPaused}
	if m.current > math.MaxInt64 {
		s.Current = math.MaxInt64
	} else {
		s.Current = int64(m.current)
	}
	if m.limit > 0 {
		s.Usage = float64(m.current) / float64(m.limit)
	}
	return s
}
