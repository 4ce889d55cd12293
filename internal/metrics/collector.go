package metrics

import (
	"sync"
	"time"

	"cleanconvert/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// StatsFunc adapts a function to StatsProvider.
type StatsFunc func() Stats

// GetStats calls f.
func (f StatsFunc) GetStats() Stats {
	return f()
}

// Stats holds the current batch statistics
type Stats struct {
	Pending       int
	Processing    int
	Completed     int
	Failed        int
	OriginalBytes int64
	OutputBytes   int64
}

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
	stopOnce      sync.Once
	log           *logging.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration, log *logging.Logger) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
		log:           logging.OrDefault(log).With("metrics:"),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection. It is safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	BatchItems.WithLabelValues("pending").Set(float64(stats.Pending))
	BatchItems.WithLabelValues("processing").Set(float64(stats.Processing))
	BatchItems.WithLabelValues("completed").Set(float64(stats.Completed))
	BatchItems.WithLabelValues("error").Set(float64(stats.Failed))

	saved := stats.OriginalBytes - stats.OutputBytes
	if saved < 0 {
		saved = 0
	}
	BatchSavedBytes.Set(float64(saved))

	c.log.Debug("Metrics collected: pending=%d, processing=%d, completed=%d, failed=%d",
		stats.Pending, stats.Processing, stats.Completed, stats.Failed)
}
