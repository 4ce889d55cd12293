// Package memory keeps conversions inside the process memory budget.
//
// ConfigureFromEnv derives GOMEMLIMIT from a container limit (MEMORY_LIMIT
// and MEMORY_RATIO) when GOMEMLIMIT itself is not set. Monitor samples the
// heap on an interval and pauses admission of new conversions while usage
// sits above the critical water mark:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	if !monitor.WaitIfPaused(ctx) {
//	    return // cancelled or shutting down
//	}
//
// A nil *Monitor is valid and never blocks.
package memory
