// Package metrics provides Prometheus metrics for go-pbo-assistant.
//
// Metrics are grouped the way a dashboard reads them:
//   - Run overview: plan size, progress, active flag
//   - Per core: clock statistics and verification result
//   - Per method: state, elapsed time, result counters
//   - Stress processes: starts, exits, uptime
package metrics

import (
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/status"
)

// Clock stat label values for pbo_core_clock_mhz.
const (
	StatMax  = "max"
	StatMin  = "min"
	StatAvg  = "avg"
	StatMean = "mean"
	StatP50  = "p50"
	StatP05  = "p05"
)

// Collector manages all Prometheus metrics for a test run.
type Collector struct {
	registry *prometheus.Registry

	// --- Panel 1: Run Overview ---
	info           *prometheus.GaugeVec
	coresPlanned   prometheus.Gauge
	coresCompleted prometheus.Gauge
	runActive      prometheus.Gauge
	methodBudget   prometheus.Gauge
	runStarted     prometheus.Gauge

	// --- Panel 2: Per Core ---
	coreClock        *prometheus.GaugeVec
	coreClockSamples *prometheus.GaugeVec
	coreVerifyFailed *prometheus.GaugeVec
	coreOffset       *prometheus.GaugeVec

	// --- Panel 3: Per Method ---
	methodState   *prometheus.GaugeVec
	methodElapsed *prometheus.GaugeVec
	methodResults *prometheus.CounterVec

	// --- Panel 4: Stress Processes ---
	processStarts *prometheus.CounterVec
	processExits  *prometheus.CounterVec
	processUptime prometheus.Histogram

	// For summary generation
	mu        sync.Mutex
	startTime time.Time
	completed int
	starts    int64
	exitCodes map[int]int64
	uptimes   []time.Duration
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version   string
	ModelName string

	// RuntimeMetrics adds the Go runtime and process collectors.
	RuntimeMetrics bool
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.NewRegistry())
}

// NewCollectorWithRegistry creates a collector registered on registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry *prometheus.Registry) *Collector {
	c := &Collector{
		registry: registry,

		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbo_info",
				Help: "Information about the tester (value always 1)",
			},
			[]string{"version", "model"},
		),
		coresPlanned: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pbo_cores_planned",
			Help: "Physical cores in the current plan",
		}),
		coresCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pbo_cores_completed",
			Help: "Physical cores whose methods have all run or been skipped",
		}),
		runActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pbo_run_active",
			Help: "1 while a plan is executing",
		}),
		methodBudget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pbo_method_budget_seconds",
			Help: "Time given to each method on each core",
		}),
		runStarted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pbo_run_start_time_seconds",
			Help: "Unix time the current plan started",
		}),

		coreClock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbo_core_clock_mhz",
				Help: "Clock statistics of the pinned logical CPU while under test",
			},
			[]string{"core", "stat"},
		),
		coreClockSamples: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbo_core_clock_samples",
				Help: "Clock samples taken per core",
			},
			[]string{"core"},
		),
		coreVerifyFailed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbo_core_verification_failed",
				Help: "1 if a stress tool reported a computation error on the core",
			},
			[]string{"core"},
		),
		coreOffset: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbo_core_curve_offset",
				Help: "Curve Optimizer offset recorded for the core in the plan file",
			},
			[]string{"core"},
		),

		methodState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbo_method_state",
				Help: "Method state per core (0 idle, 1 testing, 2 success, 3 failed)",
			},
			[]string{"core", "method"},
		),
		methodElapsed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pbo_method_elapsed_seconds",
				Help: "Seconds the method has run on the core",
			},
			[]string{"core", "method"},
		),
		methodResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbo_method_results_total",
				Help: "Finished method runs by result",
			},
			[]string{"method", "result"},
		),

		processStarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbo_stress_process_starts_total",
				Help: "Stress tool processes started",
			},
			[]string{"method"},
		),
		processExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pbo_stress_process_exits_total",
				Help: "Stress tool process exits by category",
			},
			[]string{"category"},
		),
		processUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pbo_stress_process_uptime_seconds",
			Help:    "Stress tool process lifetime",
			Buckets: []float64{1, 5, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		startTime: time.Now(),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		// Panel 1: Run Overview
		c.info,
		c.coresPlanned,
		c.coresCompleted,
		c.runActive,
		c.methodBudget,
		c.runStarted,

		// Panel 2: Per Core
		c.coreClock,
		c.coreClockSamples,
		c.coreVerifyFailed,
		c.coreOffset,

		// Panel 3: Per Method
		c.methodState,
		c.methodElapsed,
		c.methodResults,

		// Panel 4: Stress Processes
		c.processStarts,
		c.processExits,
		c.processUptime,
	)

	if cfg.RuntimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.ModelName).Set(1)

	return c
}

// Registry returns the registry the collector is registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// Run Events
// =============================================================================

// SetPlan records the shape of a new plan and clears per-core series.
func (c *Collector) SetPlan(coreIDs []int, methods []process.Method, budget time.Duration) {
	c.coreClock.Reset()
	c.coreClockSamples.Reset()
	c.coreVerifyFailed.Reset()
	c.methodState.Reset()
	c.methodElapsed.Reset()

	c.coresPlanned.Set(float64(len(coreIDs)))
	c.coresCompleted.Set(0)
	c.methodBudget.Set(budget.Seconds())

	for _, id := range coreIDs {
		core := strconv.Itoa(id)
		for _, m := range methods {
			c.methodState.WithLabelValues(core, string(m)).Set(float64(status.Idle))
			c.methodElapsed.WithLabelValues(core, string(m)).Set(0)
		}
	}

	now := time.Now()
	c.runStarted.Set(float64(now.Unix()))

	c.mu.Lock()
	c.startTime = now
	c.completed = 0
	c.mu.Unlock()
}

// SetOffsets records the Curve Optimizer offsets from the plan file.
func (c *Collector) SetOffsets(offsets map[int]int) {
	c.coreOffset.Reset()
	for core, offset := range offsets {
		c.coreOffset.WithLabelValues(strconv.Itoa(core)).Set(float64(offset))
	}
}

// SetRunActive flags whether a plan is executing.
func (c *Collector) SetRunActive(active bool) {
	if active {
		c.runActive.Set(1)
		return
	}
	c.runActive.Set(0)
}

// RecordResult counts a finished method run. Cancelled runs report Idle
// and are counted as "cancelled".
func (c *Collector) RecordResult(m process.Method, state status.MethodRunState) {
	result := "cancelled"
	switch state {
	case status.Success:
		result = "success"
	case status.Failed:
		result = "failed"
	}
	c.methodResults.WithLabelValues(string(m), result).Inc()
}

// CoreCompleted counts a core whose methods have all run or been skipped.
func (c *Collector) CoreCompleted() {
	c.mu.Lock()
	c.completed++
	n := c.completed
	c.mu.Unlock()
	c.coresCompleted.Set(float64(n))
}

// ProcessStarted records a stress tool start.
func (c *Collector) ProcessStarted(m process.Method) {
	c.processStarts.WithLabelValues(string(m)).Inc()

	c.mu.Lock()
	c.starts++
	c.mu.Unlock()
}

// RecordExit records a stress tool exit.
func (c *Collector) RecordExit(exitCode int, uptime time.Duration) {
	// Categorize exit code
	category := "error"
	if exitCode == 0 {
		category = "success"
	} else if exitCode > 128 {
		category = "signal"
	}
	c.processExits.WithLabelValues(category).Inc()
	c.processUptime.Observe(uptime.Seconds())

	c.mu.Lock()
	c.exitCodes[exitCode]++
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// =============================================================================
// Status Sync
// =============================================================================

// Observe copies a status snapshot into the per-core and per-method gauges.
func (c *Collector) Observe(snapshot []status.CoreTestStatus) {
	for _, s := range snapshot {
		core := strconv.Itoa(s.CoreID)

		if s.Samples > 0 {
			c.coreClock.WithLabelValues(core, StatMax).Set(float64(s.MaxMHz))
			c.coreClock.WithLabelValues(core, StatMin).Set(float64(s.MinMHz))
			c.coreClock.WithLabelValues(core, StatAvg).Set(float64(s.AvgMHz))
			c.coreClock.WithLabelValues(core, StatMean).Set(s.MeanMHz)
			c.coreClock.WithLabelValues(core, StatP50).Set(s.P50MHz)
			c.coreClock.WithLabelValues(core, StatP05).Set(s.P05MHz)
		}
		c.coreClockSamples.WithLabelValues(core).Set(float64(s.Samples))

		failed := 0.0
		if s.VerificationFailed {
			failed = 1
		}
		c.coreVerifyFailed.WithLabelValues(core).Set(failed)

		for m, ms := range s.Methods {
			c.methodState.WithLabelValues(core, string(m)).Set(float64(ms.State))
			c.methodElapsed.WithLabelValues(core, string(m)).Set(float64(ms.CurrentSecs))
		}
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds process statistics for the exit summary.
type Summary struct {
	Duration       time.Duration
	CoresCompleted int
	ProcessStarts  int64
	ExitCodes      map[int]int64
	UptimeP50      time.Duration
	UptimeMax      time.Duration
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:       time.Since(c.startTime),
		CoresCompleted: c.completed,
		ProcessStarts:  c.starts,
		ExitCodes:      make(map[int]int64, len(c.exitCodes)),
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}

	if len(c.uptimes) > 0 {
		sorted := slices.Clone(c.uptimes)
		slices.Sort(sorted)
		s.UptimeP50 = percentile(sorted, 0.50)
		s.UptimeMax = sorted[len(sorted)-1]
	}
	return s
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
