package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mohammad-safakhou/qurio/config"
)

// Telemetry tracks research run metrics and LLM spend. Prometheus collectors
// are registered on the default registry and exposed through /metrics.
type Telemetry struct {
	config config.TelemetryConfig
	logger *log.Logger

	costTracker *CostTracker

	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	stepsTotal     *prometheus.CounterVec
	stepDuration   prometheus.Histogram
	toolCallsTotal *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
}

// CostTracker accumulates LLM costs per model.
type CostTracker struct {
	mu          sync.RWMutex
	ModelCosts  map[string]float64
	TotalCost   float64
	TotalTokens int64
}

var (
	collectorsOnce sync.Once
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	stepsTotal     *prometheus.CounterVec
	stepDuration   prometheus.Histogram
	toolCallsTotal *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
)

// Collectors are process-global; guard registration so multiple Telemetry
// instances (tests) do not panic on duplicate registration.
func initCollectors() {
	collectorsOnce.Do(func() {
		runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "research_runs_total",
			Help: "Research runs by terminal status.",
		}, []string{"status"})
		runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "research_run_duration_seconds",
			Help:    "Wall time of complete research runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		})
		stepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "research_steps_total",
			Help: "Executed research steps by terminal status.",
		}, []string{"status"})
		stepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "research_step_duration_seconds",
			Help:    "Wall time of individual research steps.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		})
		toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "research_tool_calls_total",
			Help: "Tool invocations by tool name and status.",
		}, []string{"tool", "status"})
		llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "LLM tokens consumed by model and direction.",
		}, []string{"model", "direction"})
	})
}

// NewTelemetry creates a telemetry instance.
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	initCollectors()
	return &Telemetry{
		config:         cfg,
		logger:         log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		costTracker:    &CostTracker{ModelCosts: make(map[string]float64)},
		runsTotal:      runsTotal,
		runDuration:    runDuration,
		stepsTotal:     stepsTotal,
		stepDuration:   stepDuration,
		toolCallsTotal: toolCallsTotal,
		llmTokens:      llmTokens,
	}
}

// RecordRun records a finished research run.
func (t *Telemetry) RecordRun(duration time.Duration, success bool) {
	if t == nil || !t.config.Enabled {
		return
	}
	status := "completed"
	if !success {
		status = "failed"
	}
	t.runsTotal.WithLabelValues(status).Inc()
	t.runDuration.Observe(duration.Seconds())
}

// RecordStep records a finished research step.
func (t *Telemetry) RecordStep(duration time.Duration, status string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.stepsTotal.WithLabelValues(status).Inc()
	t.stepDuration.Observe(duration.Seconds())
}

// RecordToolCall records one tool invocation.
func (t *Telemetry) RecordToolCall(tool, status string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordLLMUsage records token usage and cost for one generation call.
func (t *Telemetry) RecordLLMUsage(model string, promptTokens, completionTokens int64, cost float64) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.llmTokens.WithLabelValues(model, "input").Add(float64(promptTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(completionTokens))

	if !t.config.CostTracking {
		return
	}
	t.costTracker.mu.Lock()
	defer t.costTracker.mu.Unlock()
	t.costTracker.ModelCosts[model] += cost
	t.costTracker.TotalCost += cost
	t.costTracker.TotalTokens += promptTokens + completionTokens
}

// CostSummary returns accumulated spend per model plus totals.
func (t *Telemetry) CostSummary() (map[string]float64, float64, int64) {
	if t == nil {
		return nil, 0, 0
	}
	t.costTracker.mu.RLock()
	defer t.costTracker.mu.RUnlock()
	out := make(map[string]float64, len(t.costTracker.ModelCosts))
	for k, v := range t.costTracker.ModelCosts {
		out[k] = v
	}
	return out, t.costTracker.TotalCost, t.costTracker.TotalTokens
}
