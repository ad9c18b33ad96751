// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/dispatch"
)

// Collector registers and records the Prometheus metrics for one process.
// It implements dispatch.Recorder so the engine's event stream feeds the
// dispatch metrics directly.
type Collector struct {
	// dispatch metrics
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	stepRetriesTotal *prometheus.CounterVec
	inflightSteps    prometheus.Gauge
	plansTotal       *prometheus.CounterVec
	planDuration     *prometheus.HistogramVec
	escalationsTotal *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// registry metrics
	registryAgents  prometheus.Gauge
	registrySkills  prometheus.Gauge
	registryReloads *prometheus.CounterVec

	// history metrics
	historyArchives *prometheus.CounterVec

	// database metrics
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger

	// inflight bookkeeping: trace_id -> skills currently on a worker. Kept
	// so unmatched step_failed events (missing handler, cancel during
	// backoff) cannot drive the gauge negative.
	mu      sync.Mutex
	running map[string]map[string]bool
}

// NewCollector creates a collector registering its metrics under namespace
// on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger:  logger.With(zap.String("component", "metrics")),
		running: make(map[string]map[string]bool),
	}

	// dispatch metrics
	c.stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_steps_total",
			Help:      "Total number of finished plan steps",
		},
		[]string{"agent_id", "skill", "outcome"},
	)

	c.stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_step_duration_seconds",
			Help:      "Handler attempt duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"agent_id", "skill"},
	)

	c.stepRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_step_retries_total",
			Help:      "Total number of step retries",
		},
		[]string{"agent_id", "skill"},
	)

	c.inflightSteps = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_inflight_steps",
			Help:      "Step attempts currently running on a worker",
		},
	)

	c.plansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_plans_total",
			Help:      "Total number of completed execution plans",
		},
		[]string{"agent_id", "status"},
	)

	c.planDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_plan_duration_seconds",
			Help:      "End-to-end plan duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent_id"},
	)

	c.escalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_escalations_total",
			Help:      "Total number of escalation hops",
		},
		[]string{"agent_id", "route"},
	)

	// HTTP metrics
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// registry metrics
	c.registryAgents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_agents",
			Help:      "Number of agents in the live registry snapshot",
		},
	)

	c.registrySkills = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_skills",
			Help:      "Number of skills in the live registry snapshot",
		},
	)

	c.registryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_reloads_total",
			Help:      "Total number of content-pack reloads",
		},
		[]string{"status"},
	)

	// history metrics
	c.historyArchives = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_archives_total",
			Help:      "Total number of execution archive writes",
		},
		[]string{"status"},
	)

	// database metrics
	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// Record implements dispatch.Recorder.
func (c *Collector) Record(_ context.Context, ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EventStepStarted:
		c.markRunning(ev.TraceID, ev.Skill)

	case dispatch.EventStepRetried:
		c.unmarkRunning(ev.TraceID, ev.Skill)
		c.stepRetriesTotal.WithLabelValues(ev.AgentID, ev.Skill).Inc()
		c.stepDuration.WithLabelValues(ev.AgentID, ev.Skill).Observe(ev.Latency.Seconds())

	case dispatch.EventStepSucceeded:
		c.unmarkRunning(ev.TraceID, ev.Skill)
		c.stepsTotal.WithLabelValues(ev.AgentID, ev.Skill, "success").Inc()
		c.stepDuration.WithLabelValues(ev.AgentID, ev.Skill).Observe(ev.Latency.Seconds())

	case dispatch.EventStepFailed:
		c.unmarkRunning(ev.TraceID, ev.Skill)
		c.stepsTotal.WithLabelValues(ev.AgentID, ev.Skill, "failure").Inc()
		if ev.Latency > 0 {
			c.stepDuration.WithLabelValues(ev.AgentID, ev.Skill).Observe(ev.Latency.Seconds())
		}

	case dispatch.EventPlanEscalated:
		c.escalationsTotal.WithLabelValues(ev.AgentID, ev.Outcome).Inc()

	case dispatch.EventPlanCompleted:
		c.plansTotal.WithLabelValues(ev.AgentID, strings.ToLower(ev.Outcome)).Inc()
		c.planDuration.WithLabelValues(ev.AgentID).Observe(ev.Latency.Seconds())
		c.sweepTrace(ev.TraceID)
	}
}

func (c *Collector) markRunning(traceID, skill string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	skills, ok := c.running[traceID]
	if !ok {
		skills = make(map[string]bool)
		c.running[traceID] = skills
	}
	if !skills[skill] {
		skills[skill] = true
		c.inflightSteps.Inc()
	}
}

func (c *Collector) unmarkRunning(traceID, skill string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if skills, ok := c.running[traceID]; ok && skills[skill] {
		delete(skills, skill)
		c.inflightSteps.Dec()
	}
}

// sweepTrace drops any leftover inflight marks when a plan finishes.
func (c *Collector) sweepTrace(traceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if skills, ok := c.running[traceID]; ok {
		for range skills {
			c.inflightSteps.Dec()
		}
		delete(c.running, traceID)
	}
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetRegistrySize publishes the live snapshot's agent and skill counts.
func (c *Collector) SetRegistrySize(agents, skills int) {
	c.registryAgents.Set(float64(agents))
	c.registrySkills.Set(float64(skills))
}

// RecordRegistryReload records the outcome of a content-pack reload.
func (c *Collector) RecordRegistryReload(err error) {
	c.registryReloads.WithLabelValues(outcome(err)).Inc()
}

// RecordArchive records the outcome of one history write.
func (c *Collector) RecordArchive(err error) {
	c.historyArchives.WithLabelValues(outcome(err)).Inc()
}

// RecordDBConnections publishes database pool occupancy.
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusCode folds an HTTP status into its class label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
