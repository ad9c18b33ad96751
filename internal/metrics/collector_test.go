package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/skillflow/dispatch"
)

var collectorNamespaceSeq uint64

// nextTestNamespace keeps promauto registrations on the default registry
// from colliding across tests.
func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func stepEvent(kind dispatch.EventKind, trace, skill string, latency time.Duration) dispatch.Event {
	return dispatch.Event{
		Kind:    kind,
		TraceID: trace,
		AgentID: "react-agent",
		Skill:   skill,
		Latency: latency,
	}
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.stepsTotal)
	assert.NotNil(t, collector.stepDuration)
	assert.NotNil(t, collector.plansTotal)
	assert.NotNil(t, collector.escalationsTotal)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
}

func TestCollector_RecordStepLifecycle(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)
	ctx := context.Background()

	// 一次失败重试后成功
	collector.Record(ctx, stepEvent(dispatch.EventStepStarted, "trace-1", "react-hooks", 0))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inflightSteps))

	collector.Record(ctx, stepEvent(dispatch.EventStepRetried, "trace-1", "react-hooks", 5*time.Millisecond))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inflightSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stepRetriesTotal.WithLabelValues("react-agent", "react-hooks")))

	collector.Record(ctx, stepEvent(dispatch.EventStepStarted, "trace-1", "react-hooks", 0))
	collector.Record(ctx, stepEvent(dispatch.EventStepSucceeded, "trace-1", "react-hooks", 8*time.Millisecond))

	// 验证指标
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inflightSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("react-agent", "react-hooks", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.stepDuration))
}

func TestCollector_RecordStepFailure(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)
	ctx := context.Background()

	collector.Record(ctx, stepEvent(dispatch.EventStepStarted, "trace-1", "react-hooks", 0))
	collector.Record(ctx, stepEvent(dispatch.EventStepFailed, "trace-1", "react-hooks", 12*time.Millisecond))

	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inflightSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("react-agent", "react-hooks", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.stepDuration))
}

func TestCollector_UnmatchedFailureKeepsGaugeAtZero(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)
	ctx := context.Background()

	// 缺失 handler 的步骤直接失败，没有对应的 step_started 事件
	collector.Record(ctx, stepEvent(dispatch.EventStepFailed, "trace-1", "react-hooks", 0))

	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inflightSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("react-agent", "react-hooks", "failure")))
	// 零时长的失败不计入耗时直方图
	assert.Equal(t, 0, testutil.CollectAndCount(collector.stepDuration))
}

func TestCollector_PlanCompletedSweepsInflight(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)
	ctx := context.Background()

	collector.Record(ctx, stepEvent(dispatch.EventStepStarted, "trace-1", "react-hooks", 0))
	collector.Record(ctx, stepEvent(dispatch.EventStepStarted, "trace-1", "context-api-patterns", 0))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.inflightSteps))

	// 其他 trace 的在途步骤不受影响
	collector.Record(ctx, stepEvent(dispatch.EventStepStarted, "trace-2", "react-hooks", 0))

	collector.Record(ctx, dispatch.Event{
		Kind:    dispatch.EventPlanCompleted,
		TraceID: "trace-1",
		AgentID: "react-agent",
		Skill:   "react-hooks",
		Attempt: -1,
		Latency: 120 * time.Millisecond,
		Outcome: "SUCCESS",
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.inflightSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.plansTotal.WithLabelValues("react-agent", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.planDuration))
}

func TestCollector_RecordEscalation(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.Record(context.Background(), dispatch.Event{
		Kind:    dispatch.EventPlanEscalated,
		TraceID: "trace-1",
		AgentID: "frameworks-agent",
		Skill:   "ssr-ssg-frameworks",
		Attempt: -1,
		Outcome: "fallback_agent",
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.escalationsTotal.WithLabelValues("frameworks-agent", "fallback_agent")))
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	// 记录请求
	collector.RecordHTTPRequest("POST", "/api/v1/invoke", 200, 100*time.Millisecond, 2048)
	collector.RecordHTTPRequest("POST", "/api/v1/invoke", 404, 5*time.Millisecond, 128)

	// 状态码折叠为类别标签
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/invoke", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/invoke", "4xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.httpRequestDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.httpResponseSize))
}

func TestCollector_RegistryMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.SetRegistrySize(4, 11)
	assert.Equal(t, 4.0, testutil.ToFloat64(collector.registryAgents))
	assert.Equal(t, 11.0, testutil.ToFloat64(collector.registrySkills))

	collector.RecordRegistryReload(nil)
	collector.RecordRegistryReload(errors.New("cycle detected"))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.registryReloads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.registryReloads.WithLabelValues("error")))
}

func TestCollector_HistoryMetrics(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordArchive(nil)
	collector.RecordArchive(errors.New("connection refused"))

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.historyArchives.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.historyArchives.WithLabelValues("error")))
}

func TestCollector_RecordDBConnections(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordDBConnections("skillflow", 10, 5)

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("skillflow")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("skillflow")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)
	ctx := context.Background()

	// 并发记录多个指标
	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			trace := fmt.Sprintf("trace-%d", id)
			collector.Record(ctx, stepEvent(dispatch.EventStepStarted, trace, "react-hooks", 0))
			collector.Record(ctx, stepEvent(dispatch.EventStepSucceeded, trace, "react-hooks", time.Millisecond))
			collector.RecordHTTPRequest("POST", "/api/v1/invoke", 200, 100*time.Millisecond, 1024)
			done <- true
		}(i)
	}

	// 等待所有 goroutine 完成
	for i := 0; i < 10; i++ {
		<-done
	}

	// 验证指标被正确记录
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.inflightSteps))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.stepsTotal.WithLabelValues("react-agent", "react-hooks", "success")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/invoke", "2xx")))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", statusCode(204))
	assert.Equal(t, "3xx", statusCode(301))
	assert.Equal(t, "4xx", statusCode(429))
	assert.Equal(t, "5xx", statusCode(503))
	assert.Equal(t, "unknown", statusCode(42))
}
