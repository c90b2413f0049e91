package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/gonasi/gonasi-backend/internal/domain"
	"github.com/gonasi/gonasi-backend/internal/platform/logger"
)

const namespace = "gonasi"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op, so tests and
// tools can run without a registry.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	aggregateLatency   *prometheus.HistogramVec
	aggregateConflicts *prometheus.CounterVec
	aggregateRetries   *prometheus.CounterVec

	publishTotal   *prometheus.CounterVec
	webhookTotal   *prometheus.CounterVec
	sagaTotal      *prometheus.CounterVec
	outboxDispatch *prometheus.CounterVec
	outboxDepth    *prometheus.GaugeVec
	deadLetters    *prometheus.CounterVec

	pgStats   *prometheus.GaugeVec
	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge

	scrapeInterval time.Duration
}

func NewMetrics(scrapeInterval time.Duration) *Metrics {
	if scrapeInterval <= 0 {
		scrapeInterval = 10 * time.Second
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "api_requests_total", Help: "API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "api_request_duration_seconds", Help: "API request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "api_inflight_requests", Help: "In-flight API requests.",
		}),
		aggregateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "aggregate_operation_duration_seconds", Help: "Aggregate write duration by operation/status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"operation", "status"}),
		aggregateConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "aggregate_conflicts_total", Help: "Aggregate writes that lost a concurrency race.",
		}, []string{"operation"}),
		aggregateRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "aggregate_retryable_total", Help: "Aggregate writes that failed with a retryable error.",
		}, []string{"operation"}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "course_publish_total", Help: "Publish attempts by outcome and failed phase.",
		}, []string{"outcome", "phase"}),
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "paystack_webhooks_total", Help: "Paystack webhooks by event and outcome.",
		}, []string{"event", "outcome"}),
		sagaTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "saga_runs_total", Help: "Saga runs by kind and final status.",
		}, []string{"kind", "status"}),
		outboxDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbox_dispatch_total", Help: "Outbox delivery attempts by kind and result.",
		}, []string{"kind", "result"}),
		outboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "outbox_entries", Help: "Outbox entries by status.",
		}, []string{"status"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_letters_total", Help: "Side effects handed to the dead-letter writer.",
		}, []string{"kind", "source"}),
		pgStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "postgres_pool", Help: "database/sql pool stats.",
		}, []string{"stat"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_up", Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "redis_ping_seconds", Help: "Latency of the last redis ping.",
		}),
		scrapeInterval: scrapeInterval,
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.aggregateLatency, m.aggregateConflicts, m.aggregateRetries,
		m.publishTotal, m.webhookTotal, m.sagaTotal,
		m.outboxDispatch, m.outboxDepth, m.deadLetters,
		m.pgStats, m.redisUp, m.redisPing,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	code := strconv.Itoa(status)
	m.apiRequests.WithLabelValues(method, route, code).Inc()
	m.apiLatency.WithLabelValues(method, route, code).Observe(dur.Seconds())
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAggregateOperation(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.aggregateLatency.WithLabelValues(orUnknown(operation), orUnknown(status)).Observe(dur.Seconds())
}

func (m *Metrics) IncAggregateConflict(operation string) {
	if m == nil {
		return
	}
	m.aggregateConflicts.WithLabelValues(orUnknown(operation)).Inc()
}

func (m *Metrics) IncAggregateRetry(operation string) {
	if m == nil {
		return
	}
	m.aggregateRetries.WithLabelValues(orUnknown(operation)).Inc()
}

// IncPublish counts a publish attempt. phase is empty on success.
func (m *Metrics) IncPublish(outcome, phase string) {
	if m == nil {
		return
	}
	if phase == "" {
		phase = "none"
	}
	m.publishTotal.WithLabelValues(outcome, phase).Inc()
}

func (m *Metrics) IncWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(orUnknown(event), outcome).Inc()
}

func (m *Metrics) IncSaga(kind, status string) {
	if m == nil {
		return
	}
	m.sagaTotal.WithLabelValues(orUnknown(kind), orUnknown(status)).Inc()
}

func (m *Metrics) IncOutboxDispatch(kind, result string) {
	if m == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(orUnknown(kind), result).Inc()
}

func (m *Metrics) IncDeadLetter(kind, source string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(orUnknown(kind), orUnknown(source)).Inc()
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go m.every(ctx, func() {
		sqlDB, err := db.DB()
		if err != nil {
			log.Warn("metrics: postgres stats unavailable", "error", err)
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
		m.pgStats.WithLabelValues("in_use").Set(float64(stats.InUse))
		m.pgStats.WithLabelValues("idle").Set(float64(stats.Idle))
		m.pgStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
		m.pgStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
		m.pgStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb redis.UniversalClient) {
	if m == nil || rdb == nil {
		return
	}
	go m.every(ctx, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			log.Warn("metrics: redis ping failed", "error", err)
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

// StartOutboxCollector samples side_effect_outbox depth by status.
func (m *Metrics) StartOutboxCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	statuses := []string{"pending", "done", "dead"}
	go m.every(ctx, func() {
		var rows []struct {
			Status string
			Count  int64
		}
		if err := db.WithContext(ctx).
			Model(&types.OutboxEntry{}).
			Select("status, count(*) as count").
			Group("status").
			Scan(&rows).Error; err != nil {
			log.Warn("metrics: outbox depth query failed", "error", err)
			return
		}
		for _, s := range statuses {
			m.outboxDepth.WithLabelValues(s).Set(0)
		}
		for _, row := range rows {
			m.outboxDepth.WithLabelValues(orUnknown(row.Status)).Set(float64(row.Count))
		}
	})
}

func (m *Metrics) every(ctx context.Context, fn func()) {
	ticker := time.NewTicker(m.scrapeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func orUnknown(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
