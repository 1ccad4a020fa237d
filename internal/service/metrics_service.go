package service

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	appErrors "github.com/noah-isme/course-registry/pkg/errors"
)

// MetricsSnapshot aggregates store activity for display.
type MetricsSnapshot struct {
	LockAcquisitions      uint64            `json:"lock_acquisitions"`
	LockTimeouts          uint64            `json:"lock_timeouts"`
	AverageLockWaitMs     float64           `json:"average_lock_wait_ms"`
	Saves                 uint64            `json:"saves"`
	SaveFailures          uint64            `json:"save_failures"`
	AverageSaveDurationMs float64           `json:"average_save_duration_ms"`
	Records               map[string]int    `json:"records"`
	Operations            map[string]uint64 `json:"operations"`
	Goroutines            int               `json:"goroutines"`
	GeneratedAt           time.Time         `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation for the collection managers and the enrollment workflow.
type MetricsService struct {
	registry     *prometheus.Registry
	lockWait     *prometheus.HistogramVec
	lockTimeouts *prometheus.CounterVec
	saveDuration *prometheus.HistogramVec
	records      *prometheus.GaugeVec
	operations   *prometheus.CounterVec

	lockCount       uint64
	lockTimeoutHits uint64
	lockWaitTotal   uint64
	saveCount       uint64
	saveFailures    uint64
	saveTotal       uint64

	mu          sync.Mutex
	recordCount map[string]int
	opCount     map[string]uint64
}

// NewMetricsService registers the store collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_lock_wait_seconds",
		Help:    "Time spent acquiring a collection lock",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}, []string{"collection"})

	lockTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "store_lock_timeouts_total",
		Help: "Collection lock acquisitions that timed out",
	}, []string{"collection"})

	saveDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "store_save_duration_seconds",
		Help:    "Duration of collection saves",
		Buckets: prometheus.DefBuckets,
	}, []string{"collection", "result"})

	records := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "store_records",
		Help: "Records held per collection after the last save or load",
	}, []string{"collection"})

	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "enrollment_operations_total",
		Help: "Enrollment workflow operations by outcome",
	}, []string{"operation", "result"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(lockWait, lockTimeouts, saveDuration, records, operations, goroutines)

	return &MetricsService{
		registry:     registry,
		lockWait:     lockWait,
		lockTimeouts: lockTimeouts,
		saveDuration: saveDuration,
		records:      records,
		operations:   operations,
		recordCount:  make(map[string]int),
		opCount:      make(map[string]uint64),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveLockWait records one lock acquisition attempt. Only ErrLockTimeout counts as a timeout.
func (m *MetricsService) ObserveLockWait(collection string, wait time.Duration, err error) {
	if m == nil {
		return
	}
	m.lockWait.WithLabelValues(collection).Observe(wait.Seconds())
	atomic.AddUint64(&m.lockCount, 1)
	atomic.AddUint64(&m.lockWaitTotal, uint64(wait.Nanoseconds()))
	if errors.Is(err, appErrors.ErrLockTimeout) {
		m.lockTimeouts.WithLabelValues(collection).Inc()
		atomic.AddUint64(&m.lockTimeoutHits, 1)
	}
}

// ObserveSave records one save attempt.
func (m *MetricsService) ObserveSave(collection string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.saveDuration.WithLabelValues(collection, resultLabel(err)).Observe(duration.Seconds())
	atomic.AddUint64(&m.saveCount, 1)
	atomic.AddUint64(&m.saveTotal, uint64(duration.Nanoseconds()))
	if err != nil {
		atomic.AddUint64(&m.saveFailures, 1)
	}
}

// SetRecordCount updates the per-collection record gauge.
func (m *MetricsService) SetRecordCount(collection string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(collection).Set(float64(n))
	m.mu.Lock()
	m.recordCount[collection] = n
	m.mu.Unlock()
}

// RecordEnrollmentOperation counts a workflow operation by its outcome.
func (m *MetricsService) RecordEnrollmentOperation(operation string, err error) {
	if m == nil {
		return
	}
	result := resultLabel(err)
	m.operations.WithLabelValues(operation, result).Inc()
	m.mu.Lock()
	m.opCount[operation+":"+result]++
	m.mu.Unlock()
}

// Snapshot returns aggregated metrics.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	locks := atomic.LoadUint64(&m.lockCount)
	lockWait := atomic.LoadUint64(&m.lockWaitTotal)
	saves := atomic.LoadUint64(&m.saveCount)
	saveTotal := atomic.LoadUint64(&m.saveTotal)

	var avgLockMs float64
	if locks > 0 {
		avgLockMs = float64(lockWait) / float64(locks) / float64(time.Millisecond)
	}

	var avgSaveMs float64
	if saves > 0 {
		avgSaveMs = float64(saveTotal) / float64(saves) / float64(time.Millisecond)
	}

	m.mu.Lock()
	records := make(map[string]int, len(m.recordCount))
	for k, v := range m.recordCount {
		records[k] = v
	}
	ops := make(map[string]uint64, len(m.opCount))
	for k, v := range m.opCount {
		ops[k] = v
	}
	m.mu.Unlock()

	return MetricsSnapshot{
		LockAcquisitions:      locks,
		LockTimeouts:          atomic.LoadUint64(&m.lockTimeoutHits),
		AverageLockWaitMs:     avgLockMs,
		Saves:                 saves,
		SaveFailures:          atomic.LoadUint64(&m.saveFailures),
		AverageSaveDurationMs: avgSaveMs,
		Records:               records,
		Operations:            ops,
		Goroutines:            runtime.NumGoroutine(),
		GeneratedAt:           time.Now().UTC(),
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := appErrors.Code(err); code != "" {
		return strings.ToLower(code)
	}
	return "error"
}
