package testutils

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ahrav/castrank/internal/domain"
	"github.com/ahrav/castrank/internal/ports"
)

var _ ports.DocumentStore = (*FaultyStore)(nil)

// FaultyStore wraps a DocumentStore and injects errors per operation and
// collection. It also counts calls so tests can assert on traffic.
type FaultyStore struct {
	next ports.DocumentStore

	mu     sync.Mutex
	faults map[string]*fault
	calls  map[string]int
}

type fault struct {
	err       error
	remaining int // negative means forever
}

// NewFaultyStore wraps next with no faults configured.
func NewFaultyStore(next ports.DocumentStore) *FaultyStore {
	return &FaultyStore{
		next:   next,
		faults: make(map[string]*fault),
		calls:  make(map[string]int),
	}
}

func faultKey(op, collection string) string { return op + "/" + collection }

// FailAlways makes every op ("get", "list" or "set") on collection fail
// with err.
func (f *FaultyStore) FailAlways(op, collection string, err error) {
	f.FailTimes(op, collection, err, -1)
}

// FailTimes makes the next n calls of op on collection fail with err.
func (f *FaultyStore) FailTimes(op, collection string, err error, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[faultKey(op, collection)] = &fault{err: err, remaining: n}
}

// Heal removes every configured fault.
func (f *FaultyStore) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = make(map[string]*fault)
}

// Calls reports how many times op was invoked on collection.
func (f *FaultyStore) Calls(op, collection string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[faultKey(op, collection)]
}

func (f *FaultyStore) check(op, collection string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := faultKey(op, collection)
	f.calls[key]++
	flt, ok := f.faults[key]
	if !ok || flt.remaining == 0 {
		return nil
	}
	if flt.remaining > 0 {
		flt.remaining--
	}
	return flt.err
}

// Get implements ports.DocumentStore.
func (f *FaultyStore) Get(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	if err := f.check("get", collection); err != nil {
		return domain.Document{}, false, err
	}
	return f.next.Get(ctx, collection, id)
}

// List implements ports.DocumentStore.
func (f *FaultyStore) List(ctx context.Context, collection string) ([]domain.Document, error) {
	if err := f.check("list", collection); err != nil {
		return nil, err
	}
	return f.next.List(ctx, collection)
}

// Set implements ports.DocumentStore.
func (f *FaultyStore) Set(ctx context.Context, collection string, doc domain.Document) error {
	if err := f.check("set", collection); err != nil {
		return err
	}
	return f.next.Set(ctx, collection, doc)
}

var _ ports.MetricsCollector = (*RecordingMetrics)(nil)

// RecordingMetrics is a MetricsCollector that keeps every observation in
// memory. Keys combine the metric name with sorted label pairs.
type RecordingMetrics struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
	latencies  map[string]int
}

// NewRecordingMetrics creates an empty collector.
func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
		latencies:  make(map[string]int),
	}
}

// MetricKey renders a metric name and the given label pairs in order, for
// example MetricKey("notifications_total", "type", "comment").
func MetricKey(metric string, labelPairs ...string) string {
	key := metric
	for i := 0; i+1 < len(labelPairs); i += 2 {
		key += fmt.Sprintf(",%s=%s", labelPairs[i], labelPairs[i+1])
	}
	return key
}

// RecordLatency implements ports.MetricsCollector.
func (m *RecordingMetrics) RecordLatency(operation string, _ time.Duration, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies[operation]++
}

// RecordCounter implements ports.MetricsCollector. Counters are indexed
// under the bare name and under every single label pair.
func (m *RecordingMetrics) RecordCounter(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] += value
	for k, v := range labels {
		m.counters[MetricKey(metric, k, v)] += value
	}
}

// RecordGauge implements ports.MetricsCollector.
func (m *RecordingMetrics) RecordGauge(metric string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metric] = value
	for k, v := range labels {
		m.gauges[MetricKey(metric, k, v)] = value
	}
}

// RecordHistogram implements ports.MetricsCollector.
func (m *RecordingMetrics) RecordHistogram(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[metric] = append(m.histograms[metric], value)
}

// Counter returns the accumulated value for key.
func (m *RecordingMetrics) Counter(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

// Gauge returns the last value set for key.
func (m *RecordingMetrics) Gauge(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[key]
}

// Histogram returns every value observed for metric.
func (m *RecordingMetrics) Histogram(metric string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.histograms[metric]...)
}

// Latencies reports how many latency samples operation received.
func (m *RecordingMetrics) Latencies(operation string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latencies[operation]
}

// FixedClock returns a clock frozen at t.
func FixedClock(t time.Time) ports.Clock {
	return ports.ClockFunc(func() time.Time { return t })
}

// SequentialIDs returns a generator producing prefix-1, prefix-2, ...
func SequentialIDs(prefix string) ports.IDGenerator {
	var n atomic.Int64
	return ports.IDGeneratorFunc(func() string {
		return prefix + "-" + strconv.FormatInt(n.Add(1), 10)
	})
}
