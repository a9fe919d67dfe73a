package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordedCall struct {
	kind   string
	name   string
	value  float64
	labels []string
}

type recordingCollector struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *recordingCollector) record(kind, name string, value float64, labels []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{kind: kind, name: name, value: value, labels: labels})
}

func (r *recordingCollector) IncrementCounter(name string, labels ...string) {
	r.record("counter", name, 1, labels)
}

func (r *recordingCollector) RecordHistogram(name string, value float64, labels ...string) {
	r.record("histogram", name, value, labels)
}

func (r *recordingCollector) RecordGauge(name string, value float64, labels ...string) {
	r.record("gauge", name, value, labels)
}

func (r *recordingCollector) StartTimer(name string) Timer {
	return &noOpTimer{start: time.Now()}
}

func TestNoOpCollector(t *testing.T) {
	collector := NewNoOpCollector()
	// None of these should panic
	collector.IncrementCounter("test_counter", "label1", "value1")
	collector.RecordHistogram("test_histogram", 42.0, "label1", "value1")
	collector.RecordGauge("test_gauge", 42.0, "label1", "value1")

	timer := collector.StartTimer("test_timer")
	time.Sleep(10 * time.Millisecond)
	duration := timer.Stop()
	assert.Greater(t, duration, 0.0, "Timer duration should be greater than 0")
	assert.Less(t, duration, 1.0, "Timer duration should be less than 1 second")
}

func TestRecordOperation(t *testing.T) {
	t.Run("WithSize", func(t *testing.T) {
		rc := &recordingCollector{}
		RecordOperation(rc, "allocate", true, 64, 0.001)

		if assert.Len(t, rc.calls, 3) {
			assert.Equal(t, recordedCall{kind: "counter", name: OperationsTotal, value: 1,
				labels: []string{"op", "allocate", "result", "ok"}}, rc.calls[0])
			assert.Equal(t, OperationSeconds, rc.calls[1].name)
			assert.Equal(t, RequestedBytes, rc.calls[2].name)
			assert.Equal(t, 64.0, rc.calls[2].value)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		rc := &recordingCollector{}
		RecordOperation(rc, "release", false, -1, 0)

		if assert.Len(t, rc.calls, 2) {
			assert.Equal(t, []string{"op", "release", "result", "failed"}, rc.calls[0].labels)
		}
	})
}
