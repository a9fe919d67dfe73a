package metrics

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCollector_IncrementCounter(t *testing.T) {
	collector := NewPrometheusCollectorWith(prometheus.NewRegistry())
	collector.IncrementCounter(OperationsTotal, "op", "allocate", "result", "ok")
	collector.IncrementCounter(OperationsTotal, "op", "allocate", "result", "ok")

	counter := collector.counters[OperationsTotal]
	require.NotNil(t, counter, "Counter should be created")

	value := testutil.ToFloat64(counter.WithLabelValues("allocate", "ok"))
	assert.Equal(t, float64(2), value, "Counter should be incremented twice")
}

func TestPrometheusCollector_RecordHistogram(t *testing.T) {
	collector := NewPrometheusCollectorWith(prometheus.NewRegistry())
	collector.RecordHistogram(RequestedBytes, 64, "op", "allocate")

	histogram := collector.histograms[RequestedBytes]
	require.NotNil(t, histogram, "Histogram should be created")

	count := testutil.CollectAndCount(histogram)
	assert.Equal(t, 1, count, "Histogram should have one series")
}

func TestPrometheusCollector_RecordGauge(t *testing.T) {
	collector := NewPrometheusCollectorWith(prometheus.NewRegistry())
	collector.RecordGauge(ConstructionState, 2, "instance", "default")

	gauge := collector.gauges[ConstructionState]
	require.NotNil(t, gauge, "Gauge should be created")

	value := testutil.ToFloat64(gauge.WithLabelValues("default"))
	assert.Equal(t, 2.0, value)
}

func TestPrometheusCollector_Concurrent(t *testing.T) {
	collector := NewPrometheusCollectorWith(prometheus.NewRegistry())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordOperation(collector, "allocate", true, 128, 0.0001)
		}()
	}
	wg.Wait()

	value := testutil.ToFloat64(collector.counters[OperationsTotal].WithLabelValues("allocate", "ok"))
	assert.Equal(t, 16.0, value)
}

func TestPrometheusCollector_StartTimer(t *testing.T) {
	collector := NewPrometheusCollectorWith(prometheus.NewRegistry())
	timer := collector.StartTimer("test_timer")

	time.Sleep(10 * time.Millisecond)

	duration := timer.Stop()
	assert.Greater(t, duration, 0.0, "Timer duration should be greater than 0")
	assert.Less(t, duration, 1.0, "Timer duration should be less than 1 second")
}

func TestParseLabelPairs(t *testing.T) {
	tests := []struct {
		name       string
		labels     []string
		wantNames  []string
		wantValues []string
	}{
		{
			name:       "empty labels",
			labels:     []string{},
			wantNames:  []string{},
			wantValues: []string{},
		},
		{
			name:       "multiple pairs",
			labels:     []string{"op", "allocate", "result", "ok"},
			wantNames:  []string{"op", "result"},
			wantValues: []string{"allocate", "ok"},
		},
		{
			name:       "odd number of labels",
			labels:     []string{"op", "release", "result"},
			wantNames:  []string{"op"},
			wantValues: []string{"release"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names, values := parseLabelPairs(tt.labels)
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantValues, values)
		})
	}
}

func TestMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewPrometheusCollectorWith(reg)
	collector.IncrementCounter(OperationsTotal, "op", "allocate", "result", "ok")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	server := NewMetricsServerWith(addr, "/stats", reg)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://%s/stats", addr))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, OperationsTotal)

	assert.NoError(t, server.Stop(), "Server should stop without error")
	assert.NoError(t, <-errCh, "a stopped server is not an error")
}

func TestMetricsServer_StopWithoutStart(t *testing.T) {
	server := NewMetricsServer(":0")
	err := server.Stop()
	assert.NoError(t, err, "Stopping an unstarted server should not error")
}
