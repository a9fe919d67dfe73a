package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/TFMV/poolalloc/pkg/infrastructure/pool"
)

// StatsSource exposes pool statistics. The bool is false while the source has
// no constructed pool.
type StatsSource interface {
	Stats() (pool.Stats, bool)
}

// StatsCollector is a prometheus.Collector that reads pool statistics on
// every scrape.
type StatsCollector struct {
	source StatsSource

	ready       *prometheus.Desc
	live        *prometheus.Desc
	liveBytes   *prometheus.Desc
	slabs       *prometheus.Desc
	classSlabs  *prometheus.Desc
	classUsed   *prometheus.Desc
	ops         *prometheus.Desc
	arenaBytes  *prometheus.Desc
	arenaUsed   *prometheus.Desc
	freeExtents *prometheus.Desc
}

// NewStatsCollector creates a collector over source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	name := func(n string) string { return prometheus.BuildFQName(Namespace, "", n) }
	return &StatsCollector{
		source:      source,
		ready:       prometheus.NewDesc(name("ready"), "Whether the allocator has a constructed pool.", nil, nil),
		live:        prometheus.NewDesc(name("live_allocations"), "Allocations currently held by callers.", nil, nil),
		liveBytes:   prometheus.NewDesc(name("live_bytes"), "Bytes requested by live allocations.", nil, nil),
		slabs:       prometheus.NewDesc(name("slab_bytes"), "Bytes held by slabs.", nil, nil),
		classSlabs:  prometheus.NewDesc(name("class_slabs"), "Slabs per size class.", []string{"class"}, nil),
		classUsed:   prometheus.NewDesc(name("class_used"), "Live blocks per size class.", []string{"class"}, nil),
		ops:         prometheus.NewDesc(name("pool_operations"), "Pool operations by kind.", []string{"kind"}, nil),
		arenaBytes:  prometheus.NewDesc(name("arena_bytes"), "Usable size of the large pool arena.", nil, nil),
		arenaUsed:   prometheus.NewDesc(name("arena_used_bytes"), "Bytes handed out by the large pool.", nil, nil),
		freeExtents: prometheus.NewDesc(name("arena_free_extents"), "Free extents in the large pool.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.ready, c.live, c.liveBytes, c.slabs, c.classSlabs, c.classUsed,
		c.ops, c.arenaBytes, c.arenaUsed, c.freeExtents,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st, ok := c.source.Stats()
	if !ok {
		ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.ready, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.live, prometheus.GaugeValue, float64(st.LiveAllocations))
	ch <- prometheus.MustNewConstMetric(c.liveBytes, prometheus.GaugeValue, float64(st.LiveBytes))
	ch <- prometheus.MustNewConstMetric(c.slabs, prometheus.GaugeValue, float64(st.SlabBytes))
	for _, cs := range st.Classes {
		label := strconv.Itoa(cs.Size)
		ch <- prometheus.MustNewConstMetric(c.classSlabs, prometheus.GaugeValue, float64(cs.Slabs), label)
		ch <- prometheus.MustNewConstMetric(c.classUsed, prometheus.GaugeValue, float64(cs.Used), label)
	}
	ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(st.Allocations), "allocate")
	ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(st.Releases), "release")
	ch <- prometheus.MustNewConstMetric(c.ops, prometheus.CounterValue, float64(st.Failures), "failure")
	ch <- prometheus.MustNewConstMetric(c.arenaBytes, prometheus.GaugeValue, float64(st.Large.Size))
	ch <- prometheus.MustNewConstMetric(c.arenaUsed, prometheus.GaugeValue, float64(st.Large.Used))
	ch <- prometheus.MustNewConstMetric(c.freeExtents, prometheus.GaugeValue, float64(st.Large.FreeExtents))
}
