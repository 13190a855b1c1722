package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports ViewCache statistics to Prometheus.
type Collector struct {
	cache     *ViewCache
	entries   *prometheus.Desc
	maxSize   *prometheus.Desc
	hitRatio  *prometheus.Desc
	hits      *prometheus.Desc
	misses    *prometheus.Desc
	evictions *prometheus.Desc
}

// NewCollector creates a collector for c.
func NewCollector(c *ViewCache, namespace string) *Collector {
	labels := []string{"view"}
	return &Collector{
		cache:     c,
		entries:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "view_cache", "entries"), "Cached views", labels, nil),
		maxSize:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "view_cache", "max_entries"), "Maximum cached views", labels, nil),
		hitRatio:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "view_cache", "hit_ratio"), "Hits over lookups", labels, nil),
		hits:      prometheus.NewDesc(prometheus.BuildFQName(namespace, "view_cache", "hits_total"), "Cache hits", labels, nil),
		misses:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "view_cache", "misses_total"), "Cache misses", labels, nil),
		evictions: prometheus.NewDesc(prometheus.BuildFQName(namespace, "view_cache", "evictions_total"), "LRU evictions", labels, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.entries
	ch <- c.maxSize
	ch <- c.hitRatio
	ch <- c.hits
	ch <- c.misses
	ch <- c.evictions
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for kind, s := range c.cache.Stats() {
		view := string(kind)
		ch <- prometheus.MustNewConstMetric(c.entries, prometheus.GaugeValue, float64(s.Entries), view)
		ch <- prometheus.MustNewConstMetric(c.maxSize, prometheus.GaugeValue, float64(s.MaxSize), view)
		ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, s.HitRate, view)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits), view)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses), view)
		ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions), view)
	}
}
