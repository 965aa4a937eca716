package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// PoolStatsSource 提供连接池统计
type PoolStatsSource interface {
	PoolStats() *redis.PoolStats
}

// PoolCollector 把Redis连接池状态导出为Prometheus指标
type PoolCollector struct {
	source PoolStatsSource

	hits       *prometheus.Desc
	misses     *prometheus.Desc
	timeouts   *prometheus.Desc
	totalConns *prometheus.Desc
	idleConns  *prometheus.Desc
	staleConns *prometheus.Desc
}

// NewPoolCollector 创建连接池指标采集器
func NewPoolCollector(source PoolStatsSource) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("echo_redis_pool_"+name, help, nil, nil)
	}
	return &PoolCollector{
		source:     source,
		hits:       desc("hits_total", "Number of times a free connection was found in the pool"),
		misses:     desc("misses_total", "Number of times a free connection was not found in the pool"),
		timeouts:   desc("timeouts_total", "Number of times a wait timeout occurred"),
		totalConns: desc("connections", "Number of total connections in the pool"),
		idleConns:  desc("idle_connections", "Number of idle connections in the pool"),
		staleConns: desc("stale_connections_total", "Number of stale connections removed from the pool"),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.timeouts
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.staleConns
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.PoolStats()
	if stats == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(stats.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(stats.Misses))
	ch <- prometheus.MustNewConstMetric(c.timeouts, prometheus.CounterValue, float64(stats.Timeouts))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stats.TotalConns))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stats.IdleConns))
	ch <- prometheus.MustNewConstMetric(c.staleConns, prometheus.CounterValue, float64(stats.StaleConns))
}
