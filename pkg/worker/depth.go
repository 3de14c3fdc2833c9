package worker

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pepolabs/hookpipe/pkg/core"
)

// DepthCollector reports the number of rows per status of each hook table,
// counted at scrape time.
type DepthCollector struct {
	stores  []core.HookStore
	timeout time.Duration
	depth   *prometheus.Desc
	up      *prometheus.Desc
}

// NewDepthCollector creates a collector over stores.
func NewDepthCollector(stores ...core.HookStore) *DepthCollector {
	return &DepthCollector{
		stores:  stores,
		timeout: 5 * time.Second,
		depth: prometheus.NewDesc("hookpipe_hooks",
			"Hook rows by table and status.", []string{"table", "status"}, nil),
		up: prometheus.NewDesc("hookpipe_hook_table_up",
			"Whether the last count of the hook table succeeded.", []string{"table"}, nil),
	}
}

func (c *DepthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
	ch <- c.up
}

func (c *DepthCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for _, s := range c.stores {
		counts, err := s.CountByStatus(ctx)
		if err != nil {
			ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0, s.Table())
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1, s.Table())
		for _, status := range []core.HookStatus{core.StatusPending, core.StatusProcessed, core.StatusFailed, core.StatusIgnored} {
			ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue,
				float64(counts[status]), s.Table(), string(status))
		}
	}
}
