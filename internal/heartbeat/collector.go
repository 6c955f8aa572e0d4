package heartbeat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var componentUpDesc = prometheus.NewDesc(
	"ticketbot_component_up",
	"1 when the component is healthy or starting, 0 otherwise",
	[]string{"component", "state"},
	nil,
)

// Collector exposes registry snapshots as Prometheus gauges, one per component.
type Collector struct {
	registry   *Registry
	staleAfter time.Duration
}

func NewCollector(registry *Registry, staleAfter time.Duration) *Collector {
	return &Collector{registry: registry, staleAfter: staleAfter}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- componentUpDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.registry == nil {
		return
	}
	for _, component := range c.registry.Snapshot(c.staleAfter).Components {
		value := 0.0
		if component.State == StateHealthy || component.State == StateStarting {
			value = 1
		}
		ch <- prometheus.MustNewConstMetric(componentUpDesc, prometheus.GaugeValue, value, component.Name, component.State)
	}
}
