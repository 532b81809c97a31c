package env

import (
	"time"

	"github.com/cuemby/actorkit/pkg/metrics"
)

// Collector polls an Environment on a ticker and publishes its snapshot to
// the package-level Prometheus gauges, matching the teacher's
// Collector/Scheduler ticker-plus-stopCh idiom. It lives in this package
// rather than pkg/metrics so that metrics stays a dependency-free leaf:
// every low-level package (limit, mailbox, queue, svc) that wants to
// increment a counter can import pkg/metrics directly without looping back
// through env.
type Collector struct {
	env    *Environment
	stopCh chan struct{}
}

// NewCollector creates a collector bound to e.
func NewCollector(e *Environment) *Collector {
	return &Collector{env: e, stopCh: make(chan struct{})}
}

// Start begins collecting metrics every 15 seconds until Stop.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	snap := c.env.Snapshot()

	metrics.CoopActive.Set(float64(snap.CoopCount))
	for coopName, n := range snap.CoopAgents {
		metrics.CoopAgentsTotal.WithLabelValues(coopName).Set(float64(n))
	}
	for dispName, n := range snap.DispatcherReady {
		metrics.DispatcherReadyAgents.WithLabelValues(dispName).Set(float64(n))
	}
}
