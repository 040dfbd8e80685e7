package metrics

import (
	"time"

	"github.com/rrockerd/rrockerd/pkg/registry"
)

// Collector periodically snapshots the task registry into the
// TasksRunning gauge, the way the teacher's own collector polled its
// manager on a ticker rather than updating gauges inline on every
// mutation.
type Collector struct {
	registry *registry.Registry
	stopCh   chan struct{}
}

// NewCollector creates a collector over reg.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{
		registry: reg,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting on a fixed interval, in its own goroutine.
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

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	running, _, _ := c.registry.CountByStatus()
	TasksRunning.Set(float64(running))
}
