package metrics

import (
	"sync"
	"time"
)

// Source reports workspace occupancy
type Source interface {
	Capacity() uint32
	Used() uint32
	Serial() uint32
	Count() int
}

// DefaultCollectInterval is used when NewCollector gets a non-positive interval
const DefaultCollectInterval = 15 * time.Second

// Collector samples a Source into the workspace gauges on an interval
type Collector struct {
	source   Source
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCollector creates a collector for source
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start samples once immediately and then on every tick until Stop
func (c *Collector) Start() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Collect()
		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop ends sampling and waits for the loop to exit. It must follow Start.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

// Collect samples the source once
func (c *Collector) Collect() {
	WorkspaceSlotsCapacity.Set(float64(c.source.Capacity()))
	WorkspaceSlotsUsed.Set(float64(c.source.Used()))
	WorkspaceSerial.Set(float64(c.source.Serial()))
	ParametersTotal.Set(float64(c.source.Count()))
}
