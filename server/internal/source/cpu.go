package source

import "sync"

// cpuJiffies is one cumulative CPU counter reading.
type cpuJiffies struct {
	total float64
	idle  float64
}

// cpuTracker turns cumulative CPU counters into a usage percentage using the
// previous reading per target.
type cpuTracker struct {
	mu   sync.Mutex
	prev map[string]cpuJiffies
}

func newCPUTracker() *cpuTracker {
	return &cpuTracker{prev: make(map[string]cpuJiffies)}
}

// usage records cur for target and returns the busy percentage since the
// previous reading. The first reading, or a counter reset, falls back to the
// average since boot.
func (c *cpuTracker) usage(target string, cur cpuJiffies) (float64, bool) {
	c.mu.Lock()
	prev, ok := c.prev[target]
	c.prev[target] = cur
	c.mu.Unlock()

	total, idle := cur.total, cur.idle
	if ok && cur.total > prev.total && cur.idle >= prev.idle {
		total = cur.total - prev.total
		idle = cur.idle - prev.idle
	}
	if total <= 0 {
		return 0, false
	}
	pct := (total - idle) / total * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

func (c *cpuTracker) forget(target string) {
	c.mu.Lock()
	delete(c.prev, target)
	c.mu.Unlock()
}
