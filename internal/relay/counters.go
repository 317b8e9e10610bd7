package relay

import (
	"sync"
	"sync/atomic"
)

// Admission rejection reasons returned by Counters.TryAdmit.
const (
	ReasonMaxConnections      = "max_connections"
	ReasonMaxConnectionsPerIP = "max_connections_per_ip"
)

// Counters tracks live sessions for admission control and health output.
// It is safe for concurrent use; the per-connection goroutines update it
// outside the hub loop.
type Counters struct {
	active   atomic.Int64
	total    atomic.Int64
	messages atomic.Int64

	mu    sync.Mutex
	perIP map[string]int
}

// NewCounters creates an empty set of counters.
func NewCounters() *Counters {
	return &Counters{perIP: make(map[string]int)}
}

// TryAdmit checks both caps and counts the session in one step.
// It returns "" on success or the reason for refusing.
func (c *Counters) TryAdmit(ip string, maxGlobal, maxPerIP int) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int(c.active.Load()) >= maxGlobal {
		return ReasonMaxConnections
	}
	if c.perIP[ip] >= maxPerIP {
		return ReasonMaxConnectionsPerIP
	}
	c.active.Add(1)
	c.total.Add(1)
	c.perIP[ip]++
	return ""
}

// Release uncounts a session admitted by TryAdmit.
func (c *Counters) Release(ip string) {
	c.active.Add(-1)
	c.mu.Lock()
	c.perIP[ip]--
	if c.perIP[ip] <= 0 {
		delete(c.perIP, ip)
	}
	c.mu.Unlock()
}

// Active returns the number of live sessions.
func (c *Counters) Active() int {
	return int(c.active.Load())
}

// ActiveForIP returns the live sessions from one client address.
func (c *Counters) ActiveForIP(ip string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perIP[ip]
}

// CountMessage records one inbound frame.
func (c *Counters) CountMessage() {
	c.messages.Add(1)
}

// Total returns the number of sessions admitted since start.
func (c *Counters) Total() int64 {
	return c.total.Load()
}

// Messages returns the number of inbound frames read since start.
func (c *Counters) Messages() int64 {
	return c.messages.Load()
}

// ByIP returns a copy of the live session count per client address.
func (c *Counters) ByIP() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.perIP))
	for ip, n := range c.perIP {
		out[ip] = n
	}
	return out
}
