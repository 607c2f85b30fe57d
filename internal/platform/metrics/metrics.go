package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"payrun/internal/domain/payroll"
)

type Collector struct {
	totalRequests   uint64
	errorRequests   uint64
	totalDurationMs uint64

	draftsGenerated   uint64
	payslipsGenerated uint64
	employeesSkipped  uint64

	mu          sync.Mutex
	transitions map[payroll.Action]uint64
	rejected    map[payroll.Action]uint64
}

var _ payroll.Recorder = (*Collector)(nil)

func New() *Collector {
	return &Collector{
		transitions: map[payroll.Action]uint64{},
		rejected:    map[payroll.Action]uint64{},
	}
}

func (c *Collector) Record(status int, duration time.Duration) {
	atomic.AddUint64(&c.totalRequests, 1)
	if status >= 500 {
		atomic.AddUint64(&c.errorRequests, 1)
	}
	atomic.AddUint64(&c.totalDurationMs, uint64(duration.Milliseconds()))
}

func (c *Collector) DraftGenerated(employees, skipped int) {
	atomic.AddUint64(&c.draftsGenerated, 1)
	atomic.AddUint64(&c.payslipsGenerated, uint64(employees))
	atomic.AddUint64(&c.employeesSkipped, uint64(skipped))
}

func (c *Collector) Transitioned(action payroll.Action) {
	c.mu.Lock()
	c.transitions[action]++
	c.mu.Unlock()
}

func (c *Collector) TransitionRejected(action payroll.Action) {
	c.mu.Lock()
	c.rejected[action]++
	c.mu.Unlock()
}

func (c *Collector) Snapshot() map[string]any {
	total := atomic.LoadUint64(&c.totalRequests)
	errs := atomic.LoadUint64(&c.errorRequests)
	totalMs := atomic.LoadUint64(&c.totalDurationMs)
	avg := float64(0)
	if total > 0 {
		avg = float64(totalMs) / float64(total)
	}

	c.mu.Lock()
	transitions := copyCounts(c.transitions)
	rejected := copyCounts(c.rejected)
	c.mu.Unlock()

	return map[string]any{
		"requestsTotal":          total,
		"errorsTotal":            errs,
		"avgDurationMs":          avg,
		"totalDurationMs":        totalMs,
		"draftsGeneratedTotal":   atomic.LoadUint64(&c.draftsGenerated),
		"payslipsGeneratedTotal": atomic.LoadUint64(&c.payslipsGenerated),
		"employeesSkippedTotal":  atomic.LoadUint64(&c.employeesSkipped),
		"transitionsTotal":       transitions,
		"transitionsRejected":    rejected,
	}
}

func copyCounts(in map[payroll.Action]uint64) map[string]uint64 {
	keys := make([]string, 0, len(in))
	for action := range in {
		keys = append(keys, string(action))
	}
	sort.Strings(keys)
	out := make(map[string]uint64, len(in))
	for _, key := range keys {
		out[key] = in[payroll.Action(key)]
	}
	return out
}
