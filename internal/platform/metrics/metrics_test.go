package metrics

import (
	"sync"
	"testing"
	"time"

	"payrun/internal/domain/payroll"
)

func TestSnapshotCountsRequests(t *testing.T) {
	c := New()
	c.Record(200, 10*time.Millisecond)
	c.Record(503, 30*time.Millisecond)

	snap := c.Snapshot()
	if snap["requestsTotal"].(uint64) != 2 {
		t.Fatalf("expected 2 requests, got %v", snap["requestsTotal"])
	}
	if snap["errorsTotal"].(uint64) != 1 {
		t.Fatalf("expected 1 error, got %v", snap["errorsTotal"])
	}
	if snap["avgDurationMs"].(float64) != 20 {
		t.Fatalf("expected avg 20ms, got %v", snap["avgDurationMs"])
	}
}

func TestSnapshotCountsEngineEvents(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Transitioned(payroll.ActionPublish)
		}()
	}
	wg.Wait()
	c.TransitionRejected(payroll.ActionLock)
	c.DraftGenerated(12, 3)

	snap := c.Snapshot()
	transitions := snap["transitionsTotal"].(map[string]uint64)
	if transitions["publish"] != 10 {
		t.Fatalf("expected 10 publishes, got %d", transitions["publish"])
	}
	rejected := snap["transitionsRejected"].(map[string]uint64)
	if rejected["lock"] != 1 {
		t.Fatalf("expected 1 rejected lock, got %d", rejected["lock"])
	}
	if snap["payslipsGeneratedTotal"].(uint64) != 12 || snap["employeesSkippedTotal"].(uint64) != 3 {
		t.Fatalf("unexpected draft counters %v", snap)
	}
}
