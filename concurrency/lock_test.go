package concurrency

import (
	"sync"
	"testing"
	"time"
)

func TestAcquireSegmentExcludesSameSegment(t *testing.T) {
	lm := NewLockManager(LockPolicyWait)
	lm.SetTimeout(200 * time.Millisecond)

	if err := lm.AcquireSegment("seg-a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- lm.AcquireSegment("seg-a")
	}()

	select {
	case <-done:
		t.Fatalf("second acquire of the same segment should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	lm.ReleaseSegment("seg-a")

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second acquire after release: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("second acquire never unblocked after release")
	}
	lm.ReleaseSegment("seg-a")
}

func TestAcquireSegmentDistinctSegmentsDontContend(t *testing.T) {
	lm := NewLockManager(LockPolicyFail)

	if err := lm.AcquireSegment("seg-a"); err != nil {
		t.Fatalf("acquire seg-a: %v", err)
	}
	if err := lm.AcquireSegment("seg-b"); err != nil {
		t.Fatalf("acquire seg-b: %v", err)
	}
	lm.ReleaseSegment("seg-a")
	lm.ReleaseSegment("seg-b")
}

func TestAcquireSegmentFailPolicyReturnsImmediately(t *testing.T) {
	lm := NewLockManager(LockPolicyFail)

	if err := lm.AcquireSegment("seg-a"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := lm.AcquireSegment("seg-a"); err == nil {
		t.Fatalf("expected immediate failure under LockPolicyFail")
	}
	lm.ReleaseSegment("seg-a")
}

func TestForgetDropsLockEntry(t *testing.T) {
	lm := NewLockManager(LockPolicyFail)
	if err := lm.AcquireSegment("seg-a"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	lm.ReleaseSegment("seg-a")
	lm.Forget("seg-a")

	lm.mu.Lock()
	_, exists := lm.locks[lockKey{segmentID: "seg-a"}]
	lm.mu.Unlock()
	if exists {
		t.Fatalf("Forget did not remove the segment's lock entry")
	}
}

func TestWriterGateTryAcquire(t *testing.T) {
	lm := NewLockManager(LockPolicyWait)

	if !lm.TryAcquireWriter() {
		t.Fatalf("gate should be free on a fresh manager")
	}
	if lm.TryAcquireWriter() {
		t.Fatalf("second TryAcquireWriter succeeded while the gate was held")
	}
	lm.ReleaseWriter()
	if !lm.TryAcquireWriter() {
		t.Fatalf("gate not reacquirable after release")
	}
	lm.ReleaseWriter()
}

func TestWriterGateBlocksUntilReleased(t *testing.T) {
	lm := NewLockManager(LockPolicyWait)
	lm.AcquireWriter()

	acquired := make(chan struct{})
	go func() {
		lm.AcquireWriter()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatalf("AcquireWriter returned while the gate was held")
	case <-time.After(50 * time.Millisecond):
	}

	lm.ReleaseWriter()

	select {
	case <-acquired:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("AcquireWriter never unblocked after release")
	}
	lm.ReleaseWriter()
}

func TestEpochMuExcludesConcurrentPromotions(t *testing.T) {
	lm := NewLockManager(LockPolicyWait)
	var wg sync.WaitGroup
	var order []int
	var mu sync.Mutex

	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.EpochMu.Lock()
			defer lm.EpochMu.Unlock()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			time.Sleep(time.Millisecond)
		}()
	}
	wg.Wait()
	if len(order) != 4 {
		t.Fatalf("expected 4 serialized promotions, got %d", len(order))
	}
}
