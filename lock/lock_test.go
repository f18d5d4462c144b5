package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/duskdb/duskdb/dberr"
)

func TestWriteLockReentrantWithinTxn(t *testing.T) {
	m := NewManager(Wait)

	if err := m.AcquireWrite("col", 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.AcquireWrite("col", 1); err != nil {
		t.Fatalf("reentrant acquire within same txn: %v", err)
	}
	m.ReleaseWrite("col", 1)

	if err := m.AcquireWrite("col", 1); err != nil {
		t.Fatalf("re-acquire after release: %v", err)
	}
	m.ReleaseWrite("col", 1)
}

func TestWriteLockPolicyFail(t *testing.T) {
	m := NewManager(Fail)

	if err := m.AcquireWrite("col", 1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := m.AcquireWrite("col", 2); err == nil {
		t.Fatal("expected ErrLockTimeout from a different transaction")
	} else if err != dberr.ErrLockTimeout {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	m.ReleaseWrite("col", 1)

	if err := m.AcquireWrite("col", 2); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	m.ReleaseWrite("col", 2)
}

func TestWriteLockTimeout(t *testing.T) {
	m := NewManager(Wait)
	m.SetTimeout(100 * time.Millisecond)

	if err := m.AcquireWrite("col", 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := m.AcquireWrite("col", 2); err == nil {
		t.Fatal("expected timeout error")
	}
	m.ReleaseWrite("col", 1)
}

func TestWriteLockWaitsThenSucceeds(t *testing.T) {
	m := NewManager(Wait)
	m.SetTimeout(2 * time.Second)

	if err := m.AcquireWrite("col", 1); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		m.ReleaseWrite("col", 1)
	}()
	if err := m.AcquireWrite("col", 2); err != nil {
		t.Fatalf("waited acquire: %v", err)
	}
	m.ReleaseWrite("col", 2)
}

func TestDifferentCollectionsNoContention(t *testing.T) {
	m := NewManager(Fail)

	if err := m.AcquireWrite("col", 1); err != nil {
		t.Fatalf("acquire col: %v", err)
	}
	if err := m.AcquireWrite("other", 1); err != nil {
		t.Fatalf("acquire other: %v", err)
	}
	m.ReleaseWrite("col", 1)
	m.ReleaseWrite("other", 1)
}

func TestReleaseAllClearsEveryScope(t *testing.T) {
	m := NewManager(Fail)

	if err := m.AcquireWrite("a", 7); err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	if err := m.AcquireWrite("b", 7); err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	m.ReleaseAll(7)

	if err := m.AcquireWrite("a", 9); err != nil {
		t.Fatalf("acquire a after ReleaseAll: %v", err)
	}
	if err := m.AcquireWrite("b", 9); err != nil {
		t.Fatalf("acquire b after ReleaseAll: %v", err)
	}
	m.ReleaseAll(9)
}

func TestExclusiveGateBlocksShared(t *testing.T) {
	m := NewManager(Wait)
	m.SetTimeout(2 * time.Second)

	if err := m.AcquireExclusive(); err != nil {
		t.Fatalf("acquire exclusive: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.AcquireShared() }()

	select {
	case <-done:
		t.Fatal("shared lock acquired while exclusive gate was held")
	case <-time.After(50 * time.Millisecond):
	}

	m.ReleaseExclusive()
	if err := <-done; err != nil {
		t.Fatalf("shared acquire after exclusive release: %v", err)
	}
	m.ReleaseShared()
}

func TestConcurrentWriteLockContention(t *testing.T) {
	m := NewManager(Wait)
	m.SetTimeout(5 * time.Second)

	var wg sync.WaitGroup
	errCh := make(chan error, 1000)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id uint32) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if err := m.AcquireWrite("col", id); err != nil {
					errCh <- err
					return
				}
				m.ReleaseWrite("col", id)
			}
		}(uint32(i) + 1)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("lock error: %v", err)
	}
}
