// Package lock implements the engine-wide lock service: a shared/exclusive
// gate over the whole file plus a per-collection exclusive write lock,
// scoped to transactions so nested acquisitions by the same transaction
// never deadlock against themselves (spec §4.4 "C5 lock service").
package lock

import (
	"fmt"
	"sync"
	"time"

	"github.com/duskdb/duskdb/dberr"
)

// Policy controls what happens when a lock is already held.
type Policy int

const (
	// Wait blocks up to the configured timeout.
	Wait Policy = iota
	// Fail returns immediately with dberr.ErrLockTimeout.
	Fail
)

// DefaultTimeout matches the TIMEOUT pragma's default (spec §6).
const DefaultTimeout = 1 * time.Minute

// Manager is the engine's lock service: one shared/exclusive gate plus
// independent per-collection write locks. The query executor takes only the
// per-collection write locks; no read, Rebuild or Checkpoint path acquires
// the gate.
type Manager struct {
	mu      sync.Mutex
	policy  Policy
	timeout time.Duration

	gate  *rwGate
	write map[string]*writeLock

	// txScope tracks which (collection, txnID) pairs the calling
	// transaction already holds, so repeated acquisitions within the same
	// transaction are no-ops rather than self-deadlocks.
	txScope map[scopeKey]bool
}

type scopeKey struct {
	collection string
	txnID      uint32
}

// NewManager creates a lock service with the given contention policy.
func NewManager(policy Policy) *Manager {
	return &Manager{
		policy:  policy,
		timeout: DefaultTimeout,
		gate:    newRWGate(),
		write:   make(map[string]*writeLock),
		txScope: make(map[scopeKey]bool),
	}
}

// SetTimeout overrides the default lock-wait timeout (the TIMEOUT pragma).
func (m *Manager) SetTimeout(d time.Duration) { m.mu.Lock(); m.timeout = d; m.mu.Unlock() }

// AcquireShared takes the engine-wide shared gate; any number of shared
// holders may hold it at once.
func (m *Manager) AcquireShared() error {
	return m.wait(m.gate.lockShared)
}

// ReleaseShared releases a previously acquired shared gate hold.
func (m *Manager) ReleaseShared() { m.gate.unlockShared() }

// AcquireExclusive takes the engine-wide exclusive gate, blocking out every
// other shared or exclusive holder.
func (m *Manager) AcquireExclusive() error {
	return m.wait(m.gate.lockExclusive)
}

// ReleaseExclusive releases a previously acquired exclusive gate hold.
func (m *Manager) ReleaseExclusive() { m.gate.unlockExclusive() }

// AcquireWrite takes the exclusive write lock for one collection, scoped to
// txnID: a second call with the same (collection, txnID) pair succeeds
// immediately (reentrant within one transaction), while a different
// transaction contends normally.
func (m *Manager) AcquireWrite(collection string, txnID uint32) error {
	key := scopeKey{collection, txnID}

	m.mu.Lock()
	if m.txScope[key] {
		m.mu.Unlock()
		return nil
	}
	wl, ok := m.write[collection]
	if !ok {
		wl = newWriteLock()
		m.write[collection] = wl
	}
	m.mu.Unlock()

	if err := m.wait(wl.lock); err != nil {
		return err
	}

	m.mu.Lock()
	m.txScope[key] = true
	m.mu.Unlock()
	return nil
}

// ReleaseWrite releases the write lock for (collection, txnID) if this
// transaction actually holds it.
func (m *Manager) ReleaseWrite(collection string, txnID uint32) {
	key := scopeKey{collection, txnID}

	m.mu.Lock()
	held := m.txScope[key]
	delete(m.txScope, key)
	wl := m.write[collection]
	m.mu.Unlock()

	if held && wl != nil {
		wl.unlock()
	}
}

// ReleaseAll drops every write-lock scope held by txnID, called on
// transaction commit/rollback so a forgotten Release never wedges the
// collection.
func (m *Manager) ReleaseAll(txnID uint32) {
	m.mu.Lock()
	var toRelease []string
	for key := range m.txScope {
		if key.txnID == txnID {
			toRelease = append(toRelease, key.collection)
			delete(m.txScope, key)
		}
	}
	m.mu.Unlock()

	for _, coll := range toRelease {
		m.mu.Lock()
		wl := m.write[coll]
		m.mu.Unlock()
		if wl != nil {
			wl.unlock()
		}
	}
}

func (m *Manager) wait(acquire func(timeout time.Duration) bool) error {
	m.mu.Lock()
	policy, timeout := m.policy, m.timeout
	m.mu.Unlock()

	if policy == Fail {
		if !acquire(0) {
			return dberr.ErrLockTimeout
		}
		return nil
	}
	if !acquire(timeout) {
		return fmt.Errorf("%w: after %s", dberr.ErrLockTimeout, timeout)
	}
	return nil
}

// writeLock is a simple mutex with a timed, non-reentrant Lock.
type writeLock struct {
	ch chan struct{}
}

func newWriteLock() *writeLock {
	wl := &writeLock{ch: make(chan struct{}, 1)}
	wl.ch <- struct{}{}
	return wl
}

func (wl *writeLock) lock(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-wl.ch:
			return true
		default:
			return false
		}
	}
	select {
	case <-wl.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (wl *writeLock) unlock() {
	select {
	case wl.ch <- struct{}{}:
	default:
	}
}

// rwGate is a shared/exclusive gate: any number of shared holders run
// concurrently, but an exclusive holder runs alone.
type rwGate struct {
	mu      sync.Mutex
	readers int
	writer  bool
	cond    *sync.Cond
}

func newRWGate() *rwGate {
	g := &rwGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *rwGate) lockShared(timeout time.Duration) bool {
	return g.waitUntil(timeout, func() bool { return !g.writer }, func() { g.readers++ })
}

func (g *rwGate) unlockShared() {
	g.mu.Lock()
	g.readers--
	g.cond.Broadcast()
	g.mu.Unlock()
}

func (g *rwGate) lockExclusive(timeout time.Duration) bool {
	return g.waitUntil(timeout, func() bool { return !g.writer && g.readers == 0 }, func() { g.writer = true })
}

func (g *rwGate) unlockExclusive() {
	g.mu.Lock()
	g.writer = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// waitUntil blocks (subject to timeout; timeout<=0 means try-once) until
// ready() is true, then runs claim() atomically and returns true. Returns
// false on timeout without claiming anything.
func (g *rwGate) waitUntil(timeout time.Duration, ready func() bool, claim func()) bool {
	g.mu.Lock()
	if ready() {
		claim()
		g.mu.Unlock()
		return true
	}
	if timeout <= 0 {
		g.mu.Unlock()
		return false
	}
	g.mu.Unlock()

	deadline := time.Now().Add(timeout)
	done := make(chan bool, 1)
	go func() {
		g.mu.Lock()
		for !ready() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				g.mu.Unlock()
				done <- false
				return
			}
			timer := time.AfterFunc(remaining, func() {
				g.mu.Lock()
				g.cond.Broadcast()
				g.mu.Unlock()
			})
			g.cond.Wait()
			timer.Stop()
		}
		claim()
		g.mu.Unlock()
		done <- true
	}()
	return <-done
}
