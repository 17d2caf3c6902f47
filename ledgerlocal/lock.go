// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"encoding/json"
	"sync"
	"time"
)

// DefaultLockStaleAfter bounds how long a push may hold a record lock before
// the lock is considered abandoned and force-released.
const DefaultLockStaleAfter = 2 * time.Minute

type lockKey struct {
	table string
	id    string
}

// BufferedPatch is a local write captured while its record was mid-flight to
// the server. Coalescing is whole-patch last-write-wins: a later buffered
// write for the same record replaces an earlier one entirely (no field-level
// merge of two buffered patches).
type BufferedPatch struct {
	Patch     json.RawMessage // JSON object of changed fields; nil for a pure delete
	Tombstone bool            // true when the buffered write is a delete
}

type lockEntry struct {
	acquiredAt time.Time
	buffered   *BufferedPatch
}

// LockManager tracks which records currently have a push outstanding and
// buffers local writes issued during that window. One instance exists per
// repository; it is constructed and injected explicitly, never ambient.
type LockManager struct {
	mu         sync.Mutex
	staleAfter time.Duration
	clock      Clock
	locks      map[lockKey]*lockEntry
}

// NewLockManager creates a lock registry. staleAfter <= 0 selects
// DefaultLockStaleAfter.
func NewLockManager(staleAfter time.Duration, clock Clock) *LockManager {
	if staleAfter <= 0 {
		staleAfter = DefaultLockStaleAfter
	}
	if clock == nil {
		clock = newMonotonicClock()
	}
	return &LockManager{
		staleAfter: staleAfter,
		clock:      clock,
		locks:      make(map[lockKey]*lockEntry),
	}
}

// Acquire marks a record as mid-flight. Returns false if a lock is already
// held (the record is skipped by the current push round).
func (m *LockManager) Acquire(table, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lockKey{table, id}
	if _, held := m.locks[k]; held {
		return false
	}
	m.locks[k] = &lockEntry{acquiredAt: m.clock.Now()}
	return true
}

// Release removes the lock and hands back any patch buffered while it was
// held. Callers must flush the patch; returning nil means nothing was
// buffered. Releasing an unheld lock is a no-op.
func (m *LockManager) Release(table, id string) *BufferedPatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := lockKey{table, id}
	e, held := m.locks[k]
	if !held {
		return nil
	}
	delete(m.locks, k)
	return e.buffered
}

// IsLocked reports whether a push for the record is outstanding.
func (m *LockManager) IsLocked(table, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.locks[lockKey{table, id}]
	return held
}

// CheckAndBuffer stores patch as the pending buffered write when the record
// is locked, replacing any previously buffered patch for it, and reports
// whether buffering happened. When unlocked it does nothing and the caller
// proceeds with the normal write path.
func (m *LockManager) CheckAndBuffer(table, id string, patch *BufferedPatch) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, held := m.locks[lockKey{table, id}]
	if !held {
		return false
	}
	e.buffered = patch
	return true
}

// StaleLock describes a force-released abandoned lock.
type StaleLock struct {
	Table    string
	ID       string
	Buffered *BufferedPatch
}

// ReleaseStale force-releases locks older than the staleness bound and
// returns them so their buffered patches can still be flushed. A crashed or
// hung push therefore delays a record by at most staleAfter instead of
// parking it forever.
func (m *LockManager) ReleaseStale() []StaleLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock.Now().Add(-m.staleAfter)
	var stale []StaleLock
	for k, e := range m.locks {
		if e.acquiredAt.Before(cutoff) {
			stale = append(stale, StaleLock{Table: k.table, ID: k.id, Buffered: e.buffered})
			delete(m.locks, k)
		}
	}
	return stale
}

// HeldCount returns the number of outstanding locks.
func (m *LockManager) HeldCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
