// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockAcquireRelease(t *testing.T) {
	m := NewLockManager(0, nil)

	require.True(t, m.Acquire("categories", "c1"))
	require.True(t, m.IsLocked("categories", "c1"))
	require.False(t, m.Acquire("categories", "c1"), "second acquire must fail while held")

	// Different records are independent.
	require.True(t, m.Acquire("categories", "c2"))
	require.Equal(t, 2, m.HeldCount())

	require.Nil(t, m.Release("categories", "c1"))
	require.False(t, m.IsLocked("categories", "c1"))

	// Releasing an unheld lock is a no-op.
	require.Nil(t, m.Release("categories", "c1"))
	require.Equal(t, 1, m.HeldCount())
}

func TestLockBufferingLastWriteWins(t *testing.T) {
	m := NewLockManager(0, nil)

	// Unlocked: nothing is buffered, caller takes the normal write path.
	require.False(t, m.CheckAndBuffer("categories", "c1", &BufferedPatch{Patch: json.RawMessage(`{"a":1}`)}))

	require.True(t, m.Acquire("categories", "c1"))
	require.True(t, m.CheckAndBuffer("categories", "c1", &BufferedPatch{Patch: json.RawMessage(`{"a":1}`)}))
	require.True(t, m.CheckAndBuffer("categories", "c1", &BufferedPatch{Patch: json.RawMessage(`{"b":2}`)}))

	buffered := m.Release("categories", "c1")
	require.NotNil(t, buffered)
	require.JSONEq(t, `{"b":2}`, string(buffered.Patch), "later buffered patch replaces the earlier one")

	// The buffer is consumed by release.
	require.True(t, m.Acquire("categories", "c1"))
	require.Nil(t, m.Release("categories", "c1"))
}

func TestLockReleaseStale(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewLockManager(time.Minute, clock)

	require.True(t, m.Acquire("categories", "stuck"))
	require.True(t, m.CheckAndBuffer("categories", "stuck", &BufferedPatch{Tombstone: true}))
	clock.advance(30 * time.Second)
	require.True(t, m.Acquire("categories", "fresh"))

	require.Empty(t, m.ReleaseStale(), "nothing stale yet")

	clock.advance(45 * time.Second)
	stale := m.ReleaseStale()
	require.Len(t, stale, 1)
	require.Equal(t, "stuck", stale[0].ID)
	require.NotNil(t, stale[0].Buffered)
	require.True(t, stale[0].Buffered.Tombstone)

	require.False(t, m.IsLocked("categories", "stuck"))
	require.True(t, m.IsLocked("categories", "fresh"))
}
