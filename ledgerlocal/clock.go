// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"sync"
	"time"
)

// Clock supplies timestamps for tombstones and lock bookkeeping.
type Clock interface {
	Now() time.Time
}

// monotonicClock wraps the wall clock but guarantees strictly increasing
// timestamps, so two closely-spaced deletes on the same device never share a
// tombstone time even on platforms with coarse clock resolution.
type monotonicClock struct {
	mu   sync.Mutex
	last time.Time
}

func newMonotonicClock() *monotonicClock {
	return &monotonicClock{}
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now().UTC()
	if !now.After(c.last) {
		now = c.last.Add(time.Nanosecond)
	}
	c.last = now
	return now
}
