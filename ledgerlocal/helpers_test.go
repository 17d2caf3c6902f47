// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// A :memory: database exists per connection; keep the pool at one.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	cfg := DefaultConfig([]TableSpec{
		{Name: "categories", ParentField: "parent_id"},
		{Name: "accounts"},
	})
	repo, err := NewRepository(db, cfg)
	require.NoError(t, err)
	return repo
}

func obj(t *testing.T, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return raw
}

func createRecord(t *testing.T, repo *Repository, table string, fields map[string]any) *Record {
	t.Helper()
	rec, err := repo.Create(context.Background(), testUser, table, obj(t, fields))
	require.NoError(t, err)
	return rec
}

// markSynced acknowledges a record at the given server version, the way a
// push response would.
func markSynced(t *testing.T, repo *Repository, table, id string, serverVersion int64) {
	t.Helper()
	require.NoError(t, repo.Applier().MarkSynced(context.Background(), table, id, serverVersion))
}

func payloadField(t *testing.T, rec *Record, key string) any {
	t.Helper()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(rec.Payload, &fields))
	return fields[key]
}

// fakeClock is a manually advanced clock for staleness tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }
