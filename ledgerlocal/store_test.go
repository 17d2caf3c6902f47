// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func insertDirect(t *testing.T, store *Store, rec *Record) {
	t.Helper()
	require.NoError(t, store.WithTx(context.Background(), func(tx *sql.Tx) error {
		return insertTx(context.Background(), tx, rec)
	}))
}

func testRecord(table, id string, status SyncStatus) *Record {
	return &Record{
		Table:     table,
		ID:        id,
		UserID:    testUser,
		Version:   1,
		Status:    status,
		Payload:   json.RawMessage(`{"name":"x"}`),
		UpdatedAt: time.Now().UTC(),
	}
}

func TestStoreInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("categories", "c1", StatusPending)
	insertDirect(t, store, rec)

	got, err := store.Get(ctx, "categories", "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "c1", got.ID)
	require.Equal(t, testUser, got.UserID)
	require.Equal(t, int64(1), got.Version)
	require.Equal(t, StatusPending, got.Status)
	require.Nil(t, got.DeletedAt)
	require.False(t, got.EverSynced)
	require.JSONEq(t, `{"name":"x"}`, string(got.Payload))

	missing, err := store.Get(ctx, "categories", "nope")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestStoreScopes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := testRecord("categories", "active", StatusSynced)
	insertDirect(t, store, active)

	pendingDeleted := testRecord("categories", "pending-del", StatusPending)
	now := time.Now().UTC()
	pendingDeleted.DeletedAt = &now
	insertDirect(t, store, pendingDeleted)

	conflicted := testRecord("categories", "conflicted", StatusConflict)
	insertDirect(t, store, conflicted)

	// Active scope hides the tombstone.
	recs, err := store.Query(ctx, testUser, ScopeActive)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.Nil(t, r.DeletedAt)
	}

	// Status scopes are independent of tombstone state.
	recs, err = store.Query(ctx, testUser, ScopePending)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "pending-del", recs[0].ID)

	recs, err = store.Query(ctx, testUser, ScopeConflict)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "conflicted", recs[0].ID)

	recs, err = store.Query(ctx, testUser, ScopeAny)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	// Queries are user-scoped.
	recs, err = store.Query(ctx, "someone-else", ScopeAny)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestStoreQueryPredicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := testRecord("categories", "root", StatusSynced)
	root.Payload = json.RawMessage(`{"name":"Food"}`)
	insertDirect(t, store, root)

	child := testRecord("categories", "child", StatusSynced)
	child.Payload = json.RawMessage(`{"name":"Groceries","parent_id":"root"}`)
	insertDirect(t, store, child)

	other := testRecord("accounts", "acc", StatusSynced)
	insertDirect(t, store, other)

	recs, err := store.Query(ctx, testUser, ScopeActive, WithTable("categories"))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs, err = store.Query(ctx, testUser, ScopeActive,
		WithTable("categories"), WithPayloadField("parent_id", "root"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "child", recs[0].ID)

	recs, err = store.Query(ctx, testUser, ScopeActive,
		WithTable("categories"), WithPayloadFieldAbsent("parent_id"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "root", recs[0].ID)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertTx(ctx, tx, testRecord("categories", "c1", StatusPending)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, "categories", "c1")
	require.NoError(t, err)
	require.Nil(t, got)
}
