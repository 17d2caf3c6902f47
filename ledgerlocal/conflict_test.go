// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func newConflictedRecord(t *testing.T, repo *Repository) *Record {
	t.Helper()
	ctx := context.Background()
	rec := createRecord(t, repo, "categories", map[string]any{"name": "Food"})
	markSynced(t, repo, "categories", rec.ID, 2)
	_, err := repo.Update(ctx, testUser, "categories", rec.ID,
		obj(t, map[string]any{"name": "Food-local"}), 2)
	require.NoError(t, err)
	require.NoError(t, repo.Applier().MarkConflict(ctx, "categories", rec.ID, 4,
		json.RawMessage(`{"name":"Food-server"}`)))
	return rec
}

func TestRetryConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec := newConflictedRecord(t, repo)

	outcome, err := repo.RetryConflict(ctx, testUser, "categories", rec.ID)
	require.NoError(t, err)
	require.False(t, outcome.SyncTriggered, "no sync driver attached")

	got, err := repo.GetByID(ctx, testUser, "categories", rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Equal(t, int64(2), got.Version, "local version survives the retry")
	require.Equal(t, "Food-local", payloadField(t, got, "name"), "local fields are kept")
	require.Nil(t, got.ServerVersion)
	require.Nil(t, got.ServerData)

	conflicts, err := repo.GetConflictRecords(ctx, testUser)
	require.NoError(t, err)
	require.Empty(t, conflicts)
}

func TestDiscardConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec := newConflictedRecord(t, repo)

	require.NoError(t, repo.DiscardConflict(ctx, testUser, "categories", rec.ID))

	// Hard delete, not a tombstone.
	gone, err := repo.Store().Get(ctx, "categories", rec.ID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestResolutionRequiresConflictStatus(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pending := createRecord(t, repo, "categories", map[string]any{"name": "P"})
	_, err := repo.RetryConflict(ctx, testUser, "categories", pending.ID)
	require.True(t, IsStructural(err, ReasonNotInConflict))
	err = repo.DiscardConflict(ctx, testUser, "categories", pending.ID)
	require.True(t, IsStructural(err, ReasonNotInConflict))

	synced := createRecord(t, repo, "categories", map[string]any{"name": "S"})
	markSynced(t, repo, "categories", synced.ID, 1)
	_, err = repo.RetryConflict(ctx, testUser, "categories", synced.ID)
	require.True(t, IsStructural(err, ReasonNotInConflict))
	err = repo.DiscardConflict(ctx, testUser, "categories", synced.ID)
	require.True(t, IsStructural(err, ReasonNotInConflict))

	// A double-discard races straight into NotFound, never a silent no-op.
	conflicted := newConflictedRecord(t, repo)
	require.NoError(t, repo.DiscardConflict(ctx, testUser, "categories", conflicted.ID))
	err = repo.DiscardConflict(ctx, testUser, "categories", conflicted.ID)
	require.True(t, IsNotFound(err))
}

func TestConflictResolutionOwnership(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec := newConflictedRecord(t, repo)

	_, err := repo.RetryConflict(ctx, "other-user", "categories", rec.ID)
	require.True(t, IsNotFound(err))
	err = repo.DiscardConflict(ctx, "other-user", "categories", rec.ID)
	require.True(t, IsNotFound(err))
}

func TestRejectedDeleteStaysResolvable(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := createRecord(t, repo, "accounts", map[string]any{"name": "Cash"})
	markSynced(t, repo, "accounts", rec.ID, 2)
	_, err := repo.Delete(ctx, testUser, "accounts", rec.ID, 2)
	require.NoError(t, err)
	require.NoError(t, repo.Applier().MarkConflict(ctx, "accounts", rec.ID, 3, nil))

	// Tombstoned and conflicted at once: normal reads miss it, the
	// resolution surface still reaches it.
	_, err = repo.GetByID(ctx, testUser, "accounts", rec.ID)
	require.True(t, IsNotFound(err))

	outcome, err := repo.RetryConflict(ctx, testUser, "accounts", rec.ID)
	require.NoError(t, err)
	require.False(t, outcome.SyncTriggered)

	pending, err := repo.GetPendingRecords(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].DeletedAt, "the tombstone survives the retry")
}
