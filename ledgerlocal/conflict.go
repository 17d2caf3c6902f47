// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"database/sql"
)

// RetryOutcome reports how a conflict retry was scheduled.
type RetryOutcome struct {
	// SyncTriggered is true when a sync driver is attached and an immediate
	// push attempt was kicked off.
	SyncTriggered bool
}

// RetryConflict requeues a conflicted record as pending, keeping its local
// field values so the next push re-offers them to the server. Fails with a
// structural error when the record is not currently in conflict status, so a
// stale UI action cannot silently requeue the wrong record.
func (r *Repository) RetryConflict(ctx context.Context, userID, table, id string) (RetryOutcome, error) {
	rec, err := r.getConflicted(ctx, userID, table, id)
	if err != nil {
		return RetryOutcome{}, err
	}

	now := r.clock.Now()
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return resetPendingTx(ctx, tx, rec.Table, rec.ID, now)
	})
	if err != nil {
		return RetryOutcome{}, storeErr("retryConflict", err)
	}
	r.logger.Debug("conflict requeued for retry", "table", table, "pk", id)

	if r.kick != nil {
		r.kick()
		return RetryOutcome{SyncTriggered: true}, nil
	}
	return RetryOutcome{}, nil
}

// DiscardConflict removes the local divergent copy of a conflicted record
// entirely (a hard row delete, not a tombstone). The server's copy stays
// authoritative and is expected to be pulled down by the sync driver. Fails
// with a structural error when the record is not in conflict status.
func (r *Repository) DiscardConflict(ctx context.Context, userID, table, id string) error {
	rec, err := r.getConflicted(ctx, userID, table, id)
	if err != nil {
		return err
	}

	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return hardDeleteTx(ctx, tx, rec.Table, rec.ID)
	})
	if err != nil {
		return storeErr("discardConflict", err)
	}
	r.logger.Debug("conflicted local copy discarded", "table", table, "pk", id)
	return nil
}

// getConflicted loads a record for conflict resolution. Tombstoned records
// are still reachable here: a rejected delete sits in conflict status with
// its tombstone set and must remain resolvable.
func (r *Repository) getConflicted(ctx context.Context, userID, table, id string) (*Record, error) {
	if _, err := r.tableSpec(table); err != nil {
		return nil, err
	}
	rec, err := r.store.Get(ctx, table, id)
	if err != nil {
		return nil, storeErr("getConflicted", err)
	}
	if rec == nil || rec.UserID != userID {
		return nil, &NotFoundError{Table: table, ID: id}
	}
	if rec.Status != StatusConflict {
		return nil, &StructuralError{Table: table, ID: id, Reason: ReasonNotInConflict}
	}
	return rec, nil
}
