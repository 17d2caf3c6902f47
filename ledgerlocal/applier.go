// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Applier is the seam between local writes and server truth: it is the only
// type in the package that can bump a record's version or move it to
// synced/conflict status. Obtain one via Repository.Applier and hand it to
// the sync driver; ordinary UI-triggered paths never see it.
type Applier struct {
	repo *Repository
}

// CollectPending gathers up to limit of the user's pending records, acquires
// the mutation lock for each, and returns them as outgoing changes. Records
// whose lock is already held (a previous push still in flight) are skipped.
// limit <= 0 selects the configured upload limit.
func (a *Applier) CollectPending(ctx context.Context, userID string, limit int) ([]PendingChange, error) {
	if limit <= 0 {
		limit = a.repo.config.UploadLimit
	}
	if limit <= 0 {
		limit = 200
	}
	recs, err := a.repo.store.Query(ctx, userID, ScopePending)
	if err != nil {
		return nil, storeErr("collectPending", err)
	}

	var changes []PendingChange
	for _, rec := range recs {
		if len(changes) >= limit {
			break
		}
		if !a.repo.locks.Acquire(rec.Table, rec.ID) {
			continue
		}
		ch := PendingChange{
			Table:       rec.Table,
			ID:          rec.ID,
			Op:          OpUpdate,
			BaseVersion: rec.Version,
			Payload:     rec.Payload,
		}
		switch {
		case rec.Deleted():
			ch.Op = OpDelete
			ch.Payload = nil
		case !rec.EverSynced:
			ch.Op = OpInsert
		}
		changes = append(changes, ch)
	}
	return changes, nil
}

// ApplyResults processes the server's verdicts, one per pushed change. Every
// result releases its record's lock exactly once and flushes any patch that
// was buffered while the push was in flight, on the success path and the
// conflict path alike.
func (a *Applier) ApplyResults(ctx context.Context, results []PushResult) error {
	var errs []error
	for _, res := range results {
		var err error
		switch res.Status {
		case StApplied:
			err = a.MarkSynced(ctx, res.Table, res.ID, res.NewServerVersion)
		case StConflict:
			err = a.MarkConflict(ctx, res.Table, res.ID, res.ServerVersion, res.ServerRow)
		default:
			// Leave the record pending; it will be retried next round.
			a.repo.logger.Warn("push result with unexpected status, leaving record pending",
				"table", res.Table, "pk", res.ID, "status", res.Status)
		}
		if err != nil {
			errs = append(errs, err)
		}
		if err := a.ReleaseAndFlush(ctx, res.Table, res.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReleaseAll releases the locks for changes, flushing buffered patches. Used
// when a push fails wholesale before producing per-change results; records
// stay pending and will be re-collected.
func (a *Applier) ReleaseAll(ctx context.Context, changes []PendingChange) error {
	var errs []error
	for _, ch := range changes {
		if err := a.ReleaseAndFlush(ctx, ch.Table, ch.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReleaseStale force-releases abandoned push locks and flushes their buffered
// patches, bounding how long a crashed driver can park a record.
func (a *Applier) ReleaseStale(ctx context.Context) error {
	var errs []error
	for _, s := range a.repo.locks.ReleaseStale() {
		a.repo.logger.Warn("force-released stale push lock", "table", s.Table, "pk", s.ID)
		if s.Buffered != nil {
			if err := a.flushBuffered(ctx, s.Table, s.ID, s.Buffered); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// MarkSynced records a server acknowledgment: version becomes the
// server-provided value and the record turns synced. This is the single path
// in the package that writes version.
func (a *Applier) MarkSynced(ctx context.Context, table, id string, serverVersion int64) error {
	if serverVersion < 1 {
		return fmt.Errorf("server version must be >= 1, got %d for %s/%s", serverVersion, table, id)
	}
	now := a.repo.clock.Now()
	err := a.repo.store.WithTx(ctx, func(tx *sql.Tx) error {
		return markSyncedTx(ctx, tx, table, id, serverVersion, now)
	})
	if err != nil {
		return storeErr("markSynced", err)
	}
	a.repo.logger.Debug("record synced", "table", table, "pk", id, "server_version", serverVersion)
	return nil
}

// MarkConflict records a push rejection: the record turns conflict and keeps
// its local fields alongside the server's snapshot for user inspection. The
// local version is left untouched.
func (a *Applier) MarkConflict(ctx context.Context, table, id string, serverVersion int64, serverRow json.RawMessage) error {
	now := a.repo.clock.Now()
	err := a.repo.store.WithTx(ctx, func(tx *sql.Tx) error {
		return markConflictTx(ctx, tx, table, id, serverVersion, serverRow, now)
	})
	if err != nil {
		return storeErr("markConflict", err)
	}
	a.repo.logger.Debug("record conflicted", "table", table, "pk", id, "server_version", serverVersion)
	return nil
}

// ReleaseAndFlush releases the record's lock and, if a local write was
// buffered during the push window, applies it to the store. Releasing an
// unheld lock is a no-op, so calling this twice cannot double-apply.
func (a *Applier) ReleaseAndFlush(ctx context.Context, table, id string) error {
	buffered := a.repo.locks.Release(table, id)
	if buffered == nil {
		return nil
	}
	return a.flushBuffered(ctx, table, id, buffered)
}

// flushBuffered applies a buffered patch as a normal local write: the record
// goes back to pending with the patch merged in, version untouched. If the
// record meanwhile entered conflict status the fields are still applied but
// the conflict status is preserved: conflict can only leave via the
// resolution surface.
func (a *Applier) flushBuffered(ctx context.Context, table, id string, patch *BufferedPatch) error {
	rec, err := a.repo.store.Get(ctx, table, id)
	if err != nil {
		return storeErr("flushBuffered", err)
	}
	if rec == nil {
		a.repo.logger.Debug("buffered patch dropped, record gone", "table", table, "pk", id)
		return nil
	}

	payload := rec.Payload
	if patch.Patch != nil {
		fields, err := decodeObject(patch.Patch)
		if err != nil {
			return fmt.Errorf("corrupt buffered patch for %s/%s: %w", table, id, err)
		}
		payload, err = mergePatch(rec.Payload, fields)
		if err != nil {
			return fmt.Errorf("failed to merge buffered patch for %s/%s: %w", table, id, err)
		}
	}
	var deletedAt = rec.DeletedAt
	now := a.repo.clock.Now()
	if patch.Tombstone && deletedAt == nil {
		deletedAt = &now
	}

	err = a.repo.store.WithTx(ctx, func(tx *sql.Tx) error {
		if rec.Status == StatusConflict {
			return updateFieldsKeepStatusTx(ctx, tx, rec.Table, rec.ID, payload, deletedAt, now)
		}
		return updateLocalTx(ctx, tx, rec, payload, deletedAt, now)
	})
	if err != nil {
		return storeErr("flushBuffered", err)
	}
	a.repo.logger.Debug("buffered patch flushed", "table", table, "pk", id, "tombstone", patch.Tombstone)
	return nil
}
