// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package ledgerlocal implements an embeddable offline-first write engine for
// a single-writer-per-record, eventually-consistent data store.
//
// All application reads and writes go through the local SQLite store first;
// records carry a server-acknowledged version counter, a tombstone timestamp
// and a sync status. A mutation lock registry buffers local edits issued
// while a record is mid-push, and a conflict surface lets users retry or
// discard records whose push was rejected.
package ledgerlocal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// TableSpec registers a syncable table with the repository. ParentField, when
// set, names the top-level payload field holding the id of the record's
// parent in the same table; such tables are limited to two hierarchy levels.
type TableSpec struct {
	Name        string
	ParentField string
}

// Config holds configuration for the local repository and its sync loop.
type Config struct {
	Tables         []TableSpec
	LockStaleAfter time.Duration // force-release bound for abandoned push locks
	UploadLimit    int           // max records collected per push round
	BackoffMin     time.Duration
	BackoffMax     time.Duration
}

// DefaultConfig returns a configuration for the given tables with the stock
// limits and backoff bounds.
func DefaultConfig(tables []TableSpec) *Config {
	return &Config{
		Tables:         tables,
		LockStaleAfter: DefaultLockStaleAfter,
		UploadLimit:    200,
		BackoffMin:     1 * time.Second,
		BackoffMax:     60 * time.Second,
	}
}

// WriteResult is the outcome of a successful Update or Delete. When Buffered
// is true the write was accepted but deferred because a push for the record
// was in flight; Record then carries an optimistic projection of the stored
// fields overlaid with the requested changes, so callers can render
// immediately.
type WriteResult struct {
	Record   *Record
	Buffered bool
}

// Repository is the primary contract consumed by the UI/service layer. It
// owns the local store, the lock registry and the version rules; everything
// it returns or accepts crosses the boundary as values, never panics.
type Repository struct {
	store  *Store
	locks  *LockManager
	clock  Clock
	newID  func() string
	logger *slog.Logger
	config *Config
	tables map[string]TableSpec
	kick   func() // optional sync nudge, registered by the Syncer
}

// NewRepository initializes the local store schema and returns a repository
// over it.
func NewRepository(db *sql.DB, config *Config) (*Repository, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(config.Tables) == 0 {
		return nil, fmt.Errorf("config.Tables must register at least one table")
	}
	tables := make(map[string]TableSpec, len(config.Tables))
	for _, t := range config.Tables {
		if t.Name == "" {
			return nil, fmt.Errorf("table name cannot be empty")
		}
		if _, dup := tables[t.Name]; dup {
			return nil, fmt.Errorf("table %q registered twice", t.Name)
		}
		tables[t.Name] = t
	}

	store, err := NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local store: %w", err)
	}

	clock := newMonotonicClock()
	return &Repository{
		store:  store,
		locks:  NewLockManager(config.LockStaleAfter, clock),
		clock:  clock,
		newID:  NewRecordID,
		logger: slog.Default(),
		config: config,
		tables: tables,
	}, nil
}

// Store exposes the underlying local store for scoped read access.
func (r *Repository) Store() *Store { return r.store }

// Locks exposes the lock registry, mainly for diagnostics.
func (r *Repository) Locks() *LockManager { return r.locks }

// Applier returns the sync-response seam for this repository. It is the only
// handle through which versions are bumped and synced/conflict statuses set;
// hand it to the sync driver and nothing else.
func (r *Repository) Applier() *Applier {
	return &Applier{repo: r}
}

func (r *Repository) tableSpec(table string) (TableSpec, error) {
	spec, ok := r.tables[table]
	if !ok {
		return TableSpec{}, &StructuralError{Table: table, Reason: ReasonUnregisteredTable}
	}
	return spec, nil
}

// GetAll returns the user's active records in a table, tombstones excluded.
func (r *Repository) GetAll(ctx context.Context, userID, table string, preds ...QueryPredicate) ([]*Record, error) {
	if _, err := r.tableSpec(table); err != nil {
		return nil, err
	}
	all := append([]QueryPredicate{WithTable(table)}, preds...)
	recs, err := r.store.Query(ctx, userID, ScopeActive, all...)
	if err != nil {
		return nil, storeErr("getAll", err)
	}
	return recs, nil
}

// GetByID returns a single active record. Absent, foreign-owned and
// tombstoned records all produce the same NotFoundError.
func (r *Repository) GetByID(ctx context.Context, userID, table, id string) (*Record, error) {
	if _, err := r.tableSpec(table); err != nil {
		return nil, err
	}
	return r.getVisible(ctx, userID, table, id)
}

func (r *Repository) getVisible(ctx context.Context, userID, table, id string) (*Record, error) {
	rec, err := r.store.Get(ctx, table, id)
	if err != nil {
		return nil, storeErr("get", err)
	}
	if rec == nil || rec.UserID != userID || rec.Deleted() {
		return nil, &NotFoundError{Table: table, ID: id}
	}
	return rec, nil
}

// Create inserts a new record with a client-generated id, version 1 and
// pending status. Hierarchy pre-checks run before anything is written.
func (r *Repository) Create(ctx context.Context, userID, table string, payload json.RawMessage) (*Record, error) {
	spec, err := r.tableSpec(table)
	if err != nil {
		return nil, err
	}
	fields, err := decodeObject(payload)
	if err != nil {
		return nil, &StructuralError{Table: table, Reason: ReasonBadPayload}
	}
	if spec.ParentField != "" {
		parentID := stringField(fields, spec.ParentField)
		if err := r.checkParent(ctx, userID, spec, "", parentID); err != nil {
			return nil, err
		}
	}

	now := r.clock.Now()
	rec := &Record{
		Table:     table,
		ID:        r.newID(),
		UserID:    userID,
		Version:   1,
		Status:    StatusPending,
		Payload:   payload,
		UpdatedAt: now,
	}
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return insertTx(ctx, tx, rec)
	})
	if err != nil {
		return nil, storeErr("create", err)
	}
	r.logger.Debug("record created locally", "table", table, "pk", rec.ID)
	return rec, nil
}

// Update merges patch into the record's payload and queues it for push.
//
// Version rules: a pending record skips the optimistic check entirely (local
// edits coalesce into one outgoing sync); a synced record requires
// claimedVersion to equal the stored version. The stored version is never
// bumped here. A record in conflict status refuses edits until resolved.
//
// When a push for the record is in flight the patch is buffered instead and
// the result is tagged Buffered with an optimistic projection.
func (r *Repository) Update(ctx context.Context, userID, table, id string, patch json.RawMessage, claimedVersion int64) (WriteResult, error) {
	spec, err := r.tableSpec(table)
	if err != nil {
		return WriteResult{}, err
	}
	rec, err := r.getVisible(ctx, userID, table, id)
	if err != nil {
		return WriteResult{}, err
	}
	if err := r.checkWritable(rec, claimedVersion); err != nil {
		return WriteResult{}, err
	}

	patchFields, err := decodeObject(patch)
	if err != nil {
		return WriteResult{}, &StructuralError{Table: table, ID: id, Reason: ReasonBadPayload}
	}
	if spec.ParentField != "" {
		if raw, touched := patchFields[spec.ParentField]; touched {
			newParent := stringValue(raw)
			if err := r.checkReparent(ctx, userID, spec, rec, newParent); err != nil {
				return WriteResult{}, err
			}
		}
	}

	merged, err := mergePatch(rec.Payload, patchFields)
	if err != nil {
		return WriteResult{}, &StructuralError{Table: table, ID: id, Reason: ReasonBadPayload}
	}

	if r.locks.CheckAndBuffer(table, id, &BufferedPatch{Patch: patch}) {
		projected := rec.clone()
		projected.Payload = merged
		projected.Status = StatusPending
		r.logger.Debug("local update buffered behind in-flight push", "table", table, "pk", id)
		return WriteResult{Record: projected, Buffered: true}, nil
	}

	now := r.clock.Now()
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return updateLocalTx(ctx, tx, rec, merged, nil, now)
	})
	if err != nil {
		return WriteResult{}, storeErr("update", err)
	}
	rec.Payload = merged
	rec.Status = StatusPending
	rec.UpdatedAt = now
	return WriteResult{Record: rec}, nil
}

// Delete tombstones a record (soft delete) and queues the deletion for push.
// Hierarchical records with active children are refused before the lock
// manager is ever consulted. Under an in-flight push the tombstone is
// buffered like any other write.
func (r *Repository) Delete(ctx context.Context, userID, table, id string, claimedVersion int64) (WriteResult, error) {
	spec, err := r.tableSpec(table)
	if err != nil {
		return WriteResult{}, err
	}
	rec, err := r.getVisible(ctx, userID, table, id)
	if err != nil {
		return WriteResult{}, err
	}
	if err := r.checkWritable(rec, claimedVersion); err != nil {
		return WriteResult{}, err
	}
	if spec.ParentField != "" {
		children, err := r.hasActiveChildren(ctx, userID, spec, id)
		if err != nil {
			return WriteResult{}, err
		}
		if children {
			return WriteResult{}, &StructuralError{Table: table, ID: id, Reason: ReasonHasChildren}
		}
	}

	if r.locks.CheckAndBuffer(table, id, &BufferedPatch{Tombstone: true}) {
		now := r.clock.Now()
		projected := rec.clone()
		projected.DeletedAt = &now
		projected.Status = StatusPending
		r.logger.Debug("local delete buffered behind in-flight push", "table", table, "pk", id)
		return WriteResult{Record: projected, Buffered: true}, nil
	}

	now := r.clock.Now()
	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return updateLocalTx(ctx, tx, rec, rec.Payload, &now, now)
	})
	if err != nil {
		return WriteResult{}, storeErr("delete", err)
	}
	rec.DeletedAt = &now
	rec.Status = StatusPending
	rec.UpdatedAt = now
	return WriteResult{Record: rec}, nil
}

// GetPendingRecords lists the user's records awaiting a push, across all
// registered tables. Tombstoned records are included: deletions propagate
// through the same queue.
func (r *Repository) GetPendingRecords(ctx context.Context, userID string, preds ...QueryPredicate) ([]*Record, error) {
	recs, err := r.store.Query(ctx, userID, ScopePending, preds...)
	if err != nil {
		return nil, storeErr("getPendingRecords", err)
	}
	return recs, nil
}

// GetConflictRecords lists the user's conflicted records as user-facing
// local-vs-server views, across all registered tables.
func (r *Repository) GetConflictRecords(ctx context.Context, userID string, preds ...QueryPredicate) ([]*ConflictRecord, error) {
	recs, err := r.store.Query(ctx, userID, ScopeConflict, preds...)
	if err != nil {
		return nil, storeErr("getConflictRecords", err)
	}
	out := make([]*ConflictRecord, 0, len(recs))
	for _, rec := range recs {
		view := &ConflictRecord{
			Table:        rec.Table,
			ID:           rec.ID,
			LocalVersion: rec.Version,
			LocalData:    rec.Payload,
			ServerData:   rec.ServerData,
		}
		if rec.ServerVersion != nil {
			view.ServerVersion = *rec.ServerVersion
		}
		out = append(out, view)
	}
	return out, nil
}

// checkWritable enforces the status/version rules shared by Update and
// Delete. Pending records are writable unconditionally; synced records need a
// matching claimed version; conflicted records must be resolved first.
func (r *Repository) checkWritable(rec *Record, claimedVersion int64) error {
	switch rec.Status {
	case StatusPending:
		return nil
	case StatusSynced:
		if claimedVersion != rec.Version {
			return &VersionConflictError{Table: rec.Table, ID: rec.ID, Claimed: claimedVersion, Actual: rec.Version}
		}
		return nil
	case StatusConflict:
		return &StructuralError{Table: rec.Table, ID: rec.ID, Reason: ReasonConflictUnresolved}
	default:
		return fmt.Errorf("record %s/%s has unknown sync status %q", rec.Table, rec.ID, rec.Status)
	}
}

// checkParent validates that parentID can serve as a parent: it must exist,
// belong to the same user, be active, and itself be a root (two-level limit).
func (r *Repository) checkParent(ctx context.Context, userID string, spec TableSpec, selfID, parentID string) error {
	if parentID == "" {
		return nil
	}
	if selfID != "" && parentID == selfID {
		return &StructuralError{Table: spec.Name, ID: selfID, Reason: ReasonSelfParent}
	}
	parent, err := r.store.Get(ctx, spec.Name, parentID)
	if err != nil {
		return storeErr("checkParent", err)
	}
	if parent == nil || parent.UserID != userID || parent.Deleted() {
		return &StructuralError{Table: spec.Name, ID: selfID, Reason: ReasonParentMissing}
	}
	parentFields, err := decodeObject(parent.Payload)
	if err != nil {
		return storeErr("checkParent", fmt.Errorf("corrupt payload on %s/%s: %w", spec.Name, parentID, err))
	}
	if stringField(parentFields, spec.ParentField) != "" {
		return &StructuralError{Table: spec.Name, ID: selfID, Reason: ReasonParentNotRoot}
	}
	return nil
}

// checkReparent validates moving rec under newParent. A record that has
// active children of its own cannot be nested, that would exceed the
// two-level limit.
func (r *Repository) checkReparent(ctx context.Context, userID string, spec TableSpec, rec *Record, newParent string) error {
	if newParent == "" {
		return nil
	}
	if err := r.checkParent(ctx, userID, spec, rec.ID, newParent); err != nil {
		return err
	}
	children, err := r.hasActiveChildren(ctx, userID, spec, rec.ID)
	if err != nil {
		return err
	}
	if children {
		return &StructuralError{Table: spec.Name, ID: rec.ID, Reason: ReasonDepthExceeded}
	}
	return nil
}

func (r *Repository) hasActiveChildren(ctx context.Context, userID string, spec TableSpec, id string) (bool, error) {
	children, err := r.store.Query(ctx, userID, ScopeActive,
		WithTable(spec.Name), WithPayloadField(spec.ParentField, id))
	if err != nil {
		return false, storeErr("hasActiveChildren", err)
	}
	return len(children) > 0, nil
}

func (r *Repository) registerKick(kick func()) {
	r.kick = kick
}

// decodeObject parses a JSON object into its top-level fields.
func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("payload is JSON null")
	}
	return fields, nil
}

// mergePatch overlays patch fields onto the base payload, top-level
// last-write-wins.
func mergePatch(base json.RawMessage, patch map[string]json.RawMessage) (json.RawMessage, error) {
	fields, err := decodeObject(base)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		fields[k] = v
	}
	return json.Marshal(fields)
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	return stringValue(raw)
}

func stringValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
