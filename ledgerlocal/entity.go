// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"encoding/json"
	"time"
)

// SyncStatus is the local synchronization state of a record.
type SyncStatus string

const (
	// StatusPending marks local state not yet confirmed by the server.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks local state that matches the last known server state.
	StatusSynced SyncStatus = "synced"
	// StatusConflict marks a record whose last push was rejected because its
	// version did not match the server's current version.
	StatusConflict SyncStatus = "conflict"
)

// Operation constants for outgoing changes
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Push result status constants
const (
	StApplied  = "applied"
	StConflict = "conflict"
	StInvalid  = "invalid"
)

// Record is a syncable row in the local store. Domain fields live in Payload
// and are opaque to this package; everything else is sync bookkeeping.
//
// Version is the last version number acknowledged by the server. It starts at
// 1 on local creation and is only ever changed by the sync-response
// Applier; local edits never touch it.
type Record struct {
	Table     string
	ID        string
	UserID    string
	Version   int64
	DeletedAt *time.Time
	Status    SyncStatus
	Payload   json.RawMessage
	UpdatedAt time.Time

	// EverSynced is true once the server has acknowledged the record at least
	// once. Used to distinguish INSERT from UPDATE when queueing pushes.
	EverSynced bool

	// ServerVersion/ServerData hold the server-side snapshot reported with a
	// conflict rejection. Both are cleared when the conflict is resolved.
	ServerVersion *int64
	ServerData    json.RawMessage
}

// Deleted reports whether the record is tombstoned.
func (r *Record) Deleted() bool { return r.DeletedAt != nil }

// clone returns a deep-enough copy for optimistic projections.
func (r *Record) clone() *Record {
	c := *r
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	if r.ServerVersion != nil {
		v := *r.ServerVersion
		c.ServerVersion = &v
	}
	c.Payload = append(json.RawMessage(nil), r.Payload...)
	c.ServerData = append(json.RawMessage(nil), r.ServerData...)
	return &c
}

// ConflictRecord is the user-facing view over a record in conflict status.
type ConflictRecord struct {
	Table         string
	ID            string
	LocalVersion  int64
	ServerVersion int64
	LocalData     json.RawMessage
	ServerData    json.RawMessage
}

// PendingChange is a queued local change ready to be pushed to the server.
type PendingChange struct {
	Table       string
	ID          string
	Op          string // INSERT, UPDATE, DELETE
	BaseVersion int64  // version the change was made against
	Payload     json.RawMessage
}

// PushResult is the server's verdict on a single pushed change.
type PushResult struct {
	Table            string
	ID               string
	Status           string // applied, conflict, invalid
	NewServerVersion int64  // set when Status == applied
	ServerRow        json.RawMessage
	ServerVersion    int64 // server's current version, set when Status == conflict
}

// RemoteRepository is the outbound boundary of the core. Implementations own
// transport, batching and retries; the core only hands over pending changes
// and consumes the per-change results.
type RemoteRepository interface {
	Push(ctx context.Context, changes []PendingChange) ([]PushResult, error)
}
