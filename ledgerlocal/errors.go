// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"errors"
	"fmt"
)

// Structural violation reason codes
const (
	ReasonHasChildren        = "has_children"
	ReasonParentMissing      = "parent_missing"
	ReasonParentNotRoot      = "parent_not_root"
	ReasonSelfParent         = "self_parent"
	ReasonDepthExceeded      = "depth_exceeded"
	ReasonNotInConflict      = "not_in_conflict"
	ReasonConflictUnresolved = "conflict_unresolved"
	ReasonUnregisteredTable  = "unregistered_table"
	ReasonBadPayload         = "bad_payload"
)

// NotFoundError is returned when a record is absent, tombstoned, or owned by
// a different user. The three cases are deliberately indistinguishable.
type NotFoundError struct {
	Table string
	ID    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("record not found: %s/%s", e.Table, e.ID)
}

// VersionConflictError is returned when the caller's claimed version does not
// match the stored version of a synced record. No state is mutated.
type VersionConflictError struct {
	Table   string
	ID      string
	Claimed int64
	Actual  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s/%s: claimed %d, stored %d",
		e.Table, e.ID, e.Claimed, e.Actual)
}

// StructuralError is a domain pre-check failure with a machine-readable
// reason code. The operation that produced it made no state change.
type StructuralError struct {
	Table  string
	ID     string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("structural violation on %s: %s", e.Table, e.Reason)
	}
	return fmt.Sprintf("structural violation on %s/%s: %s", e.Table, e.ID, e.Reason)
}

// StoreError wraps an underlying local-store failure (I/O, corruption).
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("local store failure during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsVersionConflict reports whether err is (or wraps) a VersionConflictError.
func IsVersionConflict(err error) bool {
	var e *VersionConflictError
	return errors.As(err, &e)
}

// IsStructural reports whether err is a StructuralError, optionally matching
// a specific reason code. An empty reason matches any structural error.
func IsStructural(err error, reason string) bool {
	var e *StructuralError
	if !errors.As(err, &e) {
		return false
	}
	return reason == "" || e.Reason == reason
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
