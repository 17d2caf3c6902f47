// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import "fmt"

// Scope selects which records a query can see. Every store query takes a
// scope explicitly; there is no unscoped read path, so forgetting the
// tombstone filter is a compile-time impossibility rather than a runtime
// oversight.
type Scope int

const (
	// ScopeActive sees live records only (deleted_at IS NULL). This is the
	// scope for all normal application reads.
	ScopeActive Scope = iota
	// ScopePending sees records awaiting a push, tombstoned or not.
	ScopePending
	// ScopeConflict sees records whose last push was rejected.
	ScopeConflict
	// ScopeAny sees everything, including tombstones. Reserved for sync
	// internals and diagnostics.
	ScopeAny
)

func (s Scope) predicate() string {
	switch s {
	case ScopeActive:
		return "deleted_at IS NULL"
	case ScopePending:
		return "sync_status = 'pending'"
	case ScopeConflict:
		return "sync_status = 'conflict'"
	case ScopeAny:
		return "1 = 1"
	default:
		panic(fmt.Sprintf("unknown scope: %d", int(s)))
	}
}

// QueryPredicate narrows a scoped query by table or by a domain field inside
// the JSON payload.
type QueryPredicate struct {
	clause string
	arg    any
}

// WithTable restricts a query to a single table.
func WithTable(table string) QueryPredicate {
	return QueryPredicate{clause: "table_name = ?", arg: table}
}

// WithPayloadField restricts a query to records whose payload has the given
// top-level field equal to value (uses SQLite's json_extract).
func WithPayloadField(field string, value any) QueryPredicate {
	return QueryPredicate{clause: "json_extract(payload, '$." + field + "') = ?", arg: value}
}

// WithPayloadFieldAbsent restricts a query to records whose payload lacks the
// given top-level field (or has it null).
func WithPayloadFieldAbsent(field string) QueryPredicate {
	return QueryPredicate{clause: "json_extract(payload, '$." + field + "') IS NULL"}
}
