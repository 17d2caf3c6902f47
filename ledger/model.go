// Package ledger defines the personal-finance records that ride on the
// generic local sync engine: categories (two-level hierarchy), accounts and
// transactions. Money amounts use arbitrary-precision decimals and serialize
// as strings.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mobiletoly/go-ledgersync/ledgerlocal"
)

// Syncable table names
const (
	TableCategories   = "categories"
	TableAccounts     = "accounts"
	TableTransactions = "transactions"
)

// Tables returns the table registrations for a personal-finance repository.
// Categories are hierarchical (parent_id, max two levels); the rest are flat.
func Tables() []ledgerlocal.TableSpec {
	return []ledgerlocal.TableSpec{
		{Name: TableCategories, ParentField: "parent_id"},
		{Name: TableAccounts},
		{Name: TableTransactions},
	}
}

// CategoryKind discriminates spending from income categories.
type CategoryKind string

const (
	CategoryExpense CategoryKind = "expense"
	CategoryIncome  CategoryKind = "income"
)

// Category is a user-defined transaction category. ParentID is empty for a
// root category and names another category in the same table otherwise.
type Category struct {
	Name     string       `json:"name"`
	Kind     CategoryKind `json:"kind"`
	Color    string       `json:"color,omitempty"`
	ParentID string       `json:"parent_id,omitempty"`
}

// Account is a money account (checking, cash, card).
type Account struct {
	Name           string          `json:"name"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// Transaction is a single ledger entry. Negative amounts are outflows.
type Transaction struct {
	AccountID  string          `json:"account_id"`
	CategoryID string          `json:"category_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Note       string          `json:"note,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Encode serializes a domain value into a sync payload.
func Encode(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return raw, nil
}

// Decode parses a record's payload into a domain value.
func Decode[T any](rec *ledgerlocal.Record) (T, error) {
	var v T
	if err := json.Unmarshal(rec.Payload, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s/%s payload: %w", rec.Table, rec.ID, err)
	}
	return v, nil
}
