// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-ledgersync/ledgerlocal"
)

func TestHTTPDriverPush(t *testing.T) {
	auth := NewTokenAuth("test-secret")
	v1 := int64(5)
	v3 := int64(3)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/ledger/push", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		// Bearer token carries user and device.
		token := r.Header.Get("Authorization")
		require.True(t, len(token) > 7 && token[:7] == "Bearer ")
		claims, err := auth.ValidateToken(token[7:])
		require.NoError(t, err)
		require.Equal(t, "user-1", claims.Subject)

		var req PushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Changes, 2)
		require.Equal(t, "categories", req.Changes[0].Table)
		require.Equal(t, ledgerlocal.OpInsert, req.Changes[0].Op)
		require.Equal(t, ledgerlocal.OpDelete, req.Changes[1].Op)
		require.Nil(t, req.Changes[1].Payload)

		resp := PushResponse{
			Accepted: true,
			Statuses: []ChangeUploadStatus{
				{Table: "categories", PK: "c1", Status: "applied", NewServerVersion: &v1},
				{Table: "accounts", PK: "a1", Status: "conflict", ServerVersion: &v3,
					ServerRow: json.RawMessage(`{"name":"Server"}`)},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	driver := NewHTTPDriver(server.URL, auth.TokenFunc("user-1", "device-1", time.Minute))
	results, err := driver.Push(context.Background(), []ledgerlocal.PendingChange{
		{Table: "categories", ID: "c1", Op: ledgerlocal.OpInsert, BaseVersion: 1,
			Payload: json.RawMessage(`{"name":"Food"}`)},
		{Table: "accounts", ID: "a1", Op: ledgerlocal.OpDelete, BaseVersion: 2},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, ledgerlocal.StApplied, results[0].Status)
	require.Equal(t, int64(5), results[0].NewServerVersion)

	require.Equal(t, ledgerlocal.StConflict, results[1].Status)
	require.Equal(t, int64(3), results[1].ServerVersion)
	require.JSONEq(t, `{"name":"Server"}`, string(results[1].ServerRow))
}

func TestHTTPDriverErrorEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unauthorized", Message: "bad token"})
	}))
	defer server.Close()

	driver := NewHTTPDriver(server.URL, nil)
	_, err := driver.Push(context.Background(), []ledgerlocal.PendingChange{
		{Table: "categories", ID: "c1", Op: ledgerlocal.OpInsert, BaseVersion: 1},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unauthorized")
}

func TestHTTPDriverTokenFailure(t *testing.T) {
	driver := NewHTTPDriver("http://localhost:0", func(ctx context.Context) (string, error) {
		return "", context.DeadlineExceeded
	})
	_, err := driver.Push(context.Background(), []ledgerlocal.PendingChange{
		{Table: "categories", ID: "c1", Op: ledgerlocal.OpInsert, BaseVersion: 1},
	})
	require.Error(t, err)
}
