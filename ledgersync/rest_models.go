// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import "encoding/json"

// REST/JSON models for the push endpoint. These mirror the shapes the sync
// backend consumes; the local engine never sees them directly.

// PushRequest carries a batch of local changes to the server.
type PushRequest struct {
	Changes []ChangeUpload `json:"changes"`
}

// ChangeUpload is a single change in a push request.
type ChangeUpload struct {
	Table       string          `json:"table"`
	Op          string          `json:"op"` // INSERT, UPDATE, DELETE
	PK          string          `json:"pk"`
	BaseVersion int64           `json:"base_version"`      // version the change was made against
	Payload     json.RawMessage `json:"payload,omitempty"` // null for DELETE
}

// PushResponse is the server's reply to a push request.
type PushResponse struct {
	Accepted bool                 `json:"accepted"`
	Statuses []ChangeUploadStatus `json:"statuses"`
}

// ChangeUploadStatus is the per-change verdict.
type ChangeUploadStatus struct {
	Table            string          `json:"table"`
	PK               string          `json:"pk"`
	Status           string          `json:"status"`                       // "applied", "conflict", "invalid"
	NewServerVersion *int64          `json:"new_server_version,omitempty"` // set when applied
	ServerVersion    *int64          `json:"server_version,omitempty"`     // server's current version when conflict
	ServerRow        json.RawMessage `json:"server_row,omitempty"`         // current server state when conflict
	Message          string          `json:"message,omitempty"`
}

// ErrorResponse is the server's error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
