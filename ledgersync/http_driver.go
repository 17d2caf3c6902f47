// Package ledgersync provides the remote side of the local ledger engine: a
// JSON-over-HTTP push driver implementing ledgerlocal.RemoteRepository, plus
// the bearer-token helpers the endpoint expects.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mobiletoly/go-ledgersync/ledgerlocal"
)

// HTTPDriver pushes pending changes to a sync backend over HTTP.
type HTTPDriver struct {
	BaseURL string
	Token   func(ctx context.Context) (string, error) // returns bearer JWT
	HTTP    *http.Client
	logger  *slog.Logger
}

// NewHTTPDriver creates a push driver for the given backend base URL.
func NewHTTPDriver(baseURL string, token func(ctx context.Context) (string, error)) *HTTPDriver {
	return &HTTPDriver{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 120 * time.Second},
		logger:  slog.Default(),
	}
}

// Push implements ledgerlocal.RemoteRepository.
func (d *HTTPDriver) Push(ctx context.Context, changes []ledgerlocal.PendingChange) ([]ledgerlocal.PushResult, error) {
	logger := d.logger
	if logger == nil {
		logger = slog.Default()
	}
	client := d.HTTP
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	req := PushRequest{Changes: make([]ChangeUpload, 0, len(changes))}
	for _, ch := range changes {
		req.Changes = append(req.Changes, ChangeUpload{
			Table:       ch.Table,
			Op:          ch.Op,
			PK:          ch.ID,
			BaseVersion: ch.BaseVersion,
			Payload:     ch.Payload,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/ledger/push", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create push request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.Token != nil {
		token, err := d.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("push rejected (%d): %s: %s", resp.StatusCode, errResp.Error, errResp.Message)
		}
		return nil, fmt.Errorf("push rejected with status %d", resp.StatusCode)
	}

	var pushResp PushResponse
	if err := json.Unmarshal(respBody, &pushResp); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}

	results := make([]ledgerlocal.PushResult, 0, len(pushResp.Statuses))
	for _, st := range pushResp.Statuses {
		res := ledgerlocal.PushResult{
			Table:     st.Table,
			ID:        st.PK,
			Status:    st.Status,
			ServerRow: st.ServerRow,
		}
		if st.NewServerVersion != nil {
			res.NewServerVersion = *st.NewServerVersion
		}
		if st.ServerVersion != nil {
			res.ServerVersion = *st.ServerVersion
		}
		if st.Status == ledgerlocal.StInvalid {
			logger.Warn("server rejected change as invalid",
				"table", st.Table, "pk", st.PK, "message", st.Message)
		}
		results = append(results, res)
	}
	return results, nil
}
