// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgerlocal

import (
	"context"
	"log/slog"
	"time"
)

// Syncer drives push rounds against a RemoteRepository: collect pending
// records under lock, push, apply the per-record verdicts. Transport,
// batching beyond the upload limit, and downloads belong to the remote
// implementation.
type Syncer struct {
	repo    *Repository
	applier *Applier
	remote  RemoteRepository
	userID  string
	logger  *slog.Logger
	kickCh  chan struct{}
}

// NewSyncer attaches a sync driver to the repository. Conflict retries on the
// repository will nudge this syncer for an immediate push attempt.
func NewSyncer(repo *Repository, remote RemoteRepository, userID string) *Syncer {
	s := &Syncer{
		repo:    repo,
		applier: repo.Applier(),
		remote:  remote,
		userID:  userID,
		logger:  slog.Default(),
		kickCh:  make(chan struct{}, 1),
	}
	repo.registerKick(s.Kick)
	return s
}

// Kick requests an immediate sync round without blocking. Multiple kicks
// before the loop wakes coalesce into one.
func (s *Syncer) Kick() {
	select {
	case s.kickCh <- struct{}{}:
	default:
	}
}

// Run loops push rounds until ctx is canceled, backing off exponentially
// between failed rounds and resetting the backoff after a clean one.
func (s *Syncer) Run(ctx context.Context) {
	backoff := s.repo.config.BackoffMin
	for {
		if _, err := s.SyncOnce(ctx); err != nil {
			s.logger.Warn("sync round failed", "error", err)
			backoff = backoff * 2
			if backoff > s.repo.config.BackoffMax {
				backoff = s.repo.config.BackoffMax
			}
		} else {
			backoff = s.repo.config.BackoffMin
		}

		select {
		case <-ctx.Done():
			return
		case <-s.kickCh:
		case <-time.After(backoff):
		}
	}
}

// SyncOnce performs a single push round and returns how many verdicts were
// applied. Locks acquired for the round are released on every path: per
// verdict on success, wholesale when the push itself fails, and as a backstop
// for any change the server failed to answer.
func (s *Syncer) SyncOnce(ctx context.Context) (int, error) {
	// First reclaim anything a previous crashed round may have left behind.
	if err := s.applier.ReleaseStale(ctx); err != nil {
		return 0, err
	}

	changes, err := s.applier.CollectPending(ctx, s.userID, 0)
	if err != nil {
		return 0, err
	}
	if len(changes) == 0 {
		return 0, nil
	}
	s.logger.Debug("pushing local changes", "count", len(changes))

	results, err := s.remote.Push(ctx, changes)
	if err != nil {
		if relErr := s.applier.ReleaseAll(ctx, changes); relErr != nil {
			s.logger.Warn("failed to release locks after push error", "error", relErr)
		}
		return 0, err
	}

	applyErr := s.applier.ApplyResults(ctx, results)
	// Backstop: any change the server did not answer must not stay locked.
	if relErr := s.applier.ReleaseAll(ctx, changes); relErr != nil && applyErr == nil {
		applyErr = relErr
	}
	if applyErr != nil {
		return len(results), applyErr
	}
	return len(results), nil
}
