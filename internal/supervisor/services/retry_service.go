// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package services

import (
	"context"
	"time"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/syncengine"
)

// RetryService periodically re-evaluates failed queue items for automatic
// retry. The engine enforces per-item backoff; this loop just provides the
// heartbeat.
type RetryService struct {
	engine   *syncengine.Engine
	interval time.Duration
}

// NewRetryService creates a retry loop ticking every interval.
func NewRetryService(engine *syncengine.Engine, interval time.Duration) *RetryService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryService{engine: engine, interval: interval}
}

// Serve runs the retry loop until ctx is cancelled.
func (s *RetryService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res := s.engine.RetryFailed(ctx)
			if !res.Skipped {
				logging.Debug().
					Int("synced", res.Synced).
					Int("failed", res.Failed).
					Msg("retry pass finished")
			}
		}
	}
}

// String identifies the service in supervisor logs.
func (s *RetryService) String() string { return "queue-retry-loop" }
