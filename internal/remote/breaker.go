// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package remote

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
)

// BreakerInvoker wraps an Invoker with a circuit breaker so a struggling
// backend is not hammered by replay traffic. An open circuit surfaces as a
// transient error; queue items stay failed and get retried once the
// breaker half-opens.
//
// Permanent remote refusals (4xx) do not count as breaker failures: the
// backend answered, it just said no.
type BreakerInvoker struct {
	inner Invoker
	cb    *gobreaker.CircuitBreaker[[]byte]
}

// NewBreakerInvoker wraps inner with the standard breaker settings: opens
// at a 60% failure rate over at least 10 requests, allows 3 requests
// half-open, recovers after 2 minutes.
func NewBreakerInvoker(inner Invoker) *BreakerInvoker {
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		IsSuccessful: func(err error) bool {
			// A definitive refusal is still an answer.
			return err == nil || IsPermanent(err)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
		},
	})

	return &BreakerInvoker{inner: inner, cb: cb}
}

// Replay replays a queue item through the breaker.
func (b *BreakerInvoker) Replay(ctx context.Context, item *models.QueueItem) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		return b.inner.Replay(ctx, item)
	})
}

// FindPaymentByRef checks for an existing payment ref through the breaker.
func (b *BreakerInvoker) FindPaymentByRef(ctx context.Context, tenantID, ref string) (bool, error) {
	raw, err := b.cb.Execute(func() ([]byte, error) {
		found, err := b.inner.FindPaymentByRef(ctx, tenantID, ref)
		if err != nil {
			return nil, err
		}
		if found {
			return []byte{1}, nil
		}
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	return len(raw) > 0, nil
}

var _ Invoker = (*BreakerInvoker)(nil)
