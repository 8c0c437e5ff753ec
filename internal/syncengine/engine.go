// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package syncengine drains the mutation queue when connectivity returns.
// One pass replays pending items strictly in queue order, isolating each
// item: a failure marks that item failed and moves on, it never aborts the
// pass. Payments get a duplicate check against the remote transaction ref
// before insert so a replayed payment can never double-charge a guest.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/innkeeper-labs/innsync/internal/events"
	"github.com/innkeeper-labs/innsync/internal/ledger"
	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/queue"
	"github.com/innkeeper-labs/innsync/internal/remote"
	"github.com/innkeeper-labs/innsync/internal/shell"
	"github.com/innkeeper-labs/innsync/internal/store"
)

// retrySchedule is the minimum wait before a failed item's nth automatic
// retry. Attempts past the schedule wait the final interval.
var retrySchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// onlineSettleDelay is how long the engine waits after an online signal
// before draining, letting the link settle.
const onlineSettleDelay = 1 * time.Second

// Result summarizes one sync pass. A pass that could not run (offline, no
// session, already running) returns a zero Result with Skipped set.
type Result struct {
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Conflicts int    `json:"conflicts"`
	Remaining int    `json:"remaining"`
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
}

// SessionSource supplies the active session.
type SessionSource interface {
	Current() *models.Session
	IsValid() bool
}

// NetworkSource reports effective connectivity.
type NetworkSource interface {
	IsOffline() bool
}

// Engine replays the mutation queue for one tenant.
type Engine struct {
	store    *store.Store
	queue    *queue.Queue
	sessions SessionSource
	network  NetworkSource
	invoker  remote.Invoker
	payments *ledger.PaymentManager
	bus      *events.Bus
	bridge   shell.Bridge

	device  string
	now     func() time.Time
	settle  time.Duration
	running atomic.Bool
}

// Options wires an Engine. Bus and Bridge may be nil; Device identifies
// this workstation in replay metadata.
type Options struct {
	Store    *store.Store
	Queue    *queue.Queue
	Sessions SessionSource
	Network  NetworkSource
	Invoker  remote.Invoker
	Payments *ledger.PaymentManager
	Bus      *events.Bus
	Bridge   shell.Bridge
	Device   string
}

// New creates a sync engine.
func New(opts Options) *Engine {
	bridge := opts.Bridge
	if bridge == nil {
		bridge = shell.NopBridge{}
	}
	return &Engine{
		store:    opts.Store,
		queue:    opts.Queue,
		sessions: opts.Sessions,
		network:  opts.Network,
		invoker:  opts.Invoker,
		payments: opts.Payments,
		bus:      opts.Bus,
		bridge:   bridge,
		device:   opts.Device,
		now:      time.Now,
		settle:   onlineSettleDelay,
	}
}

// SetClock overrides the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SyncAll drains pending queue items in FIFO order. Exactly one pass runs
// at a time; concurrent calls are skipped. The pass itself never returns
// an error: per-item failures are recorded on the items and counted in the
// Result.
func (e *Engine) SyncAll(ctx context.Context) Result {
	if !e.running.CompareAndSwap(false, true) {
		return Result{Skipped: true, Reason: "sync already running"}
	}
	defer e.running.Store(false)

	if e.network.IsOffline() {
		return Result{Skipped: true, Reason: "offline"}
	}
	if !e.sessions.IsValid() {
		return Result{Skipped: true, Reason: "no valid session"}
	}
	sess := e.sessions.Current()

	pending, err := e.queue.ListPending()
	if err != nil {
		logging.Error().Err(err).Msg("failed to list pending queue items")
		return Result{Skipped: true, Reason: "queue unreadable"}
	}
	if len(pending) == 0 {
		return Result{}
	}

	start := e.now()
	e.publish(events.TopicSyncStarted, map[string]any{
		"tenant_id": sess.TenantID,
		"pending":   len(pending),
	})
	e.bridge.NotifySyncEvent(shell.SyncEvent{Kind: "start", TenantID: sess.TenantID, Remaining: len(pending)})
	recordSyncStart()

	var res Result
	for _, item := range pending {
		select {
		case <-ctx.Done():
			logging.Warn().Msg("sync pass cancelled")
			res.Reason = "cancelled"
			e.finish(sess.TenantID, start, res)
			return res
		default:
		}

		outcome := e.replayItem(ctx, item)
		switch outcome {
		case outcomeSynced:
			res.Synced++
		case outcomeConflict:
			res.Synced++
			res.Conflicts++
		case outcomeFailed:
			res.Failed++
		}
	}

	if remaining, err := e.queue.Depth(); err == nil {
		res.Remaining = remaining
	}
	e.finish(sess.TenantID, start, res)
	return res
}

type replayOutcome int

const (
	outcomeSynced replayOutcome = iota
	outcomeConflict
	outcomeFailed
)

// replayItem replays one queue item, fully containing its failure.
func (e *Engine) replayItem(ctx context.Context, item *models.QueueItem) replayOutcome {
	log := logging.With().
		Str("id", item.ID).
		Str("url", item.URL).
		Str("method", string(item.Method)).
		Uint64("seq", item.Seq).
		Logger()

	if isPaymentInsert(item) {
		if outcome, handled := e.replayPayment(ctx, item, log); handled {
			return outcome
		}
		return outcomeFailed
	}

	tagged, err := e.tagPayload(item)
	if err != nil {
		log.Error().Err(err).Msg("failed to tag payload, item marked failed")
		e.markFailed(item, err)
		return outcomeFailed
	}
	item.Payload = tagged

	if _, err := e.invoker.Replay(ctx, item); err != nil {
		log.Warn().Err(err).Bool("permanent", remote.IsPermanent(err)).Msg("replay failed")
		e.markFailed(item, err)
		recordItemFailed()
		return outcomeFailed
	}

	if err := e.queue.MarkSynced(item.ID); err != nil {
		log.Error().Err(err).Msg("replayed but failed to remove from queue")
		return outcomeFailed
	}
	recordItemSynced()
	log.Debug().Msg("queue item replayed")
	return outcomeSynced
}

// replayPayment handles the payment insert path: check the remote for the
// transaction ref first, replay only when absent. A ref already present
// remotely is recorded as a conflict and the item is treated as synced -
// the money was already accounted for.
func (e *Engine) replayPayment(ctx context.Context, item *models.QueueItem, log zerolog.Logger) (replayOutcome, bool) {
	var payload struct {
		ID             string `json:"id"`
		TransactionRef string `json:"transaction_ref"`
	}
	if err := item.UnmarshalPayload(&payload); err != nil || payload.TransactionRef == "" {
		e.markFailed(item, fmt.Errorf("payment payload missing transaction_ref"))
		return outcomeFailed, true
	}

	exists, err := e.invoker.FindPaymentByRef(ctx, item.TenantID, payload.TransactionRef)
	if err != nil {
		// The duplicate check is mandatory; without an answer the payment
		// must not be inserted.
		log.Warn().Err(err).Msg("duplicate check unavailable, payment replay deferred")
		e.markFailed(item, fmt.Errorf("duplicate check: %w", err))
		recordItemFailed()
		return outcomeFailed, true
	}

	if exists {
		log.Info().Str("ref", payload.TransactionRef).Msg("payment already present remotely, recording conflict")
		e.recordConflict(item, payload.TransactionRef)
		if err := e.queue.MarkSynced(item.ID); err != nil {
			log.Error().Err(err).Msg("conflict resolved but failed to remove from queue")
			return outcomeFailed, true
		}
		e.confirmPayment(payload.ID, log)
		recordConflict()
		return outcomeConflict, true
	}

	tagged, err := e.tagPayload(item)
	if err != nil {
		e.markFailed(item, err)
		return outcomeFailed, true
	}
	item.Payload = tagged

	if _, err := e.invoker.Replay(ctx, item); err != nil {
		if remote.IsPermanent(err) && e.payments != nil && payload.ID != "" {
			if rejErr := e.payments.MarkRejected(payload.ID, err.Error()); rejErr != nil {
				log.Error().Err(rejErr).Msg("failed to mark payment rejected")
			}
		}
		log.Warn().Err(err).Msg("payment replay failed")
		e.markFailed(item, err)
		recordItemFailed()
		return outcomeFailed, true
	}

	if err := e.queue.MarkSynced(item.ID); err != nil {
		log.Error().Err(err).Msg("payment replayed but failed to remove from queue")
		return outcomeFailed, true
	}
	e.confirmPayment(payload.ID, log)
	recordItemSynced()
	return outcomeSynced, true
}

func (e *Engine) confirmPayment(paymentID string, log zerolog.Logger) {
	if e.payments == nil || paymentID == "" {
		return
	}
	if err := e.payments.MarkConfirmed(paymentID, e.now().UTC()); err != nil && !errors.Is(err, ledger.ErrPaymentNotFound) {
		log.Error().Err(err).Str("payment", paymentID).Msg("failed to mark payment confirmed")
	}
}

// isPaymentInsert recognizes queued payment creations.
func isPaymentInsert(item *models.QueueItem) bool {
	if item.Method != models.MethodPost {
		return false
	}
	return strings.HasPrefix(item.URL, "/tables/payments") ||
		strings.HasPrefix(item.URL, "/rpc/record_payment") ||
		strings.HasPrefix(item.URL, "/functions/v1/process-payment")
}

// tagPayload embeds replay provenance under the _offline key so the
// backend can distinguish replays from live writes. The queue item id
// rides along as queue_id: it is the idempotency key, letting the remote
// deduplicate an item replayed twice after a crash between replay and
// MarkSynced.
func (e *Engine) tagPayload(item *models.QueueItem) (json.RawMessage, error) {
	if item.Method == models.MethodDelete || len(item.Payload) == 0 {
		return item.Payload, nil
	}

	var body map[string]any
	if err := json.Unmarshal(item.Payload, &body); err != nil {
		// Non-object payloads (arrays, scalars) pass through untagged.
		return item.Payload, nil //nolint:nilerr
	}

	body["_offline"] = map[string]any{
		"queue_id":  item.ID,
		"queued_at": item.CreatedAt.UTC().Format(time.RFC3339),
		"synced_at": e.now().UTC().Format(time.RFC3339),
		"device":    e.device,
		"tenant_id": item.TenantID,
	}
	return json.Marshal(body)
}

func (e *Engine) markFailed(item *models.QueueItem, cause error) {
	if err := e.queue.MarkFailed(item.ID, cause.Error()); err != nil {
		logging.Error().Err(err).Str("id", item.ID).Msg("failed to persist item failure")
	}
}

// recordConflict persists a conflict row for operator review.
func (e *Engine) recordConflict(item *models.QueueItem, ref string) {
	conflict := &models.Conflict{
		ID:         uuid.New().String(),
		TenantID:   item.TenantID,
		QueueID:    item.ID,
		Resource:   item.URL,
		Detail:     fmt.Sprintf("transaction_ref %s already present remotely", ref),
		Payload:    item.Payload,
		DetectedAt: e.now().UTC(),
	}
	if err := e.store.Put(models.CollectionConflicts, conflict.ID, conflict); err != nil {
		logging.Error().Err(err).Str("queue_id", item.ID).Msg("failed to persist conflict record")
	}
}

// finish records sync metadata, publishes completion, and mirrors to the
// shell bridge.
func (e *Engine) finish(tenantID string, start time.Time, res Result) {
	elapsed := e.now().Sub(start)
	recordSyncDone(elapsed, res)

	meta := &models.SyncMetadata{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		LastSyncAt:  e.now().UTC(),
		Success:     res.Failed == 0,
		RecordCount: res.Synced,
		QueueDepth:  res.Remaining,
	}
	if err := e.store.Put(models.CollectionSyncMetadata, meta.ID, meta); err != nil {
		logging.Error().Err(err).Msg("failed to persist sync metadata")
	}

	e.publish(events.TopicSyncCompleted, map[string]any{
		"tenant_id": tenantID,
		"synced":    res.Synced,
		"failed":    res.Failed,
		"conflicts": res.Conflicts,
		"remaining": res.Remaining,
		"elapsed":   elapsed.String(),
	})
	e.bridge.NotifySyncEvent(shell.SyncEvent{
		Kind:      "complete",
		TenantID:  tenantID,
		Synced:    res.Synced,
		Failed:    res.Failed,
		Remaining: res.Remaining,
	})

	logging.Info().
		Int("synced", res.Synced).
		Int("failed", res.Failed).
		Int("conflicts", res.Conflicts).
		Int("remaining", res.Remaining).
		Dur("elapsed", elapsed).
		Msg("sync pass complete")
}

func (e *Engine) publish(topic string, payload any) {
	if e.bus != nil {
		e.bus.Publish(topic, payload)
	}
}

// RetryFailed resets failed items whose backoff interval has elapsed back
// to pending and runs a sync pass. Items at their retry limit are left for
// manual retry.
func (e *Engine) RetryFailed(ctx context.Context) Result {
	failed, err := e.queue.ListFailed()
	if err != nil {
		logging.Error().Err(err).Msg("failed to list failed queue items")
		return Result{Skipped: true, Reason: "queue unreadable"}
	}

	now := e.now()
	eligible := 0
	for _, item := range failed {
		if item.Retries >= item.MaxRetries {
			continue
		}
		if now.Sub(item.LastAttemptAt) < backoffFor(item.Retries) {
			continue
		}
		if err := e.queue.Retry(item.ID); err != nil {
			logging.Warn().Err(err).Str("id", item.ID).Msg("failed to reset item for retry")
			continue
		}
		eligible++
	}

	if eligible == 0 {
		return Result{Skipped: true, Reason: "no items eligible for retry"}
	}
	logging.Info().Int("eligible", eligible).Msg("failed items reset for retry")
	return e.SyncAll(ctx)
}

// backoffFor returns the minimum wait after the nth failure (1-based).
func backoffFor(retries int) time.Duration {
	if retries <= 0 {
		return retrySchedule[0]
	}
	if retries > len(retrySchedule) {
		return retrySchedule[len(retrySchedule)-1]
	}
	return retrySchedule[retries-1]
}

// HandleOnlineSignal runs when connectivity returns: wait for the link to
// settle, re-check that it held, then drain.
func (e *Engine) HandleOnlineSignal(ctx context.Context) Result {
	select {
	case <-ctx.Done():
		return Result{Skipped: true, Reason: "cancelled"}
	case <-time.After(e.settle):
	}

	if e.network.IsOffline() {
		return Result{Skipped: true, Reason: "link dropped during settle"}
	}
	return e.SyncAll(ctx)
}
