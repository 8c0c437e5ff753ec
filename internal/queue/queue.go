// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package queue is the durable mutation queue: every write attempted while
// offline is recorded here, in issue order, for later replay by the sync
// engine. Queue order is FIFO by creation; replay must preserve it so a
// folio-create lands before a charge to that folio.
package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/innkeeper-labs/innsync/internal/events"
	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/shell"
	"github.com/innkeeper-labs/innsync/internal/store"
)

// Errors
var (
	// ErrNoActiveSession is returned when an enqueue has no session to stamp
	// tenant and user ownership from.
	ErrNoActiveSession = errors.New("no active session")

	// ErrItemNotFound is returned when a queue item does not exist.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrNotFailed is returned when retrying an item that is not failed.
	ErrNotFailed = errors.New("queue item is not in failed state")
)

// DefaultMaxRetries bounds automatic replay attempts per item.
const DefaultMaxRetries = 5

const seqName = "offline_queue"

// SessionSource supplies the active session for ownership stamping.
type SessionSource interface {
	Current() *models.Session
}

// Publisher emits queue lifecycle events to interested subscribers.
type Publisher interface {
	Publish(topic string, payload any)
}

// Queue is the mutation queue for one tenant's store.
type Queue struct {
	store      *store.Store
	sessions   SessionSource
	bridge     shell.Bridge
	bus        Publisher
	maxRetries int
}

// Option configures a Queue.
type Option func(*Queue)

// WithBus attaches an event publisher notified on enqueue.
func WithBus(bus Publisher) Option {
	return func(q *Queue) { q.bus = bus }
}

// WithMaxRetries overrides the automatic replay attempt limit stamped on
// new items.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

// New creates a queue over a tenant store. bridge may be nil.
func New(st *store.Store, sessions SessionSource, bridge shell.Bridge, opts ...Option) *Queue {
	if bridge == nil {
		bridge = shell.NopBridge{}
	}
	q := &Queue{store: st, sessions: sessions, bridge: bridge, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records a mutation for later replay and returns its ID. The item
// is persisted before the shell bridge is notified; the store is
// authoritative, the bridge mirror is best-effort.
func (q *Queue) Enqueue(url string, method models.Method, payload any) (string, error) {
	sess := q.sessions.Current()
	if sess == nil {
		return "", ErrNoActiveSession
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	seq, err := q.store.NextSeq(seqName)
	if err != nil {
		return "", fmt.Errorf("allocate queue sequence: %w", err)
	}

	item := &models.QueueItem{
		ID:         uuid.New().String(),
		Seq:        seq,
		TenantID:   sess.TenantID,
		UserID:     sess.UserID,
		URL:        url,
		Method:     method,
		Payload:    raw,
		CreatedAt:  time.Now().UTC(),
		Retries:    0,
		MaxRetries: q.maxRetries,
		Status:     models.QueueStatusPending,
	}

	if err := q.store.Put(models.CollectionOfflineQueue, item.ID, item); err != nil {
		return "", fmt.Errorf("persist queue item: %w", err)
	}

	recordEnqueue()
	q.bridge.NotifyQueued(item)
	if q.bus != nil {
		q.bus.Publish(events.TopicQueueEnqueued, map[string]any{
			"id":        item.ID,
			"tenant_id": item.TenantID,
			"url":       item.URL,
			"method":    item.Method,
			"seq":       item.Seq,
		})
	}

	logging.Debug().
		Str("id", item.ID).
		Str("url", url).
		Str("method", string(method)).
		Uint64("seq", seq).
		Msg("mutation queued")
	return item.ID, nil
}

// Get returns one queue item by ID.
func (q *Queue) Get(id string) (*models.QueueItem, error) {
	var item models.QueueItem
	err := q.store.Get(models.CollectionOfflineQueue, id, &item)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *Queue) listByStatus(status models.QueueStatus) ([]*models.QueueItem, error) {
	raws, err := q.store.GetAllByIndex(models.CollectionOfflineQueue, "status", string(status))
	if err != nil {
		return nil, err
	}

	items := make([]*models.QueueItem, 0, len(raws))
	for _, raw := range raws {
		var item models.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode queue item: %w", err)
		}
		items = append(items, &item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

// ListPending returns pending items in insertion order.
func (q *Queue) ListPending() ([]*models.QueueItem, error) {
	return q.listByStatus(models.QueueStatusPending)
}

// ListFailed returns failed items in insertion order.
func (q *Queue) ListFailed() ([]*models.QueueItem, error) {
	return q.listByStatus(models.QueueStatusFailed)
}

// MarkSynced deletes a successfully replayed item; synced items are not
// retained.
func (q *Queue) MarkSynced(id string) error {
	if err := q.store.Delete(models.CollectionOfflineQueue, id); err != nil {
		return fmt.Errorf("delete synced item: %w", err)
	}
	recordSynced()
	return nil
}

// MarkFailed records a failed replay attempt: status failed, retry count
// incremented, error and attempt time captured.
func (q *Queue) MarkFailed(id, errMsg string) error {
	item, err := q.Get(id)
	if err != nil {
		return err
	}

	item.Status = models.QueueStatusFailed
	item.Retries++
	item.Error = errMsg
	item.LastAttemptAt = time.Now().UTC()

	if err := q.store.Put(models.CollectionOfflineQueue, item.ID, item); err != nil {
		return fmt.Errorf("persist failed item: %w", err)
	}
	recordFailed()
	return nil
}

// Retry resets a failed item back to pending, clearing its error and last
// attempt. Only failed items may be retried.
func (q *Queue) Retry(id string) error {
	item, err := q.Get(id)
	if err != nil {
		return err
	}
	if item.Status != models.QueueStatusFailed {
		return fmt.Errorf("retry %s: %w", id, ErrNotFailed)
	}

	item.Status = models.QueueStatusPending
	item.Error = ""
	item.LastAttemptAt = time.Time{}

	if err := q.store.Put(models.CollectionOfflineQueue, item.ID, item); err != nil {
		return fmt.Errorf("persist retried item: %w", err)
	}
	return nil
}

// ClearSynced removes stragglers still marked synced and returns the count.
// Normal operation deletes synced items immediately; this is bulk cleanup
// for items persisted by older versions.
func (q *Queue) ClearSynced() (int, error) {
	return q.clearByStatus(models.QueueStatusSynced)
}

// ClearAll removes every queue item regardless of status and returns the
// count removed.
func (q *Queue) ClearAll() (int, error) {
	raws, err := q.store.GetAll(models.CollectionOfflineQueue)
	if err != nil {
		return 0, err
	}
	return q.deleteRaw(raws)
}

func (q *Queue) clearByStatus(status models.QueueStatus) (int, error) {
	raws, err := q.store.GetAllByIndex(models.CollectionOfflineQueue, "status", string(status))
	if err != nil {
		return 0, err
	}
	return q.deleteRaw(raws)
}

func (q *Queue) deleteRaw(raws []json.RawMessage) (int, error) {
	removed := 0
	for _, raw := range raws {
		var item models.QueueItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return removed, fmt.Errorf("decode queue item: %w", err)
		}
		if err := q.store.Delete(models.CollectionOfflineQueue, item.ID); err != nil {
			return removed, fmt.Errorf("delete queue item: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Depth returns the total number of items currently in the queue.
func (q *Queue) Depth() (int, error) {
	n, err := q.store.Count(models.CollectionOfflineQueue)
	if err != nil {
		return 0, err
	}
	updateDepth(n)
	return n, nil
}
