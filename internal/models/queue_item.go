// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// QueueStatus is the replay state of a queued mutation.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusFailed  QueueStatus = "failed"
	QueueStatusSynced  QueueStatus = "synced"
)

// Method is the logical HTTP-style method of a queued mutation.
type Method string

const (
	MethodPost   Method = "POST"
	MethodPut    Method = "PUT"
	MethodPatch  Method = "PATCH"
	MethodDelete Method = "DELETE"
)

// QueueItem is one durable record of a write attempted while offline,
// awaiting replay against the remote backend.
//
// ID is globally unique and doubles as the idempotency key for remote replay.
// Seq is a per-tenant monotonic sequence assigned at enqueue time; replay
// order is ascending Seq (FIFO by creation).
type QueueItem struct {
	ID       string `json:"id"`
	Seq      uint64 `json:"seq"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`

	// URL is the logical resource path, e.g. /tables/payments or /rpc/check_in.
	URL     string          `json:"url"`
	Method  Method          `json:"method"`
	Payload json.RawMessage `json:"payload"`

	CreatedAt  time.Time   `json:"created_at"`
	Retries    int         `json:"retries"`
	MaxRetries int         `json:"max_retries"`
	Status     QueueStatus `json:"status"`

	Error         string    `json:"error,omitempty"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
}

// UnmarshalPayload deserializes the payload into the given type.
func (q *QueueItem) UnmarshalPayload(v any) error {
	return json.Unmarshal(q.Payload, v)
}

// SyncMetadata records the outcome of one sync pass, kept in the
// sync_metadata collection for operator visibility.
type SyncMetadata struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	LastSyncAt  time.Time `json:"last_sync_at"`
	Success     bool      `json:"success"`
	RecordCount int       `json:"record_count"`
	QueueDepth  int       `json:"queue_depth"`
}

// Conflict records a locally-originated record that collided with server
// state on replay, e.g. a payment whose transaction_ref already existed
// remotely. Kept for operator review; the item itself is treated as synced.
type Conflict struct {
	ID         string          `json:"id"`
	TenantID   string          `json:"tenant_id"`
	QueueID    string          `json:"queue_id"`
	Resource   string          `json:"resource"`
	RemoteID   string          `json:"remote_id,omitempty"`
	Detail     string          `json:"detail"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	DetectedAt time.Time       `json:"detected_at"`
}
