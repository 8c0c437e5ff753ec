// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package models

import "time"

// PaymentSyncState tracks reconciliation of a locally recorded payment
// against the remote system, separate from the business status string.
type PaymentSyncState string

const (
	// PaymentSyncPending marks a payment recorded locally and not yet
	// mirrored to the remote system.
	PaymentSyncPending PaymentSyncState = "local-pending-sync"

	// PaymentSyncConfirmed marks a payment the remote system accepted
	// (or already held under the same transaction ref).
	PaymentSyncConfirmed PaymentSyncState = "confirmed"

	// PaymentSyncRejected marks a payment the remote system refused on
	// replay; it needs operator attention.
	PaymentSyncRejected PaymentSyncState = "rejected"
)

// OfflineRefPrefix marks transaction refs generated while offline.
const OfflineRefPrefix = "OFFLINE-"

// Payment is a recorded guest payment.
//
// TransactionRef is the client-generated idempotency key, unique per tenant.
// The system must never create two payment rows with the same ref, locally
// or remotely; replay checks the remote for an existing ref before inserting.
type Payment struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	BookingID string `json:"booking_id"`
	GuestID   string `json:"guest_id,omitempty"`

	Amount     float64 `json:"amount"`
	Method     string  `json:"method"`
	ProviderID string  `json:"provider_id,omitempty"`
	LocationID string  `json:"location_id,omitempty"`

	// Status is the business status (completed, refunded, ...). Recorded
	// optimistically as completed for offline payments.
	Status string `json:"status"`

	// SyncState is the reconciliation state against the remote system.
	SyncState PaymentSyncState `json:"sync_state"`

	TransactionRef string `json:"transaction_ref"`
	RecordedBy     string `json:"recorded_by"`

	// StayFolioID links the payment to a folio when one exists for the
	// booking. Empty when recorded before any folio was created; linked
	// lazily once a folio appears.
	StayFolioID string `json:"stay_folio_id,omitempty"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`

	CachedMeta
}

// OfflineOrigin reports whether the payment was recorded while offline,
// judged by its transaction ref prefix.
func (p *Payment) OfflineOrigin() bool {
	return len(p.TransactionRef) >= len(OfflineRefPrefix) &&
		p.TransactionRef[:len(OfflineRefPrefix)] == OfflineRefPrefix
}
