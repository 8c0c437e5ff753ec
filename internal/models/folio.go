// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package models

import "time"

// FolioStatus is the lifecycle state of a folio.
type FolioStatus string

const (
	FolioStatusOpen    FolioStatus = "open"
	FolioStatusClosed  FolioStatus = "closed"
	FolioStatusSettled FolioStatus = "settled"
)

// Folio is a guest's running bill during a stay.
//
// Invariant: Balance == TotalCharges - TotalPayments at all times. The
// totals are recomputed from the full set of folio transactions, never
// patched incrementally; a stored balance is never trusted when
// transactions exist.
type Folio struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	BookingID   string      `json:"booking_id"`
	GuestID     string      `json:"guest_id,omitempty"`
	RoomID      string      `json:"room_id,omitempty"`
	FolioNumber string      `json:"folio_number"`
	FolioType   string      `json:"folio_type"`
	Status      FolioStatus `json:"status"`

	TotalCharges  float64 `json:"total_charges"`
	TotalPayments float64 `json:"total_payments"`
	Balance       float64 `json:"balance"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`

	CachedMeta
}

// TransactionType distinguishes charges from payments on a folio.
type TransactionType string

const (
	TransactionCharge  TransactionType = "charge"
	TransactionPayment TransactionType = "payment"
)

// FolioTransaction is one append-only ledger line. Amounts are always
// positive; the transaction type determines the sign in the balance fold.
// Transactions are never updated in place, only inserted.
type FolioTransaction struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	FolioID  string `json:"folio_id"`

	TransactionType TransactionType `json:"transaction_type"`
	Amount          float64         `json:"amount"`
	Description     string          `json:"description"`
	Department      string          `json:"department,omitempty"`

	ReferenceType string `json:"reference_type,omitempty"`
	ReferenceID   string `json:"reference_id,omitempty"`

	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
