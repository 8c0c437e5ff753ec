// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package models

// Collection names in the per-tenant local store.
const (
	CollectionSession             = "session"
	CollectionRooms               = "rooms"
	CollectionBookings            = "bookings"
	CollectionGuests              = "guests"
	CollectionFolios              = "folios"
	CollectionFolioTransactions   = "folio_transactions"
	CollectionPayments            = "payments"
	CollectionQRRequests          = "qr_requests"
	CollectionMenuItems           = "menu_items"
	CollectionHousekeeping        = "housekeeping"
	CollectionOfflineQueue        = "offline_queue"
	CollectionSyncMetadata        = "sync_metadata"
	CollectionKPISnapshots        = "kpi_snapshots"
	CollectionNightAuditSnapshots = "night_audit_snapshots"
	CollectionConflicts           = "conflicts"
)

// Collections lists every collection the schema provisions, in a stable order.
func Collections() []string {
	return []string{
		CollectionSession,
		CollectionRooms,
		CollectionBookings,
		CollectionGuests,
		CollectionFolios,
		CollectionFolioTransactions,
		CollectionPayments,
		CollectionQRRequests,
		CollectionMenuItems,
		CollectionHousekeeping,
		CollectionOfflineQueue,
		CollectionSyncMetadata,
		CollectionKPISnapshots,
		CollectionNightAuditSnapshots,
		CollectionConflicts,
	}
}
