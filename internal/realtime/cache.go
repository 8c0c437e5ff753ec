// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package realtime

import (
	"time"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/store"
)

// cacheTables maps change-feed table names to local cache collections.
// Tables not listed are ignored; locally authoritative collections (the
// queue, the session) never accept remote overwrites.
var cacheTables = map[string]string{
	"rooms":              models.CollectionRooms,
	"bookings":           models.CollectionBookings,
	"guests":             models.CollectionGuests,
	"folios":             models.CollectionFolios,
	"folio_transactions": models.CollectionFolioTransactions,
	"payments":           models.CollectionPayments,
	"qr_requests":        models.CollectionQRRequests,
	"menu_items":         models.CollectionMenuItems,
	"housekeeping":       models.CollectionHousekeeping,
}

// CacheApplier folds change-feed events into the tenant's local cache.
// Remote state supersedes cached rows; deletes drop them.
type CacheApplier struct {
	store *store.Store
	now   func() time.Time
}

// NewCacheApplier creates an applier over a tenant store.
func NewCacheApplier(st *store.Store) *CacheApplier {
	return &CacheApplier{store: st, now: time.Now}
}

// Apply is a ChangeHandler. Failures are logged, never propagated: a bad
// change event must not take down the read loop.
func (a *CacheApplier) Apply(change Change) {
	collection, ok := cacheTables[change.Table]
	if !ok {
		return
	}

	switch change.Action {
	case "DELETE":
		id := change.OldID
		if id == "" {
			return
		}
		if err := a.store.Delete(collection, id); err != nil {
			logging.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("failed to apply remote delete")
		}
	case "INSERT", "UPDATE":
		id, _ := change.Record["id"].(string)
		if id == "" {
			return
		}
		if err := a.store.PutCached(collection, id, change.Record, a.now().UTC()); err != nil {
			logging.Warn().Err(err).Str("collection", collection).Str("id", id).Msg("failed to apply remote change")
		}
	}
}
