// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package store

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/innkeeper-labs/innsync/internal/logging"
)

// PutCached writes a cached entity, stamping its cache metadata. Used by
// background refresh after a successful remote read and by direct local
// creation while offline (with a zero syncedAt).
func (s *Store) PutCached(collection, id string, v any, syncedAt time.Time) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal cached entity: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode cached entity: %w", err)
	}

	doc["cached_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if !syncedAt.IsZero() {
		doc["last_synced_at"] = syncedAt.UTC().Format(time.RFC3339Nano)
	}
	doc["schema_version"] = schemaVersion

	return s.Put(collection, id, doc)
}

// GetCachedAll reads a whole cached collection, degrading to an empty slice
// on storage errors. Cache misses are expected; callers treat "no data" as
// not-yet-cached, never as a hard failure.
func (s *Store) GetCachedAll(collection string) []json.RawMessage {
	docs, err := s.GetAll(collection)
	if err != nil {
		logging.Warn().Err(err).Str("collection", collection).Msg("cached read degraded to empty")
		return nil
	}
	return docs
}

// GetCachedByIndex reads cached entities by an indexed field, degrading to
// empty on storage errors.
func (s *Store) GetCachedByIndex(collection, field, value string) []json.RawMessage {
	docs, err := s.GetAllByIndex(collection, field, value)
	if err != nil {
		logging.Warn().Err(err).Str("collection", collection).Str("field", field).Msg("cached read degraded to empty")
		return nil
	}
	return docs
}
