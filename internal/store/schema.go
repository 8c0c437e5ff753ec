// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
)

// schemaVersion is the current store schema. Upgrades are additive only:
// new collections and index fields may appear, nothing is dropped or
// renamed in place.
const schemaVersion = 3

// schemaIndexes declares the indexed fields per collection. Lookups not
// listed here must go through GetAll.
var schemaIndexes = map[string][]string{
	models.CollectionRooms:             {"status", "cached_at"},
	models.CollectionBookings:          {"status", "room_id", "guest_id", "cached_at"},
	models.CollectionGuests:            {"cached_at"},
	models.CollectionFolios:            {"booking_id", "status", "cached_at"},
	models.CollectionFolioTransactions: {"folio_id", "transaction_type"},
	models.CollectionPayments:          {"booking_id", "transaction_ref", "sync_state", "cached_at"},
	models.CollectionQRRequests:        {"room_id", "status", "cached_at"},
	models.CollectionMenuItems:         {"cached_at"},
	models.CollectionHousekeeping:      {"room_id", "status", "cached_at"},
	models.CollectionOfflineQueue:      {"status"},
	models.CollectionConflicts:         {"queue_id"},
}

func indexedFields(collection string) []string {
	return schemaIndexes[collection]
}

func fieldIndexed(collection, field string) bool {
	for _, f := range schemaIndexes[collection] {
		if f == field {
			return true
		}
	}
	return false
}

// migration is one additive schema step. Steps run in order inside open();
// each receives a store whose documents predate the step.
type migration struct {
	version int
	apply   func(s *Store) error
}

// migrations lists the upgrade path. Version 1 is the base layout and needs
// no work on a fresh store; version 2 added the payments sync_state index
// and reindexes existing payment rows; version 3 escapes the key separator
// in index values and rebuilds every indexed collection under the escaped
// layout.
var migrations = []migration{
	{version: 1, apply: func(*Store) error { return nil }},
	{version: 2, apply: func(s *Store) error {
		return s.reindex(models.CollectionPayments)
	}},
	{version: 3, apply: func(s *Store) error {
		for collection := range schemaIndexes {
			if err := s.reindex(collection); err != nil {
				return err
			}
		}
		return nil
	}},
}

// migrate brings the store to the current schema version. A store already
// at or beyond the current version is untouched.
func (s *Store) migrate() error {
	current, err := s.readSchemaVersion()
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.apply(s); err != nil {
			return fmt.Errorf("apply schema migration %d: %w", m.version, err)
		}
		if err := s.writeSchemaVersion(m.version); err != nil {
			return err
		}
		logging.Info().
			Str("tenant", s.tenantID).
			Int("version", m.version).
			Msg("store schema migrated")
	}
	return nil
}

func (s *Store) readSchemaVersion() (int, error) {
	version := 0
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keySchema))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get schema version: %w", err)
		}
		return item.Value(func(val []byte) error {
			v, perr := strconv.Atoi(string(val))
			if perr != nil {
				return fmt.Errorf("parse schema version: %w", perr)
			}
			version = v
			return nil
		})
	})
	return version, err
}

func (s *Store) writeSchemaVersion(v int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keySchema), []byte(strconv.Itoa(v)))
	})
}

// SchemaVersion returns the store's persisted schema version.
func (s *Store) SchemaVersion() (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.readSchemaVersion()
}

// reindex rebuilds index entries for every document in a collection against
// the current schema. Used by additive migrations that introduce an index
// over existing data.
func (s *Store) reindex(collection string) error {
	docs := map[string][]byte{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixDoc + collection + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(it.Item().Key()[len(prefix):])
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			docs[id] = raw
		}
		return nil
	})
	if err != nil {
		return err
	}

	for id, raw := range docs {
		keys, err := indexEntries(collection, id, raw)
		if err != nil {
			return err
		}
		err = s.db.Update(func(txn *badger.Txn) error {
			for _, ik := range keys {
				if err := txn.Set(ik, nil); err != nil {
					return fmt.Errorf("set index entry: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeAll unmarshals a slice of raw documents into typed values.
func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeAll is the exported form of decodeAll for callers holding raw reads.
func DecodeAll[T any](raws []json.RawMessage) ([]T, error) {
	return decodeAll[T](raws)
}
