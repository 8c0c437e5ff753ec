// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package store provides the durable, indexed, versioned local store opened
// per tenant. Each tenant gets its own BadgerDB instance under its own
// directory; isolation between tenants is structural, never shared handles.
//
// Key layout:
//
//	c:<collection>:<id>                     document (JSON)
//	i:<collection>:<field>:<value>:<id>     index entry (empty value,
//	                                        ":" and "%" escaped in <value>)
//	m:schema_version                        schema version (decimal)
//	m:seq:<name>                            monotonic sequence counter
package store

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/innkeeper-labs/innsync/internal/logging"
)

// Errors
var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrStoreClosed is returned when the store handle has been closed.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStoreOpen is returned when purge is blocked by an open handle.
	ErrStoreOpen = errors.New("store handle is open")

	// ErrEmptyID is returned when an empty document ID is provided.
	ErrEmptyID = errors.New("document ID cannot be empty")
)

const (
	prefixDoc   = "c:"
	prefixIndex = "i:"
	keySchema   = "m:schema_version"
	prefixSeq   = "m:seq:"
)

// Store is one tenant's local database handle. All local operations for the
// tenant within the process share this handle; Badger's transactions are the
// only mutual-exclusion boundary, the store adds no locking on top.
type Store struct {
	tenantID string
	db       *badger.DB

	mu           sync.RWMutex
	closed       bool
	closeTimeout time.Duration

	// seqMu serializes sequence allocation; badger transactions alone would
	// allow two concurrent allocations to read the same counter value.
	seqMu sync.Mutex
}

// TenantID returns the tenant this store belongs to.
func (s *Store) TenantID() string {
	return s.tenantID
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func docKey(collection, id string) []byte {
	return []byte(prefixDoc + collection + ":" + id)
}

func indexKey(collection, field, value, id string) []byte {
	return []byte(prefixIndex + collection + ":" + field + ":" + escapeIndexValue(value) + ":" + id)
}

// escapeIndexValue escapes the key separator inside an index value so a
// value that is a prefix of another value plus ":" cannot widen an
// exact-match prefix scan.
func escapeIndexValue(v string) string {
	return indexValueEscaper.Replace(v)
}

var indexValueEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

// indexValue renders a decoded JSON field value as an index key segment.
// Returns ok=false for values that are absent or not indexable.
func indexValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// indexEntries computes the index keys for a document from its raw JSON.
func indexEntries(collection, id string, raw []byte) ([][]byte, error) {
	fields := indexedFields(collection)
	if len(fields) == 0 {
		return nil, nil
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document for indexing: %w", err)
	}

	keys := make([][]byte, 0, len(fields))
	for _, f := range fields {
		if val, ok := indexValue(doc[f]); ok {
			keys = append(keys, indexKey(collection, f, val, id))
		}
	}
	return keys, nil
}

// Put writes a document, replacing any previous version and maintaining the
// collection's index entries.
func (s *Store) Put(collection, id string, v any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return ErrEmptyID
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	newIdx, err := indexEntries(collection, id, raw)
	if err != nil {
		return err
	}

	key := docKey(collection, id)
	return s.db.Update(func(txn *badger.Txn) error {
		// Remove index entries of the previous version first.
		item, err := txn.Get(key)
		if err == nil {
			var old []byte
			old, err = item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read previous version: %w", err)
			}
			oldIdx, err := indexEntries(collection, id, old)
			if err != nil {
				return err
			}
			for _, ik := range oldIdx {
				if err := txn.Delete(ik); err != nil {
					return fmt.Errorf("delete stale index entry: %w", err)
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("get previous version: %w", err)
		}

		if err := txn.Set(key, raw); err != nil {
			return fmt.Errorf("set document: %w", err)
		}
		for _, ik := range newIdx {
			if err := txn.Set(ik, nil); err != nil {
				return fmt.Errorf("set index entry: %w", err)
			}
		}
		return nil
	})
}

// Get reads a document into out. Returns ErrNotFound when absent.
func (s *Store) Get(collection, id string, out any) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(collection, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

// Delete removes a document and its index entries. Deleting an absent
// document is not an error.
func (s *Store) Delete(collection, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := docKey(collection, id)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}

		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		idx, err := indexEntries(collection, id, raw)
		if err != nil {
			return err
		}
		for _, ik := range idx {
			if err := txn.Delete(ik); err != nil {
				return fmt.Errorf("delete index entry: %w", err)
			}
		}
		return txn.Delete(key)
	})
}

// GetAll returns every document in a collection as raw JSON.
func (s *Store) GetAll(collection string) ([]json.RawMessage, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var docs []json.RawMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixDoc + collection + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			docs = append(docs, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// GetAllByIndex returns every document whose indexed field equals value.
// The field must be declared in the collection's schema.
func (s *Store) GetAllByIndex(collection, field, value string) ([]json.RawMessage, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !fieldIndexed(collection, field) {
		return nil, fmt.Errorf("field %q is not indexed on collection %q", field, collection)
	}

	var docs []json.RawMessage
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixIndex + collection + ":" + field + ":" + escapeIndexValue(value) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(bytes.TrimPrefix(it.Item().Key(), prefix))
			item, err := txn.Get(docKey(collection, id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Dangling index entry; skip rather than fail the read.
				logging.Warn().Str("collection", collection).Str("id", id).Msg("dangling index entry")
				continue
			}
			if err != nil {
				return fmt.Errorf("get indexed document: %w", err)
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read indexed document: %w", err)
			}
			docs = append(docs, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixDoc + collection + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// NextSeq allocates the next value of a named monotonic sequence. Sequences
// start at 1 and survive restarts.
func (s *Store) NextSeq(name string) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	key := []byte(prefixSeq + name)
	var next uint64
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			next = 1
		case err != nil:
			return fmt.Errorf("get sequence: %w", err)
		default:
			err = item.Value(func(val []byte) error {
				cur, perr := strconv.ParseUint(string(val), 10, 64)
				if perr != nil {
					return fmt.Errorf("parse sequence: %w", perr)
				}
				next = cur + 1
				return nil
			})
			if err != nil {
				return err
			}
		}
		return txn.Set(key, []byte(strconv.FormatUint(next, 10)))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Close gracefully shuts down the store with the configured timeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.closeTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close store: %w", err)
		}
		logging.Debug().Str("tenant", s.tenantID).Msg("store closed")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("store close timeout after %v", timeout)
	}
}
