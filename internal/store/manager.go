// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/innkeeper-labs/innsync/internal/logging"
)

// Options configures the store manager and every store it opens.
type Options struct {
	// Root is the directory under which each tenant's database lives.
	Root string

	// SyncWrites forces fsync after every write. Durability over throughput.
	SyncWrites bool

	// Badger tuning.
	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int

	// CloseTimeout bounds graceful shutdown of a single store.
	CloseTimeout time.Duration
}

// DefaultOptions returns durable defaults sized for a desktop deployment.
func DefaultOptions(root string) Options {
	return Options{
		Root:             root,
		SyncWrites:       true,
		MemTableSize:     16 * 1024 * 1024,
		ValueLogFileSize: 64 * 1024 * 1024,
		NumCompactors:    2,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.Root == "" {
		return errors.New("store root path is required")
	}
	if o.NumCompactors < 2 {
		return errors.New("num compactors must be at least 2 (badger requirement)")
	}
	return nil
}

// Manager opens and tracks one store per tenant. Reopening an already-open
// tenant returns the same handle; tenants never share a handle.
type Manager struct {
	opts Options

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a store manager rooted at opts.Root.
func NewManager(opts Options) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store options: %w", err)
	}
	if err := os.MkdirAll(opts.Root, 0o750); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Manager{
		opts:   opts,
		stores: map[string]*Store{},
	}, nil
}

func (m *Manager) tenantDir(tenantID string) string {
	return filepath.Join(m.opts.Root, tenantID)
}

// Open returns the store for a tenant, opening it if necessary. Open fails
// loudly when the underlying storage cannot be opened.
func (m *Manager) Open(tenantID string) (*Store, error) {
	if tenantID == "" {
		return nil, errors.New("tenant ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[tenantID]; ok {
		return s, nil
	}

	badgerOpts := badger.DefaultOptions(m.tenantDir(tenantID))
	badgerOpts.SyncWrites = m.opts.SyncWrites
	badgerOpts.MemTableSize = m.opts.MemTableSize
	badgerOpts.ValueLogFileSize = m.opts.ValueLogFileSize
	badgerOpts.NumCompactors = m.opts.NumCompactors
	badgerOpts.Logger = nil

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open tenant store %q: %w", tenantID, err)
	}

	s := &Store{
		tenantID:     tenantID,
		db:           db,
		closeTimeout: m.opts.CloseTimeout,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate tenant store %q: %w", tenantID, err)
	}

	m.stores[tenantID] = s
	logging.Info().
		Str("tenant", tenantID).
		Bool("sync_writes", m.opts.SyncWrites).
		Msg("tenant store opened")
	return s, nil
}

// IsOpen reports whether a tenant's store is currently open.
func (m *Manager) IsOpen(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.stores[tenantID]
	return ok
}

// Close closes a tenant's store. Closing an unopened tenant is a no-op.
func (m *Manager) Close(tenantID string) error {
	m.mu.Lock()
	s, ok := m.stores[tenantID]
	delete(m.stores, tenantID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return s.Close()
}

// CloseAll closes every open store, returning the first error encountered.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	stores := m.stores
	m.stores = map[string]*Store{}
	m.mu.Unlock()

	var firstErr error
	for tenant, s := range stores {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close tenant store %q: %w", tenant, err)
		}
	}
	return firstErr
}

// Purge irreversibly deletes all local data for a tenant. It fails loudly,
// never silently no-ops, when the tenant's handle is still open; callers
// must Close first.
func (m *Manager) Purge(tenantID string) error {
	if tenantID == "" {
		return errors.New("tenant ID cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stores[tenantID]; ok {
		return fmt.Errorf("purge tenant %q: %w", tenantID, ErrStoreOpen)
	}

	dir := m.tenantDir(tenantID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge tenant %q: %w", tenantID, err)
	}
	logging.Info().Str("tenant", tenantID).Msg("tenant store purged")
	return nil
}
