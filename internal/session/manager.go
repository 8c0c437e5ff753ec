// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package session holds the single source of truth for the active tenant
// and user. Every offline write and every sync pass checks here first; no
// session means no local mutation is permitted.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/store"
)

// Errors
var (
	// ErrNoSession is returned when an operation requires an active session.
	ErrNoSession = errors.New("no active session")
)

const sessionDocID = "current"

// prefs is the lightweight persisted preference file remembering the
// last-used tenant across restarts.
type prefs struct {
	LastTenantID string `json:"last_tenant_id"`
}

// SetParams carries everything needed to establish a session.
type SetParams struct {
	TenantID     string
	UserID       string
	AccessToken  string
	RefreshToken string
	Roles        []string

	// ExpiresIn is the session lifetime from now. When the access token is
	// a parsable JWT with an earlier exp claim, the claim wins.
	ExpiresIn time.Duration
}

// Subscriber receives the new session on set, nil on clear. Callbacks are
// synchronous on every change.
type Subscriber func(*models.Session)

// Manager owns the active session and its persistence.
type Manager struct {
	stores    *store.Manager
	prefsPath string
	now       func() time.Time

	mu      sync.Mutex
	current *models.Session
	subs    map[int]Subscriber
	nextSub int
}

// NewManager creates a session manager. prefsPath is the file holding the
// last-used tenant preference.
func NewManager(stores *store.Manager, prefsPath string) *Manager {
	return &Manager{
		stores:    stores,
		prefsPath: prefsPath,
		now:       time.Now,
		subs:      map[int]Subscriber{},
	}
}

// SetClock overrides the time source. Tests only.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// InitializeSession restores the last-used tenant's session on startup.
// Returns nil (no error) when there is no last tenant, no stored session,
// or the stored session is expired. An expired session is treated as
// absent, never restored.
func (m *Manager) InitializeSession() (*models.Session, error) {
	p, err := m.readPrefs()
	if err != nil {
		return nil, err
	}
	if p.LastTenantID == "" {
		return nil, nil
	}

	st, err := m.stores.Open(p.LastTenantID)
	if err != nil {
		return nil, fmt.Errorf("open last tenant store: %w", err)
	}

	var sess models.Session
	err = st.Get(models.CollectionSession, sessionDocID, &sess)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load stored session: %w", err)
	}

	if !sess.ValidAt(m.now()) {
		logging.Info().Str("tenant", sess.TenantID).Msg("stored session expired, not restored")
		return nil, nil
	}

	m.setCurrent(&sess)
	logging.Info().Str("tenant", sess.TenantID).Str("user", sess.UserID).Msg("session restored")
	return &sess, nil
}

// SetSession persists a new session, remembers the tenant as last used, and
// notifies subscribers synchronously.
func (m *Manager) SetSession(p SetParams) (*models.Session, error) {
	if p.TenantID == "" || p.UserID == "" {
		return nil, errors.New("tenant ID and user ID are required")
	}

	now := m.now()
	expiresAt := now.Add(p.ExpiresIn).UnixMilli()
	if claimExp, ok := tokenExpiry(p.AccessToken); ok && claimExp < expiresAt {
		expiresAt = claimExp
	}

	sess := &models.Session{
		TenantID:     p.TenantID,
		UserID:       p.UserID,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		Roles:        p.Roles,
		ExpiresAt:    expiresAt,
		LastActive:   now.UnixMilli(),
	}

	st, err := m.stores.Open(p.TenantID)
	if err != nil {
		return nil, fmt.Errorf("open tenant store: %w", err)
	}
	if err := st.Put(models.CollectionSession, sessionDocID, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	if err := m.writePrefs(prefs{LastTenantID: p.TenantID}); err != nil {
		return nil, err
	}

	m.setCurrent(sess)
	return sess, nil
}

// Current returns the active session, or nil.
func (m *Manager) Current() *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// IsValid reports whether an unexpired session is active. Strictly
// expires_at > now.
func (m *Manager) IsValid() bool {
	return m.Current().ValidAt(m.now())
}

// Touch refreshes the session's last-active timestamp and persists it.
func (m *Manager) Touch() error {
	m.mu.Lock()
	sess := m.current
	m.mu.Unlock()
	if sess == nil {
		return ErrNoSession
	}

	sess.LastActive = m.now().UnixMilli()
	st, err := m.stores.Open(sess.TenantID)
	if err != nil {
		return err
	}
	return st.Put(models.CollectionSession, sessionDocID, sess)
}

// ClearSession drops the active session (logout) and notifies subscribers.
// The persisted copy is removed so a restart cannot resurrect it.
func (m *Manager) ClearSession() error {
	m.mu.Lock()
	sess := m.current
	m.mu.Unlock()
	if sess == nil {
		return nil
	}

	if st, err := m.stores.Open(sess.TenantID); err == nil {
		if err := st.Delete(models.CollectionSession, sessionDocID); err != nil {
			logging.Warn().Err(err).Msg("failed to delete persisted session")
		}
	}

	m.setCurrent(nil)
	return nil
}

// SwitchTenant clears the current session and closes its store handle
// before opening the new tenant's store. Tenants never share an open handle
// or a cached session. Returns the restored session for the new tenant, or
// nil when it has none stored.
func (m *Manager) SwitchTenant(newTenantID string) (*models.Session, error) {
	if newTenantID == "" {
		return nil, errors.New("tenant ID cannot be empty")
	}

	m.mu.Lock()
	old := m.current
	m.mu.Unlock()

	if old != nil {
		if old.TenantID == newTenantID {
			return old, nil
		}
		m.setCurrent(nil)
		if err := m.stores.Close(old.TenantID); err != nil {
			return nil, fmt.Errorf("close previous tenant store: %w", err)
		}
	}

	st, err := m.stores.Open(newTenantID)
	if err != nil {
		return nil, fmt.Errorf("open tenant store: %w", err)
	}
	if err := m.writePrefs(prefs{LastTenantID: newTenantID}); err != nil {
		return nil, err
	}

	var sess models.Session
	err = st.Get(models.CollectionSession, sessionDocID, &sess)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session for tenant %q: %w", newTenantID, err)
	}
	if !sess.ValidAt(m.now()) {
		return nil, nil
	}

	m.setCurrent(&sess)
	return &sess, nil
}

// Subscribe registers a session-change subscriber and returns an
// unsubscribe function.
func (m *Manager) Subscribe(fn Subscriber) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// setCurrent swaps the active session and notifies subscribers
// synchronously, outside the lock.
func (m *Manager) setCurrent(sess *models.Session) {
	m.mu.Lock()
	m.current = sess
	subs := make([]Subscriber, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(sess)
	}
}

func (m *Manager) readPrefs() (prefs, error) {
	var p prefs
	raw, err := os.ReadFile(m.prefsPath)
	if errors.Is(err, os.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read prefs: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode prefs: %w", err)
	}
	return p, nil
}

func (m *Manager) writePrefs(p prefs) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prefs: %w", err)
	}
	if dir := filepath.Dir(m.prefsPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create prefs dir: %w", err)
		}
	}
	if err := os.WriteFile(m.prefsPath, raw, 0o600); err != nil {
		return fmt.Errorf("write prefs: %w", err)
	}
	return nil
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying its signature. The token is only inspected for a tighter
// expiry, never trusted for authorization.
func tokenExpiry(token string) (int64, bool) {
	if token == "" {
		return 0, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Time.UnixMilli(), true
}
