// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package models defines the data types shared across the offline sync core:
// tenant sessions, queue items, the folio ledger, payments, cached entities,
// and the runtime network state.
package models

import "time"

// Session is the active tenant/user context. One active session per process;
// persisted in the per-tenant local store keyed by tenant ID.
type Session struct {
	TenantID     string   `json:"tenant_id"`
	UserID       string   `json:"user_id"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	Roles        []string `json:"roles,omitempty"`

	// ExpiresAt is the session expiry in epoch milliseconds.
	ExpiresAt int64 `json:"expires_at"`

	// LastActive is the last activity timestamp in epoch milliseconds.
	LastActive int64 `json:"last_active"`
}

// ValidAt reports whether the session is unexpired at the given instant.
// Expiry is strict: a session expiring exactly now is invalid.
func (s *Session) ValidAt(now time.Time) bool {
	return s != nil && s.ExpiresAt > now.UnixMilli()
}

// HasRole reports whether the session carries the given role.
func (s *Session) HasRole(role string) bool {
	if s == nil {
		return false
	}
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}
