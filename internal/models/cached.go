// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package models

import "time"

// CachedMeta is embedded in every cached entity. Cached rows are never
// authoritative; the next successful remote read for the same ID supersedes
// them.
type CachedMeta struct {
	CachedAt      time.Time `json:"cached_at,omitempty"`
	LastSyncedAt  time.Time `json:"last_synced_at,omitempty"`
	SchemaVersion int       `json:"schema_version,omitempty"`
	SyncStatus    string    `json:"sync_status,omitempty"`
}

// Room is a cached room entity.
type Room struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	RoomNumber string `json:"room_number"`
	RoomType   string `json:"room_type,omitempty"`
	Floor      string `json:"floor,omitempty"`
	Status     string `json:"status"`

	CachedMeta
}

// Booking is a cached booking entity.
type Booking struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	GuestID   string    `json:"guest_id"`
	RoomID    string    `json:"room_id,omitempty"`
	Status    string    `json:"status"`
	CheckIn   time.Time `json:"check_in"`
	CheckOut  time.Time `json:"check_out"`
	CreatedAt time.Time `json:"created_at"`

	CachedMeta
}

// Guest is a cached guest profile.
type Guest struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`

	CachedMeta
}

// QRRequest is a cached guest-service request raised via an in-room QR code.
type QRRequest struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	RoomID      string    `json:"room_id"`
	BookingID   string    `json:"booking_id,omitempty"`
	RequestType string    `json:"request_type"`
	Status      string    `json:"status"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	CachedMeta
}
