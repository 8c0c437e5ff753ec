// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package shell defines the optional host-shell bridge. On the desktop the
// shell keeps its own watchdog over queued requests and surfaces sync
// progress in its UI; the core notifies it best-effort. Persistence in the
// local store stays authoritative regardless of bridge outcomes.
package shell

import "github.com/innkeeper-labs/innsync/internal/models"

// SyncEvent is one sync lifecycle notification for shell-level telemetry.
type SyncEvent struct {
	Kind      string `json:"kind"` // start | complete | error
	TenantID  string `json:"tenant_id"`
	Synced    int    `json:"synced"`
	Failed    int    `json:"failed"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// Bridge is the host-shell contract. Implementations must be safe for
// concurrent use and must never block the caller for long; the core treats
// every call as fire-and-forget.
type Bridge interface {
	// NotifyQueued mirrors an enqueue for shell-side tracking.
	NotifyQueued(item *models.QueueItem)

	// NotifyNetworkChange reports online/offline status changes.
	NotifyNetworkChange(state models.NetworkState)

	// NotifySyncEvent reports sync lifecycle events.
	NotifySyncEvent(event SyncEvent)
}

// NopBridge is the default bridge outside the desktop shell.
type NopBridge struct{}

func (NopBridge) NotifyQueued(*models.QueueItem)             {}
func (NopBridge) NotifyNetworkChange(models.NetworkState)    {}
func (NopBridge) NotifySyncEvent(SyncEvent)                  {}

var _ Bridge = NopBridge{}
