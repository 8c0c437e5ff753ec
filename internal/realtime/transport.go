// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package realtime maintains the live change-feed connection to the remote
// system. The network runtime owns its lifecycle: connect on online,
// disconnect on offline, re-subscribe the registered channels after every
// reconnect.
package realtime

import "context"

// ChannelDesc describes one change-feed subscription.
type ChannelDesc struct {
	// Topic uniquely names the subscription, e.g. "bookings:tenant-a".
	Topic string `json:"topic"`

	// Table is the remote table whose changes are wanted.
	Table string `json:"table"`

	// Filter optionally narrows the feed, e.g. "tenant_id=eq.tenant-a".
	Filter string `json:"filter,omitempty"`
}

// Change is one decoded change-feed event.
type Change struct {
	Topic  string         `json:"topic"`
	Table  string         `json:"table"`
	Action string         `json:"action"` // INSERT | UPDATE | DELETE
	Record map[string]any `json:"record,omitempty"`
	OldID  string         `json:"old_id,omitempty"`
}

// ChangeHandler receives decoded changes. Called from the transport's read
// loop; must not block.
type ChangeHandler func(Change)

// Transport is the live-connection contract. Implementations must be safe
// for concurrent use.
type Transport interface {
	// Connect establishes the connection. Idempotent when already connected.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Idempotent when disconnected.
	Disconnect() error

	// Connected reports the current link state.
	Connected() bool

	// Subscribe opens a change-feed channel. On an established connection
	// the subscription is sent immediately; it is also replayed after every
	// reconnect.
	Subscribe(desc ChannelDesc) error

	// Unsubscribe closes a channel by topic.
	Unsubscribe(topic string) error
}
