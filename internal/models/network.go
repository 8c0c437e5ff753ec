// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package models

import "time"

// NetworkState is the process-wide runtime connectivity snapshot. It is
// recomputed on every network signal and holds no persisted history beyond
// the last change time.
type NetworkState struct {
	// Offline reflects raw connectivity (browser events, shell callbacks,
	// connectivity probes).
	Offline bool `json:"offline"`

	// HardOffline is the operator-forced offline mode. It takes precedence
	// over raw connectivity.
	HardOffline bool `json:"hard_offline"`

	// RealtimeConnected reports whether the realtime transport is up.
	RealtimeConnected bool `json:"realtime_connected"`

	ChangedAt time.Time `json:"changed_at,omitempty"`
}

// IsOffline reports the derived offline state: forced offline or no
// connectivity.
func (n NetworkState) IsOffline() bool {
	return n.Offline || n.HardOffline
}
