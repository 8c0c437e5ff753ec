// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package syncengine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "innsync_sync_passes_total",
		Help: "Total number of sync passes started",
	})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "innsync_sync_duration_seconds",
		Help:    "Duration of completed sync passes",
		Buckets: prometheus.DefBuckets,
	})

	itemsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "innsync_sync_items_synced_total",
		Help: "Queue items successfully replayed",
	})

	itemsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "innsync_sync_items_failed_total",
		Help: "Queue items whose replay failed",
	})

	conflictsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "innsync_sync_conflicts_total",
		Help: "Replay conflicts detected against remote state",
	})
)

func recordSyncStart()  { syncPasses.Inc() }
func recordItemSynced() { itemsSynced.Inc() }
func recordItemFailed() { itemsFailed.Inc() }
func recordConflict()   { conflictsDetected.Inc() }

func recordSyncDone(elapsed time.Duration, _ Result) {
	syncDuration.Observe(elapsed.Seconds())
}
