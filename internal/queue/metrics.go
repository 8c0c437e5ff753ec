// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enqueuesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "innsync_queue_enqueues_total",
		Help: "Total number of mutations enqueued while offline",
	})

	syncedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "innsync_queue_synced_total",
		Help: "Total number of queue items replayed and removed",
	})

	failedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "innsync_queue_failures_total",
		Help: "Total number of failed replay attempts",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "innsync_queue_depth",
		Help: "Current number of items in the mutation queue",
	})
)

func recordEnqueue() { enqueuesTotal.Inc() }
func recordSynced()  { syncedTotal.Inc() }
func recordFailed()  { failedTotal.Inc() }

func updateDepth(n int) { queueDepth.Set(float64(n)) }
