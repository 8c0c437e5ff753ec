// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package services wraps the agent's long-running components as suture
// services so the supervisor tree owns their lifecycles.
package services

import (
	"context"

	"github.com/innkeeper-labs/innsync/internal/runtime"
)

// MonitorService runs the connectivity monitor under supervision.
type MonitorService struct {
	monitor *runtime.Monitor
}

// NewMonitorService wraps a connectivity monitor.
func NewMonitorService(monitor *runtime.Monitor) *MonitorService {
	return &MonitorService{monitor: monitor}
}

// Serve starts the monitor and blocks until ctx is cancelled.
func (s *MonitorService) Serve(ctx context.Context) error {
	s.monitor.Start()
	defer s.monitor.Stop()

	<-ctx.Done()
	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *MonitorService) String() string { return "connectivity-monitor" }
