// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package runtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/innkeeper-labs/innsync/internal/logging"
)

// DefaultProbeInterval is how often the monitor checks reachability.
const DefaultProbeInterval = 15 * time.Second

// Monitor periodically probes the remote health endpoint and feeds the
// observed reachability into the controller. The desktop shell also pushes
// OS-level connectivity events directly; the probe catches the cases the
// OS signal misses, like a captive portal or a dead upstream.
type Monitor struct {
	controller *Controller
	url        string
	interval   time.Duration
	client     *http.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewMonitor creates a monitor probing url every interval. interval <= 0
// uses DefaultProbeInterval.
func NewMonitor(controller *Controller, url string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Monitor{
		controller: controller,
		url:        url,
		interval:   interval,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Start begins probing. Idempotent while running.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.url == "" || !m.controller.Enabled() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(ctx, m.done)
	logging.Info().Str("url", m.url).Dur("interval", m.interval).Msg("connectivity monitor started")
}

// Stop halts probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	done := m.done
	m.running = false
	m.mu.Unlock()

	<-done
	logging.Info().Msg("connectivity monitor stopped")
}

// IsRunning reports whether the probe loop is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, m.url, nil)
	if err != nil {
		logging.Error().Err(err).Msg("failed to build probe request")
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		m.controller.SetNetworkOnline(false)
		return
	}
	_ = resp.Body.Close()

	m.controller.SetNetworkOnline(resp.StatusCode < http.StatusInternalServerError)
}
