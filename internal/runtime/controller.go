// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package runtime is the network state machine. It folds two independent
// inputs - observed network reachability and the operator's hard-offline
// switch - into one effective online/offline state, and drives the
// realtime transport and reconnect signalling from transitions of that
// state.
//
// Transitions are asymmetric on purpose: going offline takes effect
// immediately, going online is debounced so a flapping link cannot thrash
// the transport and the sync engine.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/realtime"
	"github.com/innkeeper-labs/innsync/internal/shell"
)

// DefaultReconnectDebounce is how long the link must stay up before the
// online transition is acted on.
const DefaultReconnectDebounce = 2 * time.Second

// Callback observes effective state transitions.
type Callback func(state models.NetworkState)

// Controller owns the effective network state.
//
// When disabled (every deployment except the desktop shell) the controller
// reports permanently online and every transition input is a no-op; the
// rest of the system then behaves as a plain online client.
type Controller struct {
	enabled   bool
	debounce  time.Duration
	transport realtime.Transport
	bridge    shell.Bridge

	mu          sync.Mutex
	networkUp   bool
	hardOffline bool
	realtimeUp  bool
	changedAt   time.Time
	timer       *time.Timer

	onOnline  []Callback
	onOffline []Callback
}

// Option configures a Controller.
type Option func(*Controller)

// WithDebounce overrides the reconnect debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// WithBridge attaches a host-shell bridge for state-change mirroring.
func WithBridge(b shell.Bridge) Option {
	return func(c *Controller) {
		if b != nil {
			c.bridge = b
		}
	}
}

// NewController creates the state machine. transport may be nil when no
// realtime feed is configured. enabled=false yields the always-online
// no-op controller.
func NewController(enabled bool, transport realtime.Transport, opts ...Option) *Controller {
	c := &Controller{
		enabled:   enabled,
		debounce:  DefaultReconnectDebounce,
		transport: transport,
		bridge:    shell.NopBridge{},
		networkUp: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether offline handling is active.
func (c *Controller) Enabled() bool { return c.enabled }

// State returns a snapshot of the effective network state.
func (c *Controller) State() models.NetworkState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() models.NetworkState {
	if !c.enabled {
		return models.NetworkState{Offline: false}
	}
	return models.NetworkState{
		Offline:           !c.networkUp || c.hardOffline,
		HardOffline:       c.hardOffline,
		RealtimeConnected: c.realtimeUp,
		ChangedAt:         c.changedAt,
	}
}

// IsOffline reports the effective offline state.
func (c *Controller) IsOffline() bool {
	return c.State().IsOffline()
}

// OnOnline registers a callback for offline-to-online transitions. The
// callback fires after the debounce window, once the link is confirmed
// still up.
func (c *Controller) OnOnline(fn Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOnline = append(c.onOnline, fn)
}

// OnOffline registers a callback for online-to-offline transitions. Fires
// immediately on transition.
func (c *Controller) OnOffline(fn Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOffline = append(c.onOffline, fn)
}

// SetNetworkOnline feeds an observed reachability change into the machine.
func (c *Controller) SetNetworkOnline(up bool) {
	if !c.enabled {
		return
	}
	c.transition(func() { c.networkUp = up })
}

// SetHardOffline flips the operator's hard-offline switch. Hard offline
// wins over any observed reachability: while set, the system is offline no
// matter what the probe reports.
func (c *Controller) SetHardOffline(on bool) {
	if !c.enabled {
		return
	}
	c.transition(func() { c.hardOffline = on })
}

// Signal requests a reconnect evaluation without changing inputs, e.g.
// after the host resumes from sleep. Runs the same debounce path as a real
// offline-to-online transition.
func (c *Controller) Signal() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	offline := c.stateLocked().IsOffline()
	c.mu.Unlock()
	if offline {
		return
	}
	c.scheduleOnline()
}

// transition applies a state input and acts on the effective transition,
// if any.
func (c *Controller) transition(apply func()) {
	c.mu.Lock()
	wasOffline := c.stateLocked().IsOffline()
	apply()
	nowOffline := c.stateLocked().IsOffline()
	if wasOffline != nowOffline {
		c.changedAt = time.Now().UTC()
	}
	state := c.stateLocked()
	c.mu.Unlock()

	switch {
	case !wasOffline && nowOffline:
		c.goOffline(state)
	case wasOffline && !nowOffline:
		logging.Info().Dur("debounce", c.debounce).Msg("link restored, debouncing reconnect")
		c.scheduleOnline()
	}
}

// goOffline acts on an online-to-offline transition: any pending reconnect
// is cancelled, the transport is torn down at once, and observers are told.
func (c *Controller) goOffline(state models.NetworkState) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	callbacks := append([]Callback(nil), c.onOffline...)
	c.mu.Unlock()

	if c.transport != nil {
		if err := c.transport.Disconnect(); err != nil {
			logging.Warn().Err(err).Msg("transport disconnect on offline transition")
		}
	}
	c.setRealtime(false)

	logging.Info().Bool("hard_offline", state.HardOffline).Msg("effective state: offline")
	c.bridge.NotifyNetworkChange(state)
	for _, fn := range callbacks {
		fn(state)
	}
}

// scheduleOnline arms (or re-arms) the debounce timer for the online
// transition.
func (c *Controller) scheduleOnline() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, c.fireOnline)
}

// fireOnline runs when the debounce window elapses. The effective state is
// re-checked first: if the link dropped again during the window, the
// transition is abandoned.
func (c *Controller) fireOnline() {
	c.mu.Lock()
	c.timer = nil
	state := c.stateLocked()
	callbacks := append([]Callback(nil), c.onOnline...)
	c.mu.Unlock()

	if state.IsOffline() {
		logging.Debug().Msg("reconnect abandoned, link dropped during debounce")
		return
	}

	if c.transport != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := c.transport.Connect(ctx)
		cancel()
		if err != nil {
			logging.Warn().Err(err).Msg("transport reconnect failed")
		} else {
			c.setRealtime(true)
		}
	}

	c.mu.Lock()
	state = c.stateLocked()
	c.mu.Unlock()

	logging.Info().Msg("effective state: online")
	c.bridge.NotifyNetworkChange(state)
	for _, fn := range callbacks {
		fn(state)
	}
}

func (c *Controller) setRealtime(up bool) {
	c.mu.Lock()
	c.realtimeUp = up
	c.mu.Unlock()
}

// RegisterChannel subscribes a change-feed channel on the transport. Safe
// to call while offline; the transport replays registrations on connect.
func (c *Controller) RegisterChannel(desc realtime.ChannelDesc) error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Subscribe(desc)
}

// UnregisterChannel drops a change-feed channel.
func (c *Controller) UnregisterChannel(topic string) error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Unsubscribe(topic)
}

// Shutdown cancels pending timers and disconnects the transport.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if c.transport != nil {
		_ = c.transport.Disconnect()
	}
}
