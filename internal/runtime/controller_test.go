// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/realtime"
)

// fakeTransport records connect/disconnect calls.
type fakeTransport struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	connected   bool
	channels    map[string]realtime.ChannelDesc
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{channels: map[string]realtime.ChannelDesc{}}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Subscribe(desc realtime.ChannelDesc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[desc.Topic] = desc
	return nil
}

func (f *fakeTransport) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, topic)
	return nil
}

func (f *fakeTransport) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

func TestDisabledControllerAlwaysOnline(t *testing.T) {
	c := NewController(false, nil)

	if c.IsOffline() {
		t.Error("disabled controller reports offline")
	}
	c.SetNetworkOnline(false)
	c.SetHardOffline(true)
	if c.IsOffline() {
		t.Error("disabled controller went offline on inputs")
	}
}

func TestOfflineTransitionIsImmediate(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(true, transport, WithDebounce(time.Hour))

	var offlineSeen models.NetworkState
	var called bool
	c.OnOffline(func(s models.NetworkState) {
		called = true
		offlineSeen = s
	})

	c.SetNetworkOnline(false)

	if !c.IsOffline() {
		t.Fatal("controller not offline after network drop")
	}
	if !called {
		t.Fatal("offline callback not fired immediately")
	}
	if offlineSeen.HardOffline {
		t.Error("hard offline flagged on network drop")
	}
	if _, disconnects := transport.counts(); disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}
}

func TestOnlineTransitionDebounced(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(true, transport, WithDebounce(50*time.Millisecond))

	online := make(chan models.NetworkState, 1)
	c.OnOnline(func(s models.NetworkState) { online <- s })

	c.SetNetworkOnline(false)
	c.SetNetworkOnline(true)

	select {
	case <-online:
		t.Fatal("online callback fired before debounce elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case s := <-online:
		if s.IsOffline() {
			t.Error("online callback delivered offline state")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("online callback never fired")
	}

	if connects, _ := transport.counts(); connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestFlappingLinkCancelsReconnect(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(true, transport, WithDebounce(50*time.Millisecond))

	online := make(chan models.NetworkState, 1)
	c.OnOnline(func(s models.NetworkState) { online <- s })

	c.SetNetworkOnline(false)
	c.SetNetworkOnline(true)
	// Link drops again inside the debounce window.
	time.Sleep(10 * time.Millisecond)
	c.SetNetworkOnline(false)

	select {
	case <-online:
		t.Fatal("online callback fired despite flap")
	case <-time.After(150 * time.Millisecond):
	}
	if connects, _ := transport.counts(); connects != 0 {
		t.Errorf("connects = %d, want 0", connects)
	}
}

func TestHardOfflineWinsOverNetwork(t *testing.T) {
	c := NewController(true, nil, WithDebounce(10*time.Millisecond))

	c.SetHardOffline(true)
	if !c.IsOffline() {
		t.Fatal("hard offline not effective")
	}

	// Network events cannot bring the system online while hard offline.
	c.SetNetworkOnline(true)
	time.Sleep(50 * time.Millisecond)
	if !c.IsOffline() {
		t.Error("network event overrode hard offline")
	}

	state := c.State()
	if !state.HardOffline {
		t.Error("state does not report hard offline")
	}

	online := make(chan struct{}, 1)
	c.OnOnline(func(models.NetworkState) { online <- struct{}{} })

	c.SetHardOffline(false)
	select {
	case <-online:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("releasing hard offline did not bring system online")
	}
}

func TestSignalWhileOfflineIsNoop(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(true, transport, WithDebounce(10*time.Millisecond))

	c.SetNetworkOnline(false)
	c.Signal()

	time.Sleep(50 * time.Millisecond)
	if connects, _ := transport.counts(); connects != 0 {
		t.Errorf("connects = %d after offline signal, want 0", connects)
	}
}

func TestRegisterChannelReachesTransport(t *testing.T) {
	transport := newFakeTransport()
	c := NewController(true, transport)

	if err := c.RegisterChannel(realtime.ChannelDesc{Topic: "bookings", Table: "bookings"}); err != nil {
		t.Fatalf("RegisterChannel: %v", err)
	}
	if _, ok := transport.channels["bookings"]; !ok {
		t.Error("channel not registered on transport")
	}
	if err := c.UnregisterChannel("bookings"); err != nil {
		t.Fatalf("UnregisterChannel: %v", err)
	}
	if _, ok := transport.channels["bookings"]; ok {
		t.Error("channel still registered after unregister")
	}
}
