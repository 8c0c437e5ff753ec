// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package events

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, TopicSyncCompleted)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish(TopicSyncCompleted, map[string]any{"synced": 3, "tenant_id": "tenant-a"})

	select {
	case raw := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if payload["tenant_id"] != "tenant-a" {
			t.Errorf("tenant = %v, want tenant-a", payload["tenant_id"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(TopicQueueEnqueued, map[string]int{"n": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked without subscribers")
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	bus := NewBus()
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := bus.Subscribe(ctx, TopicNetworkChanged)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cancel()

	select {
	case _, open := <-ch:
		if open {
			t.Error("received event after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
