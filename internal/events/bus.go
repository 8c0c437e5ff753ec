// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// Package events is the in-process pub/sub bus for sync lifecycle
// notifications. Components publish fire-and-forget; slow or absent
// subscribers never block the publisher.
package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/innkeeper-labs/innsync/internal/logging"
)

// Topics carried by the bus.
const (
	TopicSyncStarted    = "sync.started"
	TopicSyncCompleted  = "sync.completed"
	TopicQueueEnqueued  = "queue.enqueued"
	TopicNetworkChanged = "network.changed"
	TopicSessionChanged = "session.changed"
)

// Bus wraps an in-process pub/sub channel with JSON payloads.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the bus. Buffered so publishers never wait on consumers.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newWatermillLogger(logging.Logger())),
	}
}

// Publish marshals payload to JSON and publishes it on topic. Errors are
// logged, not returned; event delivery is best-effort.
func (b *Bus) Publish(topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("failed to encode event payload")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), raw)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		logging.Warn().Err(err).Str("topic", topic).Msg("failed to publish event")
	}
}

// Subscribe returns a channel of raw event payloads for topic. The channel
// closes when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan json.RawMessage, error) {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan json.RawMessage, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			msg.Ack()
			select {
			case out <- json.RawMessage(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down; in-flight subscribers get their channels closed.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// watermillLogger adapts zerolog to watermill's logger contract.
type watermillLogger struct {
	log zerolog.Logger
}

func newWatermillLogger(log zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{log: log.With().Str("component", "events").Logger()}
}

func (l *watermillLogger) withFields(fields watermill.LogFields) *zerolog.Event {
	ev := l.log.Debug()
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	return ev
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	ev := l.log.Error().Err(err)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.withFields(fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.withFields(fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.withFields(fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	log := l.log.With()
	for k, v := range fields {
		log = log.Interface(k, v)
	}
	return &watermillLogger{log: log.Logger()}
}
