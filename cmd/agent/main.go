// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

// The agent is the headless sync core embedded by the desktop shell. It
// restores the last session, watches connectivity, and drains the offline
// mutation queue whenever the link comes back.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/innkeeper-labs/innsync/internal/config"
	"github.com/innkeeper-labs/innsync/internal/events"
	"github.com/innkeeper-labs/innsync/internal/ledger"
	"github.com/innkeeper-labs/innsync/internal/logging"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/queue"
	"github.com/innkeeper-labs/innsync/internal/realtime"
	"github.com/innkeeper-labs/innsync/internal/remote"
	"github.com/innkeeper-labs/innsync/internal/runtime"
	"github.com/innkeeper-labs/innsync/internal/session"
	"github.com/innkeeper-labs/innsync/internal/store"
	"github.com/innkeeper-labs/innsync/internal/supervisor"
	"github.com/innkeeper-labs/innsync/internal/supervisor/services"
	"github.com/innkeeper-labs/innsync/internal/syncengine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("store_root", cfg.Store.Root).Msg("innsync agent starting")

	stores, err := store.NewManager(store.Options{
		Root:             cfg.Store.Root,
		SyncWrites:       cfg.Store.SyncWrites,
		MemTableSize:     cfg.Store.MemTableSize,
		ValueLogFileSize: cfg.Store.ValueLogFileSize,
		NumCompactors:    cfg.Store.NumCompactors,
		CloseTimeout:     cfg.Store.CloseTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create store manager")
	}
	defer func() {
		if err := stores.CloseAll(); err != nil {
			logging.Error().Err(err).Msg("failed to close tenant stores")
		}
	}()

	sessions := session.NewManager(stores, filepath.Join(cfg.Store.Root, "prefs.json"))
	sess, err := sessions.InitializeSession()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to restore session")
	}
	if sess == nil {
		logging.Fatal().Msg("no stored session; sign in from the desktop shell first")
	}

	tenantStore, err := stores.Open(sess.TenantID)
	if err != nil {
		logging.Fatal().Err(err).Str("tenant", sess.TenantID).Msg("failed to open tenant store")
	}

	token := func() string {
		if s := sessions.Current(); s != nil {
			return s.AccessToken
		}
		return ""
	}

	var transport realtime.Transport
	if cfg.Realtime.Enabled {
		applier := realtime.NewCacheApplier(tenantStore)
		transport = realtime.NewWSTransport(cfg.Realtime.URL, token, applier.Apply)
	}

	controller := runtime.NewController(cfg.Runtime.OfflineEnabled, transport,
		runtime.WithDebounce(cfg.Runtime.ReconnectDebounce))
	defer controller.Shutdown()

	var invoker remote.Invoker = remote.NewClient(cfg.Remote.BaseURL, token,
		remote.WithTimeout(cfg.Remote.Timeout),
		remote.WithRateLimit(cfg.Remote.RateLimitRPS, cfg.Remote.RateLimitBurst))
	if cfg.Remote.BreakerEnabled {
		invoker = remote.NewBreakerInvoker(invoker)
	}

	bus := events.NewBus()
	defer func() { _ = bus.Close() }()

	mutations := queue.New(tenantStore, sessions, nil,
		queue.WithBus(bus), queue.WithMaxRetries(cfg.Sync.MaxRetries))
	folios := ledger.NewFolioManager(tenantStore, sessions)
	payments := ledger.NewPaymentManager(tenantStore, sessions, folios)

	engine := syncengine.New(syncengine.Options{
		Store:    tenantStore,
		Queue:    mutations,
		Sessions: sessions,
		Network:  controller,
		Invoker:  invoker,
		Payments: payments,
		Bus:      bus,
		Device:   cfg.Sync.Device,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller.OnOnline(func(state models.NetworkState) {
		bus.Publish(events.TopicNetworkChanged, state)
		go engine.HandleOnlineSignal(ctx)
	})
	controller.OnOffline(func(state models.NetworkState) {
		bus.Publish(events.TopicNetworkChanged, state)
	})
	unsubscribe := sessions.Subscribe(func(s *models.Session) {
		payload := map[string]any{"active": s != nil}
		if s != nil {
			payload["tenant_id"] = s.TenantID
			payload["user_id"] = s.UserID
		}
		bus.Publish(events.TopicSessionChanged, payload)
	})
	defer unsubscribe()
	if cfg.Realtime.Enabled {
		if err := controller.RegisterChannel(realtime.ChannelDesc{
			Topic:  "tenant:" + sess.TenantID,
			Table:  "*",
			Filter: "tenant_id=eq." + sess.TenantID,
		}); err != nil {
			logging.Warn().Err(err).Msg("failed to register realtime channel")
		}
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if cfg.Runtime.ProbeURL != "" {
		monitor := runtime.NewMonitor(controller, cfg.Runtime.ProbeURL, cfg.Runtime.ProbeInterval)
		tree.AddNetworkService(services.NewMonitorService(monitor))
	}
	tree.AddSyncService(services.NewRetryService(engine, cfg.Sync.RetryInterval))

	logging.Info().Str("tenant", sess.TenantID).Msg("innsync agent ready")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor tree exited")
		os.Exit(1)
	}
	logging.Info().Msg("innsync agent stopped")
}
