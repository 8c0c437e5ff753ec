// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package syncengine

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/innkeeper-labs/innsync/internal/ledger"
	"github.com/innkeeper-labs/innsync/internal/models"
	"github.com/innkeeper-labs/innsync/internal/queue"
	"github.com/innkeeper-labs/innsync/internal/remote"
	"github.com/innkeeper-labs/innsync/internal/store"
)

type fakeSessions struct {
	sess  *models.Session
	valid bool
}

func (f *fakeSessions) Current() *models.Session { return f.sess }
func (f *fakeSessions) IsValid() bool            { return f.valid && f.sess != nil }

type fakeNetwork struct {
	offline bool
}

func (f *fakeNetwork) IsOffline() bool { return f.offline }

// fakeInvoker records replays and simulates remote behavior per URL.
type fakeInvoker struct {
	mu       sync.Mutex
	replayed []*models.QueueItem
	failWith map[string]error // URL -> error returned on replay
	knownRef map[string]bool  // transaction refs present remotely
	refErr   error
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{failWith: map[string]error{}, knownRef: map[string]bool{}}
}

func (f *fakeInvoker) Replay(_ context.Context, item *models.QueueItem) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failWith[item.URL]; ok {
		return nil, err
	}
	copied := *item
	f.replayed = append(f.replayed, &copied)
	return []byte(`{}`), nil
}

func (f *fakeInvoker) FindPaymentByRef(_ context.Context, _, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refErr != nil {
		return false, f.refErr
	}
	return f.knownRef[ref], nil
}

func (f *fakeInvoker) replayedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	urls := make([]string, len(f.replayed))
	for i, item := range f.replayed {
		urls[i] = item.URL
	}
	return urls
}

type testEnv struct {
	store    *store.Store
	queue    *queue.Queue
	sessions *fakeSessions
	network  *fakeNetwork
	invoker  *fakeInvoker
	payments *ledger.PaymentManager
	engine   *Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	opts := store.DefaultOptions(t.TempDir())
	opts.SyncWrites = false

	m, err := store.NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { _ = m.CloseAll() })

	st, err := m.Open("tenant-a")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sessions := &fakeSessions{sess: &models.Session{TenantID: "tenant-a", UserID: "user-1"}, valid: true}
	network := &fakeNetwork{}
	invoker := newFakeInvoker()

	q := queue.New(st, sessions, nil)
	folios := ledger.NewFolioManager(st, sessions)
	payments := ledger.NewPaymentManager(st, sessions, folios)

	engine := New(Options{
		Store:    st,
		Queue:    q,
		Sessions: sessions,
		Network:  network,
		Invoker:  invoker,
		Payments: payments,
		Device:   "desk-test",
	})

	return &testEnv{
		store:    st,
		queue:    q,
		sessions: sessions,
		network:  network,
		invoker:  invoker,
		payments: payments,
		engine:   engine,
	}
}

func TestSyncAllRefusesOffline(t *testing.T) {
	env := newTestEnv(t)
	env.network.offline = true

	res := env.engine.SyncAll(context.Background())
	if !res.Skipped {
		t.Error("sync ran while offline")
	}
}

func TestSyncAllRefusesWithoutValidSession(t *testing.T) {
	env := newTestEnv(t)
	env.sessions.valid = false

	res := env.engine.SyncAll(context.Background())
	if !res.Skipped {
		t.Error("sync ran without a valid session")
	}
}

func TestSyncAllDrainsFIFO(t *testing.T) {
	env := newTestEnv(t)

	urls := []string{"/tables/folios?n=1", "/tables/folio_transactions?n=2", "/tables/bookings?n=3"}
	for _, url := range urls {
		if _, err := env.queue.Enqueue(url, models.MethodPost, map[string]string{"url": url}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	res := env.engine.SyncAll(context.Background())
	if res.Synced != 3 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 3 synced 0 failed", res)
	}

	got := env.invoker.replayedURLs()
	for i, url := range urls {
		if got[i] != url {
			t.Errorf("replay position %d = %q, want %q", i, got[i], url)
		}
	}

	depth, err := env.queue.Depth()
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if depth != 0 {
		t.Errorf("queue depth after drain = %d, want 0", depth)
	}
}

func TestItemFailureIsContained(t *testing.T) {
	env := newTestEnv(t)

	id1, _ := env.queue.Enqueue("/tables/a", models.MethodPost, map[string]int{"n": 1})
	id2, _ := env.queue.Enqueue("/tables/b", models.MethodPost, map[string]int{"n": 2})
	id3, _ := env.queue.Enqueue("/tables/c", models.MethodPost, map[string]int{"n": 3})

	env.invoker.failWith["/tables/b"] = &remote.APIError{StatusCode: http.StatusBadGateway, Body: "upstream down"}

	res := env.engine.SyncAll(context.Background())
	if res.Synced != 2 || res.Failed != 1 {
		t.Fatalf("result = %+v, want 2 synced 1 failed", res)
	}

	for _, id := range []string{id1, id3} {
		if _, err := env.queue.Get(id); err == nil {
			t.Errorf("synced item %s still in queue", id)
		}
	}

	failed, err := env.queue.Get(id2)
	if err != nil {
		t.Fatalf("Get failed item: %v", err)
	}
	if failed.Status != models.QueueStatusFailed {
		t.Errorf("status = %s, want failed", failed.Status)
	}
	if failed.Retries != 1 {
		t.Errorf("retries = %d, want 1", failed.Retries)
	}
	if failed.Error == "" {
		t.Error("failure cause not recorded")
	}
}

func TestReplayTagsPayloadProvenance(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.queue.Enqueue("/tables/bookings", models.MethodPost, map[string]string{"id": "b1"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res := env.engine.SyncAll(context.Background())
	if res.Synced != 1 {
		t.Fatalf("result = %+v, want 1 synced", res)
	}

	var body map[string]any
	if err := json.Unmarshal(env.invoker.replayed[0].Payload, &body); err != nil {
		t.Fatalf("decode replayed payload: %v", err)
	}
	offline, ok := body["_offline"].(map[string]any)
	if !ok {
		t.Fatalf("payload missing _offline metadata: %v", body)
	}
	// The item id is the idempotency key; the remote needs it to
	// deduplicate an item replayed twice after a crash.
	if offline["queue_id"] != id {
		t.Errorf("queue_id = %v, want %s", offline["queue_id"], id)
	}
	if offline["device"] != "desk-test" {
		t.Errorf("device = %v, want desk-test", offline["device"])
	}
	if offline["tenant_id"] != "tenant-a" {
		t.Errorf("tenant = %v, want tenant-a", offline["tenant_id"])
	}
	if offline["queued_at"] == "" || offline["synced_at"] == "" {
		t.Error("timestamps missing from provenance")
	}
}

func TestPaymentDuplicateBecomesConflict(t *testing.T) {
	env := newTestEnv(t)

	payment, err := env.payments.RecordPaymentOffline(ledger.RecordPaymentParams{
		BookingID: "b1", Amount: 50, Method: "cash",
	})
	if err != nil {
		t.Fatalf("RecordPaymentOffline: %v", err)
	}
	if _, err := env.queue.Enqueue("/tables/payments", models.MethodPost, payment); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The remote already holds this ref: replayed earlier from another desk.
	env.invoker.knownRef[payment.TransactionRef] = true

	res := env.engine.SyncAll(context.Background())
	if res.Synced != 1 || res.Conflicts != 1 || res.Failed != 0 {
		t.Fatalf("result = %+v, want 1 synced 1 conflict", res)
	}
	if len(env.invoker.replayed) != 0 {
		t.Error("duplicate payment was still replayed")
	}

	conflicts, err := env.store.GetAll(models.CollectionConflicts)
	if err != nil {
		t.Fatalf("GetAll conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("conflicts = %d, want 1", len(conflicts))
	}

	got, err := env.payments.GetPayment(payment.ID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if got.SyncState != models.PaymentSyncConfirmed {
		t.Errorf("payment sync state = %s, want confirmed", got.SyncState)
	}
}

func TestPaymentReplayWithoutDuplicate(t *testing.T) {
	env := newTestEnv(t)

	payment, err := env.payments.RecordPaymentOffline(ledger.RecordPaymentParams{
		BookingID: "b1", Amount: 50, Method: "cash",
	})
	if err != nil {
		t.Fatalf("RecordPaymentOffline: %v", err)
	}
	if _, err := env.queue.Enqueue("/tables/payments", models.MethodPost, payment); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res := env.engine.SyncAll(context.Background())
	if res.Synced != 1 || res.Conflicts != 0 {
		t.Fatalf("result = %+v, want 1 synced 0 conflicts", res)
	}
	if len(env.invoker.replayed) != 1 {
		t.Fatal("payment not replayed")
	}

	got, err := env.payments.GetPayment(payment.ID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if got.SyncState != models.PaymentSyncConfirmed {
		t.Errorf("payment sync state = %s, want confirmed", got.SyncState)
	}
}

func TestPaymentDeferredWhenDuplicateCheckFails(t *testing.T) {
	env := newTestEnv(t)

	payment, err := env.payments.RecordPaymentOffline(ledger.RecordPaymentParams{
		BookingID: "b1", Amount: 50, Method: "cash",
	})
	if err != nil {
		t.Fatalf("RecordPaymentOffline: %v", err)
	}
	id, err := env.queue.Enqueue("/tables/payments", models.MethodPost, payment)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	env.invoker.refErr = &remote.APIError{StatusCode: http.StatusServiceUnavailable, Body: "down"}

	res := env.engine.SyncAll(context.Background())
	if res.Failed != 1 || res.Synced != 0 {
		t.Fatalf("result = %+v, want 1 failed", res)
	}
	if len(env.invoker.replayed) != 0 {
		t.Error("payment inserted without a duplicate check")
	}

	item, err := env.queue.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if item.Status != models.QueueStatusFailed {
		t.Errorf("status = %s, want failed", item.Status)
	}
}

func TestPaymentPermanentRefusalRejects(t *testing.T) {
	env := newTestEnv(t)

	payment, err := env.payments.RecordPaymentOffline(ledger.RecordPaymentParams{
		BookingID: "b1", Amount: 50, Method: "cash",
	})
	if err != nil {
		t.Fatalf("RecordPaymentOffline: %v", err)
	}
	if _, err := env.queue.Enqueue("/tables/payments", models.MethodPost, payment); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	env.invoker.failWith["/tables/payments"] = &remote.APIError{
		StatusCode: http.StatusUnprocessableEntity, Body: "invalid amount",
	}

	res := env.engine.SyncAll(context.Background())
	if res.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", res)
	}

	got, err := env.payments.GetPayment(payment.ID)
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if got.SyncState != models.PaymentSyncRejected {
		t.Errorf("payment sync state = %s, want rejected", got.SyncState)
	}
}

func TestSyncMetadataRecorded(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.queue.Enqueue("/tables/bookings", models.MethodPost, map[string]string{"id": "b1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	env.engine.SyncAll(context.Background())

	raws, err := env.store.GetAll(models.CollectionSyncMetadata)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("sync metadata rows = %d, want 1", len(raws))
	}

	var meta models.SyncMetadata
	if err := json.Unmarshal(raws[0], &meta); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !meta.Success || meta.RecordCount != 1 {
		t.Errorf("metadata = %+v, want success with 1 record", meta)
	}
}

func TestRetryFailedHonorsBackoff(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.queue.Enqueue("/tables/a", models.MethodPost, map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := env.queue.MarkFailed(id, "boom"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	// Immediately after the failure the 1s backoff has not elapsed.
	res := env.engine.RetryFailed(context.Background())
	if !res.Skipped {
		t.Errorf("retry ran inside backoff window: %+v", res)
	}

	// Advance the engine clock past the first backoff interval.
	env.engine.SetClock(func() time.Time { return time.Now().Add(2 * time.Second) })
	res = env.engine.RetryFailed(context.Background())
	if res.Skipped {
		t.Fatalf("retry skipped after backoff elapsed: %+v", res)
	}
	if res.Synced != 1 {
		t.Errorf("result = %+v, want 1 synced", res)
	}
}

func TestRetryFailedSkipsExhaustedItems(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.queue.Enqueue("/tables/a", models.MethodPost, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// Each MarkFailed counts one replay attempt.
	for i := 0; i < queue.DefaultMaxRetries; i++ {
		if err := env.queue.MarkFailed(id, "boom"); err != nil {
			t.Fatalf("MarkFailed: %v", err)
		}
	}

	env.engine.SetClock(func() time.Time { return time.Now().Add(time.Hour) })
	res := env.engine.RetryFailed(context.Background())
	if !res.Skipped {
		t.Errorf("exhausted item was auto-retried: %+v", res)
	}
}

func TestHandleOnlineSignalDrainsAfterSettle(t *testing.T) {
	env := newTestEnv(t)
	env.engine.settle = 10 * time.Millisecond

	if _, err := env.queue.Enqueue("/tables/bookings", models.MethodPost, map[string]string{"id": "b1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	res := env.engine.HandleOnlineSignal(context.Background())
	if res.Skipped || res.Synced != 1 {
		t.Errorf("result = %+v, want 1 synced", res)
	}
}

func TestHandleOnlineSignalAbortsWhenLinkDrops(t *testing.T) {
	env := newTestEnv(t)
	env.engine.settle = 10 * time.Millisecond

	if _, err := env.queue.Enqueue("/tables/bookings", models.MethodPost, map[string]string{"id": "b1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// The link flaps back down during the settle window.
	env.network.offline = true
	res := env.engine.HandleOnlineSignal(context.Background())
	if !res.Skipped {
		t.Errorf("drained with a dropped link: %+v", res)
	}
	if len(env.invoker.replayed) != 0 {
		t.Error("items replayed while offline")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res = env.engine.HandleOnlineSignal(ctx)
	if !res.Skipped || res.Reason != "cancelled" {
		t.Errorf("cancelled signal result = %+v", res)
	}
}
