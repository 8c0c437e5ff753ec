// InnSync - Offline-First Synchronization Core for Hotel Desk Operations
// Copyright 2026 Innkeeper Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/innkeeper-labs/innsync

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/innkeeper-labs/innsync/internal/models"
)

func TestReplaySendsMethodPayloadAndAuth(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotKey string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, func() string { return "tok-123" })
	item := &models.QueueItem{
		ID:      "q-77",
		URL:     "/tables/bookings",
		Method:  models.MethodPost,
		Payload: json.RawMessage(`{"id":"b1"}`),
	}

	resp, err := c.Replay(context.Background(), item)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if string(resp) != `{"ok":true}` {
		t.Errorf("response = %s", resp)
	}
	if gotMethod != "POST" || gotPath != "/tables/bookings" {
		t.Errorf("request = %s %s, want POST /tables/bookings", gotMethod, gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotKey != "q-77" {
		t.Errorf("idempotency key = %q, want q-77", gotKey)
	}
	if string(gotBody) != `{"id":"b1"}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestReplayIdempotencyKeyOnDelete(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	item := &models.QueueItem{ID: "q-88", URL: "/tables/bookings?id=b1", Method: models.MethodDelete}
	if _, err := c.Replay(context.Background(), item); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if gotKey != "q-88" {
		t.Errorf("idempotency key = %q, want q-88", gotKey)
	}
}

func TestWithTimeoutOverridesDefault(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil, WithTimeout(5*time.Second))
	if c.http.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.http.Timeout)
	}

	c = NewClient("http://127.0.0.1:1", nil, WithTimeout(0))
	if c.http.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s default kept", c.http.Timeout)
	}
}

func TestReplayRowMutationRequiresID(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)

	item := &models.QueueItem{URL: "/tables/bookings", Method: models.MethodPatch, Payload: json.RawMessage(`{}`)}
	if _, err := c.Replay(context.Background(), item); !errors.Is(err, ErrMissingID) {
		t.Errorf("patch without id: got %v, want ErrMissingID", err)
	}

	item = &models.QueueItem{URL: "/tables/bookings?id=b1", Method: models.MethodDelete}
	if _, err := c.Replay(context.Background(), item); errors.Is(err, ErrMissingID) {
		t.Error("delete with id rejected")
	}
}

func TestAPIErrorPermanence(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusConflict, true},
		{http.StatusUnprocessableEntity, true},
		{http.StatusRequestTimeout, false},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
		}))

		c := NewClient(srv.URL, nil)
		item := &models.QueueItem{URL: "/tables/bookings", Method: models.MethodPost, Payload: json.RawMessage(`{}`)}
		_, err := c.Replay(context.Background(), item)
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: error %v is not APIError", tc.status, err)
		}
		if apiErr.StatusCode != tc.status {
			t.Errorf("status code = %d, want %d", apiErr.StatusCode, tc.status)
		}
		if IsPermanent(err) != tc.permanent {
			t.Errorf("IsPermanent(%d) = %v, want %v", tc.status, !tc.permanent, tc.permanent)
		}
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", nil)
	item := &models.QueueItem{URL: "/tables/bookings", Method: models.MethodPost, Payload: json.RawMessage(`{}`)}

	_, err := c.Replay(context.Background(), item)
	if err == nil {
		t.Fatal("expected connection error")
	}
	if IsPermanent(err) {
		t.Error("network error classified as permanent")
	}
}

func TestFindPaymentByRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("tenant_id") != "eq.tenant-a" {
			t.Errorf("tenant filter = %q", q.Get("tenant_id"))
		}
		switch q.Get("transaction_ref") {
		case "eq.OFFLINE-known":
			fmt.Fprint(w, `[{"id":"p1"}]`)
		default:
			fmt.Fprint(w, `[]`)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	found, err := c.FindPaymentByRef(context.Background(), "tenant-a", "OFFLINE-known")
	if err != nil {
		t.Fatalf("FindPaymentByRef: %v", err)
	}
	if !found {
		t.Error("known ref not found")
	}

	found, err = c.FindPaymentByRef(context.Background(), "tenant-a", "OFFLINE-unknown")
	if err != nil {
		t.Fatalf("FindPaymentByRef: %v", err)
	}
	if found {
		t.Error("unknown ref reported found")
	}
}

func TestCallFunctionAndRPCPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.CallFunction(context.Background(), "check-in", map[string]string{"booking": "b1"}); err != nil {
		t.Fatalf("CallFunction: %v", err)
	}
	if _, err := c.CallRPC(context.Background(), "night_audit", nil); err != nil {
		t.Fatalf("CallRPC: %v", err)
	}

	want := []string{"POST /functions/v1/check-in", "POST /rpc/night_audit"}
	for i, w := range want {
		if paths[i] != w {
			t.Errorf("call %d = %q, want %q", i, paths[i], w)
		}
	}
}
