package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/heapview/event"
)

func TestRouter_FanOutContinuesAfterError(t *testing.T) {
	boom := errors.New("boom")
	var got []event.Kind
	failing := NewCallback(func(context.Context, event.Event) error { return boom })
	ok := NewCallback(func(_ context.Context, ev event.Event) error {
		got = append(got, ev.Kind)
		return nil
	})
	r := NewRouter(nil, failing, ok)

	err := r.Send(context.Background(), event.Event{Kind: event.KindProfileComplete})
	if !errors.Is(err, boom) {
		t.Fatalf("send: got %v, want boom", err)
	}
	if len(got) != 1 || got[0] != event.KindProfileComplete {
		t.Fatalf("second sink: got %v", got)
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	s.Send(context.Background(), event.Event{ID: "evt_1", Kind: event.KindSessionAdded, SessionUID: 1})
	s.Send(context.Background(), event.Event{ID: "evt_2", Kind: event.KindSessionRemoved, SessionUID: 1})

	dec := json.NewDecoder(&buf)
	var env struct {
		Type string      `json:"type"`
		Data event.Event `json:"data"`
	}
	if err := dec.Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "session_added" || env.Data.ID != "evt_1" {
		t.Fatalf("first line: got %+v", env)
	}
	if err := dec.Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Type != "session_removed" {
		t.Fatalf("second line: got %+v", env)
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), event.Event{Kind: event.KindSnapshotReceived}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	if err := wh.Send(context.Background(), event.Event{Kind: event.KindSnapshotReceived}); err == nil {
		t.Fatal("send: expected error")
	}
}

func TestWebhook_PermanentRejection(t *testing.T) {
	var calls atomic.Int32
	headers := make(chan http.Header, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	err := wh.Send(context.Background(), event.Event{ID: "evt_1", Kind: event.KindSessionAdded})
	if !errors.Is(err, errPermanent) {
		t.Fatalf("send: got %v, want errPermanent", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls: got %d, want 1", calls.Load())
	}
	h := <-headers
	if h.Get("X-Heapview-Event-ID") != "evt_1" || h.Get("X-Heapview-Event-Kind") != "session_added" {
		t.Fatalf("headers: got %v", h)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("2"); got != 2*time.Second {
		t.Fatalf("retry-after 2: got %v", got)
	}
	if got := parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"); got != 0 {
		t.Fatalf("http date: got %v, want 0", got)
	}
}
