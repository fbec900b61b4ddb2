package shield

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/heapview/kit"
)

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	serve(h, httptest.NewRequest(http.MethodHead, "/health", nil))
	if method != http.MethodGet {
		t.Fatalf("method: got %q, want GET", method)
	}
}

func TestSecurityHeaders_Default(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	for k, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Fatalf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestSecurityHeaders_EmptySkipped(t *testing.T) {
	h := SecurityHeaders(HeaderConfig{XFrameOptions: "DENY"})(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Content-Security-Policy"); got != "" {
		t.Fatalf("csp: got %q, want empty", got)
	}
}

func TestMaxJSONBody_Rejects(t *testing.T) {
	var readErr error
	h := MaxJSONBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	serve(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"path":"/tmp/x.heapsnapshot"}`)))
	if readErr == nil {
		t.Fatal("oversized body: expected read error")
	}
}

func TestMaxJSONBody_Allows(t *testing.T) {
	var body string
	h := MaxJSONBody(64)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	serve(h, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"uid":1}`)))
	if body != `{"uid":1}` {
		t.Fatalf("body: got %q", body)
	}
}

func TestRequestID_Generated(t *testing.T) {
	var id, transport string
	h := RequestID(slog.New(slog.DiscardHandler))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = kit.GetRequestID(r.Context())
		transport = kit.GetTransport(r.Context())
	}))
	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.HasPrefix(id, "req_") {
		t.Fatalf("id: got %q, want req_ prefix", id)
	}
	if rec.Header().Get("X-Request-ID") != id {
		t.Fatalf("header: got %q, want %q", rec.Header().Get("X-Request-ID"), id)
	}
	if transport != "http" {
		t.Fatalf("transport: got %q, want http", transport)
	}
}

func TestRequestID_Reused(t *testing.T) {
	var id string
	h := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = kit.GetRequestID(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-7")
	serve(h, req)
	if id != "client-7" {
		t.Fatalf("id: got %q, want client-7", id)
	}
}

func TestAPIStack_Order(t *testing.T) {
	if n := len(APIStack(nil)); n != 4 {
		t.Fatalf("stack: got %d middlewares, want 4", n)
	}
}
