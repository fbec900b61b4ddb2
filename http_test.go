package heapview

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/segmentio/encoding/json"
)

func doJSON(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rd bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&rd).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequestWithContext(testCtx(t), method, srv.URL+path, &rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestHTTP_Health(t *testing.T) {
	p, _ := newProfiler(t)
	srv := httptest.NewServer(p.NewHTTPHandler())
	defer srv.Close()

	var body map[string]string
	if code := doJSON(t, srv, http.MethodGet, "/health", nil, &body); code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: got %d %v", code, body)
	}
}

func TestHTTP_SnapshotAndView(t *testing.T) {
	p, _ := newProfiler(t)
	srv := httptest.NewServer(p.NewHTTPHandler())
	defer srv.Close()

	var info SessionInfo
	if code := doJSON(t, srv, http.MethodPost, "/api/sessions/snapshot", map[string]any{"wait": true}, &info); code != http.StatusOK {
		t.Fatalf("snapshot: got %d", code)
	}
	var list []SessionInfo
	if code := doJSON(t, srv, http.MethodGet, "/api/sessions", nil, &list); code != http.StatusOK || len(list) != 1 {
		t.Fatalf("sessions: got %d %v", code, list)
	}

	var view ViewState
	if code := doJSON(t, srv, http.MethodGet, "/api/sessions/1/view", nil, &view); code != http.StatusOK {
		t.Fatalf("view: got %d", code)
	}
	if r, ok := rowByName(view.Rows, "Foo"); !ok || r.Count != 2 {
		t.Fatalf("Foo row: got %+v %v", r, ok)
	}

	var st SearchState
	if code := doJSON(t, srv, http.MethodPost, "/api/sessions/1/search", map[string]any{"text": "hello"}, &st); code != http.StatusOK || st.Matches != 1 {
		t.Fatalf("search: got %d %+v", code, st)
	}

	var recs []StatRecord
	if code := doJSON(t, srv, http.MethodGet, "/api/sessions/1/statistics", nil, &recs); code != http.StatusOK || len(recs) != 6 {
		t.Fatalf("statistics: got %d %v", code, recs)
	}
}

func TestHTTP_ErrorStatus(t *testing.T) {
	p, _ := newProfiler(t)
	srv := httptest.NewServer(p.NewHTTPHandler())
	defer srv.Close()

	if code := doJSON(t, srv, http.MethodGet, "/api/sessions/9", nil, nil); code != http.StatusNotFound {
		t.Fatalf("unknown session: got %d, want 404", code)
	}
	if code := doJSON(t, srv, http.MethodGet, "/api/sessions/abc", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad uid: got %d, want 400", code)
	}
	if code := doJSON(t, srv, http.MethodPost, "/api/tracking/stop", nil, nil); code != http.StatusConflict {
		t.Fatalf("stop tracking: got %d, want 409", code)
	}
	if code := doJSON(t, srv, http.MethodGet, "/api/heap", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("heap: got %d, want 503", code)
	}

	doJSON(t, srv, http.MethodPost, "/api/sessions/snapshot", map[string]any{"wait": true}, nil)
	if code := doJSON(t, srv, http.MethodPost, "/api/sessions/1/perspective", map[string]any{"perspective": "Nope"}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown perspective: got %d, want 400", code)
	}
}

func TestHTTP_Middleware(t *testing.T) {
	p, _ := newProfiler(t)
	srv := httptest.NewServer(p.NewHTTPHandler())
	defer srv.Close()

	resp, err := srv.Client().Head(srv.URL + "/health")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("head health: got %d, want 200", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("nosniff: got %q", got)
	}

	big := map[string]any{"path": strings.Repeat("x", 128*1024)}
	if code := doJSON(t, srv, http.MethodPost, "/api/sessions/load", big, nil); code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: got %d, want 413", code)
	}
}
