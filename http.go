package heapview

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/segmentio/encoding/json"

	"github.com/hazyhaar/heapview/internal/perspective"
	"github.com/hazyhaar/heapview/internal/shield"
	"github.com/hazyhaar/heapview/kit"
)

type route struct {
	method string
	path   string
	op     string
}

var routes = []route{
	{http.MethodGet, "/api/sessions", "sessions"},
	{http.MethodPost, "/api/sessions/snapshot", "take_snapshot"},
	{http.MethodPost, "/api/sessions/load", "load"},
	{http.MethodPost, "/api/tracking/start", "start_tracking"},
	{http.MethodPost, "/api/tracking/stop", "stop_tracking"},
	{http.MethodGet, "/api/heap", "heap_usage"},
	{http.MethodGet, "/api/sessions/{uid}", "session"},
	{http.MethodDelete, "/api/sessions/{uid}", "remove"},
	{http.MethodPost, "/api/sessions/{uid}/save", "save"},
	{http.MethodGet, "/api/sessions/{uid}/view", "show"},
	{http.MethodPost, "/api/sessions/{uid}/perspective", "select_perspective"},
	{http.MethodPost, "/api/sessions/{uid}/search", "search"},
	{http.MethodPost, "/api/sessions/{uid}/search/next", "next_result"},
	{http.MethodPost, "/api/sessions/{uid}/search/previous", "previous_result"},
	{http.MethodPost, "/api/sessions/{uid}/reveal", "reveal_object"},
	{http.MethodGet, "/api/sessions/{uid}/statistics", "statistics"},
	{http.MethodPost, "/api/sessions/{uid}/base", "set_base"},
	{http.MethodPost, "/api/sessions/{uid}/filter", "set_filter"},
	{http.MethodPost, "/api/sessions/{uid}/class-filter", "set_class_filter"},
	{http.MethodPost, "/api/sessions/{uid}/allocation", "select_allocation"},
}

// NewHTTPHandler returns the JSON API of the profiler.
func (p *Profiler) NewHTTPHandler() http.Handler {
	ops := make(map[string]operation)
	for _, op := range p.operations() {
		ops[op.name] = op
	}

	r := chi.NewRouter()
	for _, mw := range shield.APIStack(p.logger) {
		r.Use(mw)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	for _, rt := range routes {
		op := ops[rt.op]
		r.Method(rt.method, rt.path, p.handle(op))
	}
	return r
}

func (p *Profiler) handle(op operation) http.HandlerFunc {
	endpoint := kit.Logging(p.logger, "heapview_"+op.name)(op.endpoint)
	return func(w http.ResponseWriter, r *http.Request) {
		req := op.newReq()
		if r.Body != nil && r.Method != http.MethodGet {
			if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
				code := http.StatusBadRequest
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					code = http.StatusRequestEntityTooLarge
				}
				writeError(w, code, err)
				return
			}
		}

		ctx := r.Context()
		if raw := chi.URLParam(r, "uid"); raw != "" {
			uid, err := strconv.Atoi(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid session uid"))
				return
			}
			if t, ok := req.(sessionTarget); ok {
				t.setSessionUID(uid)
			}
			ctx = kit.WithSessionUID(ctx, uid)
		}

		resp, err := endpoint(ctx, req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyRecording), errors.Is(err, ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownPerspective), errors.Is(err, perspective.ErrUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotStarted), errors.Is(err, ErrNoPage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
