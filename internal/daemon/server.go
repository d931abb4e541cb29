package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/tally/internal/bulk"
	"github.com/yairfalse/tally/internal/guard"
	"github.com/yairfalse/tally/internal/provider"
	"github.com/yairfalse/tally/internal/reconciler"
	"github.com/yairfalse/tally/internal/store"
	"github.com/yairfalse/tally/pkg/resource"
)

func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /readyz", d.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/contexts", d.handleContexts)
	mux.HandleFunc("POST /v1/reconcile/{context}", d.handleReconcileAll)
	mux.HandleFunc("POST /v1/reconcile/{context}/{type}", d.handleReconcile)
	mux.HandleFunc("GET /v1/records/{context}/{type}", d.handleRecords)
	mux.HandleFunc("POST /v1/bulk", d.handleBulk)
	return mux
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Health())
}

func (d *Daemon) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !d.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, errors.New("scheduler not running"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type contextView struct {
	Name  string          `json:"name"`
	Types []resource.Type `json:"types"`
}

func (d *Daemon) handleContexts(w http.ResponseWriter, _ *http.Request) {
	out := []contextView{}
	for _, name := range d.svc.Contexts() {
		types, _ := d.svc.Types(name)
		out = append(out, contextView{Name: name, Types: types})
	}
	writeJSON(w, http.StatusOK, out)
}

// resultView is the wire form of a pass result.
type resultView struct {
	reconciler.Result
	Errors []string `json:"errors,omitempty"`
}

func viewOf(res reconciler.Result) resultView {
	return resultView{Result: res, Errors: res.ErrorMessages()}
}

func (d *Daemon) handleReconcile(w http.ResponseWriter, r *http.Request) {
	t, err := resource.ParseType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := d.svc.TriggerReconcile(r.Context(), r.PathValue("context"), t)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	d.passes.Add(1)
	writeJSON(w, http.StatusOK, viewOf(res))
}

func (d *Daemon) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	results, err := d.svc.TriggerReconcileAll(r.Context(), r.PathValue("context"))
	if results == nil && err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	d.passes.Add(int64(len(results)))

	out := map[resource.Type]resultView{}
	for t, res := range results {
		out[t] = viewOf(res)
	}
	body := map[string]any{"results": out}
	status := http.StatusOK
	if err != nil {
		body["error"] = err.Error()
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, body)
}

func (d *Daemon) handleRecords(w http.ResponseWriter, r *http.Request) {
	t, err := resource.ParseType(r.PathValue("type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := d.svc.List(r.Context(), r.PathValue("context"), t)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if recs == nil {
		recs = []resource.LocalRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type bulkView struct {
	Preview *bulk.Preview     `json:"preview,omitempty"`
	Result  *bulk.Result      `json:"result,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func (d *Daemon) handleBulk(w http.ResponseWriter, r *http.Request) {
	var req bulk.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commit, _ := strconv.ParseBool(r.URL.Query().Get("commit"))

	out, err := d.svc.TriggerBulkAction(r.Context(), req, commit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view := bulkView{Preview: out.Preview, Result: out.Result}
	if out.Result != nil {
		view.Errors = out.Result.ErrorMessages()
	}
	writeJSON(w, http.StatusOK, view)
}

func statusFor(err error) int {
	var conflict *reconciler.ConflictError
	var fetch *reconciler.ProviderFetchError
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &fetch):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrUnknownContext), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resource.ErrUnsupportedType),
		errors.Is(err, resource.ErrUnsupportedAction),
		errors.Is(err, bulk.ErrNoTargets):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
