package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/posix4e/tdx-trust-gateway/internal/attestcache"
	"github.com/posix4e/tdx-trust-gateway/internal/errkind"
	"github.com/posix4e/tdx-trust-gateway/internal/gate"
	"github.com/posix4e/tdx-trust-gateway/internal/registration"
)

// Router wires the gateway's two app-scoped routes onto a chi.Mux: the
// diagnostic status endpoint and the catch-all verifying proxy, matching
// proxy/router.py's get_registration_by_id-backed handlers.
type Router struct {
	regs   registration.Registrations
	cache  *attestcache.Cache
	client *Client
}

// NewRouter builds a Router.
func NewRouter(regs registration.Registrations, cache *attestcache.Cache, client *Client) *Router {
	return &Router{regs: regs, cache: cache, client: client}
}

// Mount attaches this gateway's routes to r.
func (rt *Router) Mount(r chi.Router) {
	r.Get("/{app_id}/_status", rt.handleStatus)
	r.Handle("/{app_id}", http.HandlerFunc(rt.handleProxy))
	r.Handle("/{app_id}/*", http.HandlerFunc(rt.handleProxy))
}

func (rt *Router) lookupRegistration(w http.ResponseWriter, r *http.Request) (registration.Registration, bool) {
	appID := chi.URLParam(r, "app_id")
	reg, err := rt.regs.Get(r.Context(), appID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, errkind.UnknownApp, "registration not found")
		return registration.Registration{}, false
	}
	return reg, true
}

// handleStatus serves a non-verifying diagnostic snapshot: cached
// attestation state (if any) plus cache statistics, matching the
// source's GET /{app_id}/_status.
func (rt *Router) handleStatus(w http.ResponseWriter, r *http.Request) {
	reg, ok := rt.lookupRegistration(w, r)
	if !ok {
		return
	}

	payload := map[string]any{
		"app_id":       reg.ID,
		"name":         reg.Name,
		"cache_stats":  rt.cache.Stats(),
	}
	if entry, found := rt.cache.Get(reg.ID); found {
		payload["cached"] = true
		payload["outcome"] = entry.Result.Outcome
		payload["cached_at"] = entry.CachedAt.Format(time.RFC3339)
	} else {
		payload["cached"] = false
	}

	writeJSON(w, http.StatusOK, payload)
}

// handleProxy is the ANY /{app_id}/{path...} verifying proxy.
func (rt *Router) handleProxy(w http.ResponseWriter, r *http.Request) {
	reg, ok := rt.lookupRegistration(w, r)
	if !ok {
		return
	}

	result, denial := gate.Evaluate(r.Context(), rt.cache, reg.ID)
	if denial != nil {
		status := http.StatusServiceUnavailable
		if denial.Kind == errkind.Forbidden {
			status = http.StatusForbidden
		}
		writeDenial(w, status, denial)
		return
	}

	tail := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	target := reg.AppEndpoint
	if tail != "" {
		target += "/" + tail
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	resp, err := rt.client.Forward(r.Context(), r.Method, target, r.Header, r.Body)
	if err != nil {
		// spec.md §6: every upstream failure, timeout included, is a 502 —
		// the gateway never reports a 504 of its own.
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   Kind(err),
			"message": err.Error(),
			"target":  target,
		})
		return
	}
	defer resp.Body.Close()

	for k, vs := range ResponseHeaders(resp.Header) {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	for k, v := range gate.Headers(result, rt.cache.TTL()) {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, map[string]string{"error": kind, "message": message})
}

// writeDenial serializes a gate.Denial's component-level detail (dcap,
// provenance, measurements outputs plus the cache timestamp) into the
// error body, matching attestation_gate's forbidden-response shape in
// spec.md §4.6, instead of collapsing it to a single message string.
func writeDenial(w http.ResponseWriter, status int, denial *gate.Denial) {
	payload := map[string]any{
		"error":   denial.Kind,
		"message": denial.Message,
	}
	if denial.Result != nil {
		payload["dcap"] = denial.Result.DCAP
		payload["provenance"] = denial.Result.Provenance
		payload["measurements"] = denial.Result.Measurement
		payload["outcome"] = denial.Result.Outcome
	}
	if !denial.CachedAt.IsZero() {
		payload["cached_at"] = denial.CachedAt.Format(time.RFC3339)
	}
	writeJSON(w, status, payload)
}
