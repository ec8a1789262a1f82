// Package health provides HTTP liveness and readiness probes for the diarist
// server.
//
//   - /healthz — liveness; a process that can serve HTTP is alive.
//   - /readyz  — readiness; 200 only when every registered probe passes
//     (e.g. the enrollment registry database is reachable).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// probeTimeout bounds how long a single readiness probe may run.
const probeTimeout = 5 * time.Second

// Probe is a named readiness check. Check returns nil when the dependency is
// healthy; it must respect context cancellation.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler serves the health endpoints. The probe list is fixed at
// construction time, so the handler is safe for concurrent use.
type Handler struct {
	probes []Probe
}

// New creates a [Handler] that evaluates the given probes, in order, on each
// /readyz request.
func New(probes ...Probe) *Handler {
	p := make([]Probe, len(probes))
	copy(p, probes)
	return &Handler{probes: p}
}

// report is the JSON body for both endpoints.
type report struct {
	Status string            `json:"status"`
	Probes map[string]string `json:"probes,omitempty"`
}

// Healthz always answers 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs every probe under a [probeTimeout] deadline and answers 200
// only when all pass; otherwise 503 with per-probe failure details.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := report{Status: "ok", Probes: make(map[string]string, len(h.probes))}
	status := http.StatusOK

	for _, p := range h.probes {
		ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Check(ctx)
		cancel()

		if err != nil {
			res.Probes[p.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
		} else {
			res.Probes[p.Name] = "ok"
		}
	}

	writeJSON(w, status, res)
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
