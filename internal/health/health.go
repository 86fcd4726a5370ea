// Package health implements the liveness and readiness probes.
//
// Liveness is unconditional: a process that can answer HTTP is alive.
// Readiness aggregates named probes over the service's dependencies. A
// probe can be advisory, in which case its failure is surfaced in the
// response body but does not make the service unready. The analysis
// engine running on its standby is the advisory case this exists for:
// transcription still flows, operators just need to see it.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// probeTimeout bounds each individual readiness probe.
const probeTimeout = 5 * time.Second

// Statuses as they appear in the readiness response, both overall and
// per check.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Check is one named readiness probe.
type Check struct {
	// Name keys the probe's result in the response body ("database",
	// "audio_dir", "engine").
	Name string

	// Advisory probes report failure as degraded instead of failing
	// readiness.
	Advisory bool

	// Probe inspects the dependency. It must honor ctx.
	Probe func(ctx context.Context) error
}

type response struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The check list is fixed at
// construction; all methods are safe for concurrent use.
type Handler struct {
	checks []Check
}

// New returns a Handler that evaluates the given checks on every
// readiness request.
func New(checks ...Check) *Handler {
	return &Handler{checks: append([]Check(nil), checks...)}
}

// Healthz reports liveness and always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, response{Status: StatusOK})
}

// Readyz runs every check concurrently and reduces the results: a failed
// non-advisory check makes the service unready (503), failed advisory
// checks leave it ready with the overall status lowered to degraded.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	outcomes := make([]error, len(h.checks))
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			outcomes[i] = c.Probe(ctx)
			return nil
		})
	}
	// Probe outcomes travel through the outcomes slice, never as group
	// errors, so Wait only synchronizes.
	_ = g.Wait()

	res := response{Status: StatusOK, Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK
	for i, c := range h.checks {
		err := outcomes[i]
		switch {
		case err == nil:
			res.Checks[c.Name] = StatusOK
		case c.Advisory:
			res.Checks[c.Name] = StatusDegraded + ": " + err.Error()
			if res.Status == StatusOK {
				res.Status = StatusDegraded
			}
		default:
			res.Checks[c.Name] = StatusFail + ": " + err.Error()
			res.Status = StatusFail
			code = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, res)
}

// Register mounts both probe endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
	}
}
