// Package health serves the reading server's liveness and readiness probes.
//
// /healthz answers 200 while the process can serve HTTP. /readyz runs every
// registered [Checker] concurrently and answers:
//
//   - 200 "ok" when all checks pass,
//   - 200 "degraded" when only optional checks fail (a fallback provider is
//     carrying a stage, say),
//   - 503 "fail" when a required check fails,
//   - 503 "draining" once shutdown has begun, without running checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Probe statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
	StatusDraining = "draining"
)

// Checker is one named readiness check.
type Checker struct {
	// Name keys the check in the response ("providers", "breakers").
	Name string

	// Check returns nil when healthy. It must respect ctx.
	Check func(ctx context.Context) error

	// Optional failures degrade readiness without failing it.
	Optional bool
}

// result is the JSON body of both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
	draining atomic.Bool
}

// New creates a [Handler] over checkers.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// SetDraining marks the server as shutting down so load balancers stop
// routing new uploads to it.
func (h *Handler) SetDraining(draining bool) {
	h.draining.Store(draining)
}

// Readyz runs the checkers and reports the combined status.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.draining.Load() {
		writeJSON(w, http.StatusServiceUnavailable, result{Status: StatusDraining})
		return
	}

	res := h.evaluate(r.Context())
	code := http.StatusOK
	if res.Status == StatusFail {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

// evaluate runs every checker concurrently.
func (h *Handler) evaluate(ctx context.Context) result {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: StatusOK, Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		switch {
		case errs[i] == nil:
			res.Checks[c.Name] = StatusOK
		case c.Optional:
			res.Checks[c.Name] = StatusDegraded + ": " + errs[i].Error()
			if res.Status == StatusOK {
				res.Status = StatusDegraded
			}
		default:
			res.Checks[c.Name] = StatusFail + ": " + errs[i].Error()
			res.Status = StatusFail
		}
	}
	return res
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
