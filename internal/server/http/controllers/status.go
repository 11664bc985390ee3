package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rzbill/maestro/internal/journal"
	"github.com/rzbill/maestro/internal/lifecycle"
	"github.com/rzbill/maestro/internal/runtime"
	logpkg "github.com/rzbill/maestro/pkg/log"
)

// StatusController exposes the replica's lifecycle to operators: read the
// local and fleet state, start processing, and request a drain.
type StatusController struct {
	rt     *runtime.Runtime
	logger logpkg.Logger
}

// NewStatusController creates a new status controller.
func NewStatusController(rt *runtime.Runtime, logger logpkg.Logger) *StatusController {
	return &StatusController{rt: rt, logger: logger.With(logpkg.Component("status-api"))}
}

// RegisterRoutes registers the status routes with the given mux.
func (c *StatusController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/status", c.handleStatus)
	mux.HandleFunc("/v1/status/start", c.handleStart)
	mux.HandleFunc("/v1/status/stop", c.handleStop)
	mux.HandleFunc("/v1/status/history", c.handleHistory)
}

// handleStatus returns the local snapshot, the fleet summary and queue counts.
// GET /v1/status
func (c *StatusController) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	st, err := c.rt.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, st)
}

// handleStart resumes processing.
// POST /v1/status/start
//
// Returns 409 Conflict while the replica is still initializing.
func (c *StatusController) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	m := c.rt.Manager()
	m.Start()
	snap := m.Snapshot()
	if snap.State == lifecycle.Initializing {
		writeError(w, http.StatusConflict, "replica is still initializing")
		return
	}
	c.logger.Info("start requested", logpkg.Str("remote", r.RemoteAddr))
	writeJSON(w, controlResp{Replica: c.rt.Config().Replica, Local: snap})
}

// handleStop requests a drain.
// POST /v1/status/stop?wait=<duration>
//
// Without wait it returns 202 Accepted immediately. With wait it blocks until
// the replica reaches Stopped or the duration elapses and reports whether
// Stopped was reached.
func (c *StatusController) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	wait, err := parseDuration(r.URL.Query().Get("wait"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid wait duration")
		return
	}
	m := c.rt.Manager()
	m.RequestDrain()
	c.logger.Info("drain requested", logpkg.Str("remote", r.RemoteAddr), logpkg.Dur("wait", wait))

	if wait == 0 {
		writeJSONStatus(w, http.StatusAccepted, controlResp{Replica: c.rt.Config().Replica, Local: m.Snapshot()})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), min(wait, maxWait))
	defer cancel()
	reached := m.WaitForState(ctx, lifecycle.Stopped) == nil
	writeJSON(w, controlResp{Replica: c.rt.Config().Replica, Local: m.Snapshot(), Reached: &reached})
}

// handleHistory lists the replica's recorded transitions, newest first.
// GET /v1/status/history?limit=<n>&start=<seq>
//
// start is inclusive; next, when non-zero, is the start of the following page.
func (c *StatusController) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	q := r.URL.Query()
	limit := defaultHistoryLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	var start uint64
	if v := q.Get("start"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil || n == 0 {
			writeError(w, http.StatusBadRequest, "Invalid start")
			return
		}
		start = n
	}
	entries, next := c.rt.Journal().Read(journal.ReadOptions{Start: start, Limit: limit, Reverse: true})
	writeJSON(w, historyResp{Replica: c.rt.Config().Replica, Entries: entries, Next: next})
}
