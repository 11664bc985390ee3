package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rzbill/maestro/internal/runtime"
	"github.com/rzbill/maestro/internal/workitem"
)

// maxEnqueueBody bounds the size of an enqueue request.
const maxEnqueueBody = 1 << 20

// QueuesController handles enqueueing work items and queue stats.
type QueuesController struct {
	rt *runtime.Runtime
}

// NewQueuesController creates a new queues controller.
func NewQueuesController(rt *runtime.Runtime) *QueuesController {
	return &QueuesController{rt: rt}
}

// RegisterRoutes registers queue routes with the given mux.
func (c *QueuesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/queues", c.handleList)
	mux.HandleFunc("/v1/queues/{name}", c.handleStats)
	mux.HandleFunc("/v1/queues/{name}/messages", c.handleEnqueue)
}

// handleList lists configured queues.
// GET /v1/queues
func (c *QueuesController) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, map[string]any{"queues": c.rt.QueueNames()})
}

// handleStats returns visible/invisible counts.
// GET /v1/queues/{name}
func (c *QueuesController) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	name := r.PathValue("name")
	q, ok := c.rt.Queue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown queue")
		return
	}
	st, err := q.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	writeJSON(w, queueStatsResp{Queue: name, Visible: st.Visible, Invisible: st.Invisible})
}

// handleEnqueue adds a work item to the queue.
// POST /v1/queues/{name}/messages
func (c *QueuesController) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	name := r.PathValue("name")
	q, ok := c.rt.Queue(name)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown queue")
		return
	}
	var req enqueueReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEnqueueBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	delay, err := parseDuration(req.Delay)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid delay")
		return
	}
	payload, err := workitem.Encode(workitem.Item{Type: req.Type, ID: req.ID, Data: req.Data})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg, err := q.Enqueue(r.Context(), payload, delay)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to enqueue")
		return
	}
	writeJSONStatus(w, http.StatusCreated, enqueueResp{
		Queue:         name,
		MessageID:     msg.ID.String(),
		InsertedAt:    msg.InsertedAt,
		NextVisibleAt: msg.NextVisibleAt,
	})
}
