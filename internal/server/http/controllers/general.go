package controllers

import (
	"net/http"

	"github.com/rzbill/maestro/internal/runtime"
)

// GeneralController serves the health endpoint.
type GeneralController struct {
	rt *runtime.Runtime
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
}

// handleHealth reports readiness from the replica's published state.
//
// Returns 200 OK with {"status": "ok"} once the replica has finished
// initializing, 503 Service Unavailable while it is Initializing or when
// state or storage cannot be read.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := c.rt.Probe().Check(r.Context())
	resp := healthResp{Status: "ok", State: st.State}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	} else if err := c.rt.CheckHealth(r.Context()); err != nil {
		st.Healthy = false
		resp.Error = err.Error()
	}
	if !st.Healthy {
		resp.Status = "not_serving"
		writeJSONStatus(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, resp)
}
