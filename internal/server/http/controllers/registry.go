package controllers

import (
	"net/http"

	"github.com/rzbill/maestro/internal/runtime"
	logpkg "github.com/rzbill/maestro/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes.
type ControllerRegistry struct {
	general *GeneralController
	status  *StatusController
	queues  *QueuesController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt),
		status:  NewStatusController(rt, logger),
		queues:  NewQueuesController(rt),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.status.RegisterRoutes(mux)
	r.queues.RegisterRoutes(mux)
}
