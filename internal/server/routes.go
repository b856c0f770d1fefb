package server

import (
	"net/http"

	"github.com/y0f/probeboard/internal/api"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/health", s.api.Health)
	mux.HandleFunc("GET /metrics", s.api.Metrics)

	mux.HandleFunc("GET /api/v1/services", s.api.ListServices)
	mux.HandleFunc("POST /api/v1/services", s.api.CreateService)
	mux.HandleFunc("GET /api/v1/services/{id}", s.api.GetService)
	mux.HandleFunc("PUT /api/v1/services/{id}", s.api.UpdateService)
	mux.HandleFunc("DELETE /api/v1/services/{id}", s.api.DeleteService)

	mux.HandleFunc("POST /api/v1/services/{id}/healthcheck", s.api.RunCheck)
	mux.HandleFunc("GET /api/v1/services/{id}/checks", s.api.ListChecks)
	mux.HandleFunc("POST /api/v1/healthcheck/all", s.api.RunAll)

	mux.HandleFunc("POST /api/v1/wsdl/methods", s.api.WSDLMethods)
	mux.HandleFunc("POST /api/v1/wsdl/params", s.api.WSDLParams)
	mux.HandleFunc("POST /api/v1/wsdl/execute", s.api.WSDLExecute)

	mux.HandleFunc("GET /api/v1/export", s.api.Export)
	mux.HandleFunc("POST /api/v1/import", s.api.Import)

	if s.hub != nil {
		mux.Handle("GET /api/v1/stream", s.hub)
	}

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		api.WriteError(w, http.StatusNotFound, "not found")
	})
}
