package api

import (
	"errors"
	"net/http"

	"github.com/y0f/probeboard/internal/httputil"
	"github.com/y0f/probeboard/internal/registry"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validate"
)

// redact strips stored passwords from a service before it leaves the API.
func redact(svc *storage.Service) *storage.Service {
	if svc.Auth != nil {
		svc.Auth.Password = ""
	}
	return svc
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services := h.registry.List(r.Context())
	byID := make(map[string]*storage.Service, len(services))
	for _, svc := range services {
		byID[svc.ID] = redact(svc)
	}
	writeOK(w, http.StatusOK, map[string]any{"services": byID})
}

func (h *Handler) GetService(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	svc, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.registryError(w, "get service", err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"service": redact(svc)})
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	var svc storage.Service
	if err := readJSON(r, &svc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateService(&svc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.registry.Add(r.Context(), &svc)
	if err != nil {
		h.logger.Error("create service", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create service")
		return
	}
	created, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.registryError(w, "get service", err)
		return
	}
	writeOK(w, http.StatusCreated, map[string]any{"id": id, "service": redact(created)})
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var svc storage.Service
	if err := readJSON(r, &svc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.ValidateService(&svc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	current, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.registryError(w, "get service", err)
		return
	}
	keepPassword(&svc, current)

	if err := h.registry.Update(r.Context(), id, &svc); err != nil {
		h.registryError(w, "update service", err)
		return
	}
	updated, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.registryError(w, "get service", err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"service": redact(updated)})
}

// keepPassword carries the stored password over when an update omits it for
// the same account, since reads never return it.
func keepPassword(next, current *storage.Service) {
	if next.Auth == nil || current.Auth == nil || next.Auth.Password != "" {
		return
	}
	if next.Auth.AuthType == current.Auth.AuthType && next.Auth.Username == current.Auth.Username {
		next.Auth.Password = current.Auth.Password
	}
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		h.registryError(w, "delete service", err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{})
}

func (h *Handler) registryError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "service not found")
		return
	}
	h.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}
