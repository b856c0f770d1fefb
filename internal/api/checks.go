package api

import (
	"net/http"

	"github.com/y0f/probeboard/internal/httputil"
)

func (h *Handler) RunCheck(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.registry.RunCheck(r.Context(), id)
	if err != nil {
		h.registryError(w, "run health check", err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"result": rec})
}

func (h *Handler) RunAll(w http.ResponseWriter, r *http.Request) {
	results := h.registry.RunAll(r.Context())
	writeOK(w, http.StatusOK, map[string]any{"results": results})
}

func (h *Handler) ListChecks(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.PathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.registry.Get(r.Context(), id); err != nil {
		h.registryError(w, "get service", err)
		return
	}

	page, err := h.store.ListCheckHistory(r.Context(), id, httputil.ParsePagination(r))
	if err != nil {
		h.logger.Error("list check history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list checks")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"checks":      page.Data,
		"total":       page.Total,
		"page":        page.Page,
		"per_page":    page.PerPage,
		"total_pages": page.TotalPages,
	})
}
