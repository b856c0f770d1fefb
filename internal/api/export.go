package api

import (
	"fmt"
	"net/http"

	"github.com/y0f/probeboard/internal/backup"
)

type exportEnvelope struct {
	Success bool `json:"success"`
	backup.Document
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	doc := backup.New(h.registry.List(r.Context()))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, backup.DefaultKey(doc)))
	writeJSON(w, http.StatusOK, exportEnvelope{Success: true, Document: *doc})
}

// Import restores an export. The whole batch is validated before anything
// is written.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req exportEnvelope
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Document.Check(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, updated, err := backup.Apply(r.Context(), h.registry, req.Services)
	if err != nil {
		h.logger.Error("import services", "error", err, "created", created, "updated", updated)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("import failed after %d services", created+updated))
		return
	}
	h.logger.Info("services imported", "created", created, "updated", updated)
	writeOK(w, http.StatusOK, map[string]any{
		"imported": created + updated,
		"created":  created,
		"updated":  updated,
	})
}
