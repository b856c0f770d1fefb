package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/y0f/probeboard/internal/checker"
	"github.com/y0f/probeboard/internal/config"
	"github.com/y0f/probeboard/internal/registry"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/stream"
)

type Handler struct {
	cfg       *config.Config
	registry  *registry.Registry
	store     storage.Store
	soap      *checker.SOAPChecker
	hub       *stream.Hub
	logger    *slog.Logger
	version   string
	startTime time.Time
}

func New(cfg *config.Config, reg *registry.Registry, store storage.Store, soap *checker.SOAPChecker,
	hub *stream.Hub, logger *slog.Logger, version string) *Handler {
	return &Handler{
		cfg:       cfg,
		registry:  reg,
		store:     store,
		soap:      soap,
		hub:       hub,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeOK adds success=true to fields and writes them.
func writeOK(w http.ResponseWriter, status int, fields map[string]any) {
	fields["success"] = true
	writeJSON(w, status, fields)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// WriteError is the error writer used by the middleware chain.
func WriteError(w http.ResponseWriter, status int, msg string) {
	writeError(w, status, msg)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
