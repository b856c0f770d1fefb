package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/y0f/probeboard/internal/registry"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validate"
)

// Version is the current document format.
const Version = 1

// Document is the service definition backup format. Runtime state
// (last_check) is not part of it.
type Document struct {
	Version    int                `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	Services   []*storage.Service `json:"services"`
}

// New builds a document from services without touching them.
func New(services []*storage.Service) *Document {
	out := make([]*storage.Service, 0, len(services))
	for _, svc := range services {
		c := svc.Clone()
		c.LastCheck = nil
		out = append(out, c)
	}
	return &Document{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		Services:   out,
	}
}

// Check validates every service in the document. Nothing should be applied
// from a document that fails.
func (d *Document) Check() error {
	if d.Version > Version {
		return fmt.Errorf("unsupported export version %d", d.Version)
	}
	for i, svc := range d.Services {
		if svc == nil {
			return fmt.Errorf("services[%d]: missing service", i)
		}
		if err := validate.ValidateService(svc); err != nil {
			return fmt.Errorf("services[%d]: %w", i, err)
		}
	}
	return nil
}

// Decode reads and checks a document.
func Decode(r io.Reader) (*Document, error) {
	var d Document
	if err := json.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode backup: %w", err)
	}
	if err := d.Check(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Encode writes d as indented JSON.
func (d *Document) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Target is the part of the registry a restore writes to.
type Target interface {
	Add(ctx context.Context, svc *storage.Service) (string, error)
	Update(ctx context.Context, id string, svc *storage.Service) error
}

// Apply upserts services: an id that exists is updated in place, anything
// else is added under a fresh id. It stops at the first store error and
// reports how far it got.
func Apply(ctx context.Context, t Target, services []*storage.Service) (created, updated int, err error) {
	for _, svc := range services {
		if svc.ID != "" {
			err := t.Update(ctx, svc.ID, svc)
			if err == nil {
				updated++
				continue
			}
			if !errors.Is(err, registry.ErrNotFound) {
				return created, updated, err
			}
		}
		if _, err := t.Add(ctx, svc); err != nil {
			return created, updated, err
		}
		created++
	}
	return created, updated, nil
}
