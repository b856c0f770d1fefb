package checker

import (
	"context"
	"fmt"
	"sync"

	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validation"
)

// Checker invokes a service over one transport and returns the response the
// validation rules run against. A returned error is a transport failure.
type Checker interface {
	// Type returns the service kind this checker handles.
	Type() string
	// Check calls the service once.
	Check(ctx context.Context, svc *storage.Service) (*validation.Response, error)
}

// Registry holds all registered checkers by type.
type Registry struct {
	mu       sync.RWMutex
	checkers map[string]Checker
}

func NewRegistry() *Registry {
	return &Registry{checkers: make(map[string]Checker)}
}

func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[c.Type()] = c
}

func (r *Registry) Get(typ string) (Checker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[typ]
	if !ok {
		return nil, fmt.Errorf("no checker registered for type: %s", typ)
	}
	return c, nil
}

// DefaultRegistry creates a registry with the REST and SOAP checkers sharing
// one transport configuration.
func DefaultRegistry(t *Transport) *Registry {
	r := NewRegistry()
	r.Register(&RESTChecker{Transport: t})
	r.Register(&SOAPChecker{Transport: t})
	return r
}
