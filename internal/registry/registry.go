package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/y0f/probeboard/internal/healthcheck"
	"github.com/y0f/probeboard/internal/storage"
)

// ErrNotFound is returned for operations on an unknown service id.
var ErrNotFound = errors.New("service not found")

// Publisher receives every committed check.
type Publisher interface {
	Publish(serviceID, serviceName string, rec *storage.CheckRecord)
}

type entry struct {
	mu      sync.RWMutex
	svc     *storage.Service
	deleted bool
}

// Registry is the in-memory catalog of services, persisted through a Store.
// Reads return snapshots; the LastCheck pointer inside a snapshot is shared
// because check records are never modified after they are built.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store     storage.Store
	runner    healthcheck.Runner
	pool      *healthcheck.Pool
	publisher Publisher
	logger    *slog.Logger

	passed atomic.Int64
	failed atomic.Int64
}

func New(store storage.Store, runner healthcheck.Runner, workers int, logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		store:   store,
		runner:  runner,
		pool:    healthcheck.NewPool(workers, runner, logger),
		logger:  logger,
	}
}

// SetPublisher registers p to receive committed checks. Call before serving.
func (r *Registry) SetPublisher(p Publisher) {
	r.publisher = p
}

// Load replaces the in-memory catalog with the services in the store.
func (r *Registry) Load(ctx context.Context) error {
	services, err := r.store.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("load services: %w", err)
	}
	entries := make(map[string]*entry, len(services))
	for _, svc := range services {
		entries[svc.ID] = &entry{svc: svc}
	}
	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	r.logger.Info("services loaded", "count", len(entries))
	return nil
}

// Add registers a copy of svc under a fresh id and returns the id.
func (r *Registry) Add(ctx context.Context, svc *storage.Service) (string, error) {
	return r.add(ctx, uuid.NewString(), svc)
}

func (r *Registry) add(ctx context.Context, id string, svc *storage.Service) (string, error) {
	next := svc.Clone()
	next.ID = id
	next.LastCheck = nil
	next.CreatedAt = time.Time{}
	normalize(next)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return "", fmt.Errorf("service %s already exists", id)
	}
	if err := r.store.CreateService(ctx, next); err != nil {
		return "", err
	}
	next = r.readBack(ctx, next)
	r.entries[id] = &entry{svc: next}
	r.logger.Info("service added", "id", id, "name", next.Name, "type", next.Type)
	return id, nil
}

// Update replaces the mutable fields of a service. The id and creation time
// are kept. The last check survives unless the service type changes.
func (r *Registry) Update(ctx context.Context, id string, svc *storage.Service) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return ErrNotFound
	}

	next := svc.Clone()
	next.ID = id
	next.CreatedAt = e.svc.CreatedAt
	normalize(next)
	typeChanged := next.Type != e.svc.Type
	if typeChanged {
		next.LastCheck = nil
	} else {
		next.LastCheck = e.svc.LastCheck
	}

	if err := r.store.UpdateService(ctx, next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if typeChanged {
		if err := r.store.ClearLastCheck(ctx, id); err != nil {
			r.logger.Error("clear last check failed", "id", id, "error", err)
		}
	}
	e.svc = r.readBack(ctx, next)
	r.logger.Info("service updated", "id", id, "name", next.Name, "type_changed", typeChanged)
	return nil
}

// Delete removes a service. A check already in flight for it still returns
// its record to the caller but is not stored.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.store.DeleteService(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	e.deleted = true
	delete(r.entries, id)
	r.logger.Info("service deleted", "id", id)
	return nil
}

// Get returns a snapshot of one service.
func (r *Registry) Get(_ context.Context, id string) (*storage.Service, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.svc.Clone(), nil
}

// List returns snapshots of all services, oldest first.
func (r *Registry) List(_ context.Context) []*storage.Service {
	entries := r.snapshot()
	out := make([]*storage.Service, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, e.svc.Clone())
		e.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// RunCheck checks one service now, stores the record as its last check and
// returns that same record.
func (r *Registry) RunCheck(ctx context.Context, id string) (*storage.CheckRecord, error) {
	e, ok := r.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	e.mu.RLock()
	svc := e.svc.Clone()
	e.mu.RUnlock()

	rec := r.runner.Run(ctx, svc)
	r.commit(ctx, e, svc, rec)
	return rec, nil
}

// RunAll checks every service registered at call time on the worker pool
// and returns one record per service. A failing service never affects the
// others.
func (r *Registry) RunAll(ctx context.Context) map[string]*storage.CheckRecord {
	entries := r.snapshot()
	byID := make(map[string]*entry, len(entries))
	services := make([]*storage.Service, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		svc := e.svc.Clone()
		e.mu.RUnlock()
		byID[svc.ID] = e
		services = append(services, svc)
	}

	start := time.Now()
	results := make(map[string]*storage.CheckRecord, len(services))
	for res := range r.pool.Run(ctx, services) {
		r.commit(ctx, byID[res.Service.ID], res.Service, res.Record)
		results[res.Service.ID] = res.Record
	}
	r.logger.Info("bulk health check completed", "services", len(results), "duration", time.Since(start))
	return results
}

// CheckCounts returns how many committed checks passed and failed since start.
func (r *Registry) CheckCounts() (passed, failed int64) {
	return r.passed.Load(), r.failed.Load()
}

// commit installs rec as the last check of e unless the service was deleted
// or changed type while the check ran. A failure caused by ctx being
// cancelled says nothing about the service and is not recorded.
func (r *Registry) commit(ctx context.Context, e *entry, checked *storage.Service, rec *storage.CheckRecord) {
	if ctx.Err() != nil && !rec.Success && rec.Validation == nil {
		r.logger.Debug("discarding check interrupted by cancellation", "id", checked.ID)
		return
	}
	if rec.Success {
		r.passed.Add(1)
	} else {
		r.failed.Add(1)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		r.logger.Debug("discarding check for deleted service", "id", checked.ID)
		return
	}
	if e.svc.Type != checked.Type {
		r.logger.Debug("discarding check for retyped service", "id", checked.ID)
		return
	}

	next := *e.svc
	next.LastCheck = rec
	e.svc = &next

	storeCtx := context.WithoutCancel(ctx)
	if err := r.store.SetLastCheck(storeCtx, checked.ID, rec); err != nil {
		r.logger.Error("store last check failed", "id", checked.ID, "error", err)
	}
	if err := r.store.InsertCheckHistory(storeCtx, checked.ID, rec); err != nil {
		r.logger.Error("store check history failed", "id", checked.ID, "error", err)
	}

	if r.publisher != nil {
		r.publisher.Publish(checked.ID, next.Name, rec)
	}
}

// readBack returns the row just written for svc so memory holds what Load
// would produce after a restart. The in-memory last check is kept.
func (r *Registry) readBack(ctx context.Context, svc *storage.Service) *storage.Service {
	stored, err := r.store.GetService(ctx, svc.ID)
	if err != nil {
		r.logger.Warn("read back service failed", "id", svc.ID, "error", err)
		return svc
	}
	stored.LastCheck = svc.LastCheck
	return stored
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func normalize(svc *storage.Service) {
	if svc.Type == storage.TypeREST && svc.Method == "" {
		svc.Method = "GET"
	}
}
