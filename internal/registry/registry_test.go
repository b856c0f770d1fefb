package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validation"
)

type stubRunner struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, svc *storage.Service) *storage.CheckRecord
}

func (s *stubRunner) Run(ctx context.Context, svc *storage.Service) *storage.CheckRecord {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.run != nil {
		return s.run(ctx, svc)
	}
	return &storage.CheckRecord{Timestamp: time.Now(), Success: true}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(serviceID, _ string, _ *storage.CheckRecord) {
	p.mu.Lock()
	p.events = append(p.events, serviceID)
	p.mu.Unlock()
}

func testStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "probeboard-registry-*.db")
	if err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	store, err := storage.NewSQLiteStore(tmpFile.Name(), 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newRegistry(t *testing.T, runner *stubRunner) (*Registry, *storage.SQLiteStore) {
	t.Helper()
	store := testStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, runner, 4, logger), store
}

func restService(name string) *storage.Service {
	return &storage.Service{
		Name:            name,
		Type:            storage.TypeREST,
		Endpoint:        "http://api.local",
		RestEndpoint:    "/health",
		ValidationRules: []validation.Rule{{Type: validation.TypeStatusCode, Value: "200"}},
	}
}

func TestAddAssignsFreshID(t *testing.T) {
	r, _ := newRegistry(t, &stubRunner{})
	ctx := context.Background()

	in := restService("api")
	in.ID = "caller-chosen"
	in.LastCheck = &storage.CheckRecord{Success: true}

	id1, err := r.Add(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	id2, err := r.Add(ctx, restService("api"))
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "caller-chosen" || id1 == "" || id1 == id2 {
		t.Fatalf("expected distinct generated ids, got %q and %q", id1, id2)
	}

	got, err := r.Get(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastCheck != nil {
		t.Fatal("new service must start without a last check")
	}
	if got.Method != "GET" {
		t.Fatalf("expected default method GET, got %q", got.Method)
	}
	if in.ID != "caller-chosen" {
		t.Fatal("Add must not modify the caller's value")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r, _ := newRegistry(t, &stubRunner{})
	ctx := context.Background()
	id, _ := r.Add(ctx, restService("api"))

	snap, _ := r.Get(ctx, id)
	snap.Name = "mutated"
	snap.ValidationRules[0].Value = "500"

	again, _ := r.Get(ctx, id)
	if again.Name != "api" || again.ValidationRules[0].Value != "200" {
		t.Fatalf("snapshot mutation leaked into registry: %+v", again)
	}
}

func TestUnknownIDs(t *testing.T) {
	r, _ := newRegistry(t, &stubRunner{})
	ctx := context.Background()

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get: expected ErrNotFound, got %v", err)
	}
	if err := r.Update(ctx, "missing", restService("x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update: expected ErrNotFound, got %v", err)
	}
	if err := r.Delete(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete: expected ErrNotFound, got %v", err)
	}
	if _, err := r.RunCheck(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RunCheck: expected ErrNotFound, got %v", err)
	}
}

func TestRunCheckStoresSameRecord(t *testing.T) {
	pub := &recordingPublisher{}
	r, store := newRegistry(t, &stubRunner{})
	r.SetPublisher(pub)
	ctx := context.Background()
	id, _ := r.Add(ctx, restService("api"))

	rec, err := r.RunCheck(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(ctx, id)
	if got.LastCheck != rec {
		t.Fatal("expected last_check to be the returned record")
	}

	persisted, err := store.GetService(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.LastCheck == nil || !persisted.LastCheck.Success {
		t.Fatal("expected last check to be persisted")
	}

	history, err := store.ListCheckHistory(ctx, id, storage.Pagination{})
	if err != nil {
		t.Fatal(err)
	}
	if history.Total != 1 {
		t.Fatalf("expected one history row, got %d", history.Total)
	}
	if len(pub.events) != 1 || pub.events[0] != id {
		t.Fatalf("expected one published event, got %v", pub.events)
	}
	if passed, failed := r.CheckCounts(); passed != 1 || failed != 0 {
		t.Fatalf("unexpected counts %d/%d", passed, failed)
	}
}

func TestUpdateKeepsLastCheckUnlessTypeChanges(t *testing.T) {
	r, store := newRegistry(t, &stubRunner{})
	ctx := context.Background()
	id, _ := r.Add(ctx, restService("api"))
	before, _ := r.Get(ctx, id)
	rec, _ := r.RunCheck(ctx, id)

	upd := restService("api renamed")
	if err := r.Update(ctx, id, upd); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(ctx, id)
	if got.Name != "api renamed" || got.LastCheck != rec {
		t.Fatalf("expected rename with last check kept, got %+v", got)
	}
	if got.ID != id || !got.CreatedAt.Equal(before.CreatedAt) {
		t.Fatal("id and created_at must be preserved")
	}

	soap := &storage.Service{Name: "calc", Type: storage.TypeSOAP, Endpoint: "http://calc.local/?WSDL", Method: "Add"}
	if err := r.Update(ctx, id, soap); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(ctx, id)
	if got.LastCheck != nil {
		t.Fatal("expected last check cleared after type change")
	}
	persisted, _ := store.GetService(ctx, id)
	if persisted.LastCheck != nil {
		t.Fatal("expected stored last check cleared after type change")
	}
}

func TestDeleteDuringCheckDiscardsRecord(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	runner := &stubRunner{run: func(ctx context.Context, svc *storage.Service) *storage.CheckRecord {
		close(started)
		<-release
		return &storage.CheckRecord{Timestamp: time.Now(), Success: true}
	}}
	pub := &recordingPublisher{}
	r, store := newRegistry(t, runner)
	r.SetPublisher(pub)
	ctx := context.Background()
	id, _ := r.Add(ctx, restService("api"))

	done := make(chan *storage.CheckRecord)
	go func() {
		rec, _ := r.RunCheck(ctx, id)
		done <- rec
	}()

	<-started
	if err := r.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	close(release)

	if rec := <-done; rec == nil || !rec.Success {
		t.Fatal("in-flight check must still return its record")
	}
	if _, err := r.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatal("deleted service must stay deleted")
	}
	history, _ := store.ListCheckHistory(ctx, id, storage.Pagination{})
	if history.Total != 0 {
		t.Fatal("expected no history for deleted service")
	}
	if len(pub.events) != 0 {
		t.Fatal("expected no event for deleted service")
	}
}

func TestRunAll(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, svc *storage.Service) *storage.CheckRecord {
		if svc.Name == "down" {
			return &storage.CheckRecord{Timestamp: time.Now(), Error: "Connection error: refused"}
		}
		return &storage.CheckRecord{Timestamp: time.Now(), Success: true}
	}}
	r, _ := newRegistry(t, runner)
	ctx := context.Background()

	ids := make(map[string]string)
	for _, name := range []string{"a", "b", "down", "d"} {
		id, err := r.Add(ctx, restService(name))
		if err != nil {
			t.Fatal(err)
		}
		ids[name] = id
	}

	results := r.RunAll(ctx)
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	if results[ids["down"]].Success {
		t.Fatal("expected down service to fail")
	}
	for _, name := range []string{"a", "b", "d"} {
		if !results[ids[name]].Success {
			t.Fatalf("expected %s to pass", name)
		}
		got, _ := r.Get(ctx, ids[name])
		if got.LastCheck != results[ids[name]] {
			t.Fatalf("expected %s last check to be the returned record", name)
		}
	}
	if passed, failed := r.CheckCounts(); passed != 3 || failed != 1 {
		t.Fatalf("unexpected counts %d/%d", passed, failed)
	}
}

func TestRunAllEmpty(t *testing.T) {
	r, _ := newRegistry(t, &stubRunner{})
	if results := r.RunAll(context.Background()); len(results) != 0 {
		t.Fatalf("expected empty result map, got %v", results)
	}
}

func TestLoadRestoresServices(t *testing.T) {
	r, store := newRegistry(t, &stubRunner{})
	ctx := context.Background()
	id, _ := r.Add(ctx, restService("api"))
	r.RunCheck(ctx, id)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restored := New(store, &stubRunner{}, 2, logger)
	if err := restored.Load(ctx); err != nil {
		t.Fatal(err)
	}
	list := restored.List(ctx)
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("expected restored service, got %+v", list)
	}
	if list[0].LastCheck == nil || !list[0].LastCheck.Success {
		t.Fatal("expected last check restored")
	}
}

func TestConcurrentChecksAndEdits(t *testing.T) {
	r, _ := newRegistry(t, &stubRunner{})
	ctx := context.Background()
	id, _ := r.Add(ctx, restService("api"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.RunCheck(ctx, id)
		}()
		go func() {
			defer wg.Done()
			r.Update(ctx, id, restService("api"))
			r.List(ctx)
		}()
	}
	wg.Wait()

	got, err := r.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastCheck == nil {
		t.Fatal("expected a last check after concurrent runs")
	}
}

func TestCancelledRunAllKeepsLastChecks(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, svc *storage.Service) *storage.CheckRecord {
		if err := ctx.Err(); err != nil {
			return &storage.CheckRecord{Timestamp: time.Now(), Error: err.Error()}
		}
		return &storage.CheckRecord{Timestamp: time.Now(), Success: true}
	}}
	pub := &recordingPublisher{}
	r, store := newRegistry(t, runner)
	r.SetPublisher(pub)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, _ := r.Add(ctx, restService(name))
		ids = append(ids, id)
	}
	first := r.RunAll(ctx)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	results := r.RunAll(cancelled)
	if len(results) != len(ids) {
		t.Fatalf("expected %d results, got %d", len(ids), len(results))
	}
	for _, id := range ids {
		if results[id] == nil || results[id].Success || results[id].Error == "" {
			t.Fatalf("expected a cancellation record for %s, got %+v", id, results[id])
		}
		got, _ := r.Get(ctx, id)
		if got.LastCheck != first[id] {
			t.Fatalf("cancelled run replaced last check of %s", id)
		}
		persisted, err := store.GetService(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if persisted.LastCheck == nil || !persisted.LastCheck.Success {
			t.Fatalf("cancelled run replaced stored last check of %s", id)
		}
		history, _ := store.ListCheckHistory(ctx, id, storage.Pagination{})
		if history.Total != 1 {
			t.Fatalf("expected one history row for %s, got %d", id, history.Total)
		}
	}
	if passed, failed := r.CheckCounts(); passed != 3 || failed != 0 {
		t.Fatalf("unexpected counts %d/%d", passed, failed)
	}
	if len(pub.events) != 3 {
		t.Fatalf("expected only the first run published, got %d events", len(pub.events))
	}
}

func TestCancelledRunCheckIsNotStored(t *testing.T) {
	runner := &stubRunner{run: func(ctx context.Context, svc *storage.Service) *storage.CheckRecord {
		return &storage.CheckRecord{Timestamp: time.Now(), Error: "Connection error: context canceled"}
	}}
	r, store := newRegistry(t, runner)
	ctx := context.Background()
	id, _ := r.Add(ctx, restService("api"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	rec, err := r.RunCheck(cancelled, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec == nil || rec.Success {
		t.Fatalf("expected the failed record to be returned, got %+v", rec)
	}
	got, _ := r.Get(ctx, id)
	if got.LastCheck != nil {
		t.Fatal("expected no last check after a cancelled run")
	}
	history, _ := store.ListCheckHistory(ctx, id, storage.Pagination{})
	if history.Total != 0 {
		t.Fatalf("expected no history, got %d", history.Total)
	}
}

func TestAddMatchesReloadedState(t *testing.T) {
	r, store := newRegistry(t, &stubRunner{})
	ctx := context.Background()

	svc := restService("bare")
	svc.ValidationRules = nil
	id, err := r.Add(ctx, svc)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(ctx, id)
	if got.ValidationRules == nil || got.UpdatedAt.IsZero() {
		t.Fatalf("expected stored shape after add, got %+v", got)
	}

	if err := r.Update(ctx, id, svc); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(ctx, id)
	if got.ValidationRules == nil {
		t.Fatal("expected empty rule list after update, got nil")
	}

	restored := New(store, &stubRunner{}, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := restored.Load(ctx); err != nil {
		t.Fatal(err)
	}
	again, _ := restored.Get(ctx, id)
	if !again.CreatedAt.Equal(got.CreatedAt) || !again.UpdatedAt.Equal(got.UpdatedAt) || again.Method != got.Method {
		t.Fatalf("memory and store disagree: %+v vs %+v", got, again)
	}
}
