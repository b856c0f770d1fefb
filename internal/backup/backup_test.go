package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"

	"github.com/y0f/probeboard/internal/registry"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validation"
)

func restService(id, name string) *storage.Service {
	return &storage.Service{
		ID:              id,
		Name:            name,
		Type:            storage.TypeREST,
		Endpoint:        "http://api.internal",
		Method:          "GET",
		ValidationRules: []validation.Rule{{Type: validation.TypeStatusCode, Value: "200"}},
	}
}

type fakeTarget struct {
	services map[string]*storage.Service
	next     int
	failAdd  bool
}

func (f *fakeTarget) Add(_ context.Context, svc *storage.Service) (string, error) {
	if f.failAdd {
		return "", errors.New("disk full")
	}
	f.next++
	id := "new-" + string(rune('0'+f.next))
	f.services[id] = svc
	return id, nil
}

func (f *fakeTarget) Update(_ context.Context, id string, svc *storage.Service) error {
	if _, ok := f.services[id]; !ok {
		return registry.ErrNotFound
	}
	f.services[id] = svc
	return nil
}

func TestNewDropsRuntimeState(t *testing.T) {
	svc := restService("a", "orders")
	svc.LastCheck = &storage.CheckRecord{Success: true}

	d := New([]*storage.Service{svc})
	if d.Version != Version || len(d.Services) != 1 {
		t.Fatalf("unexpected document: %+v", d)
	}
	if d.Services[0].LastCheck != nil {
		t.Fatal("document must not carry last_check")
	}
	if svc.LastCheck == nil {
		t.Fatal("input service must not be modified")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := New([]*storage.Service{restService("a", "orders")}).Encode(&buf); err != nil {
		t.Fatal(err)
	}
	d, err := Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Services) != 1 || d.Services[0].Name != "orders" {
		t.Fatalf("unexpected services: %+v", d.Services)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"not json", "nope", "decode backup"},
		{"future version", `{"version": 99, "services": []}`, "unsupported export version"},
		{"null service", `{"version": 1, "services": [null]}`, "services[0]: missing service"},
		{"invalid service", `{"version": 1, "services": [{"name": "x", "type": "grpc", "endpoint": "http://a"}]}`, "services[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestApplyUpserts(t *testing.T) {
	target := &fakeTarget{services: map[string]*storage.Service{"a": restService("a", "old")}}
	services := []*storage.Service{
		restService("a", "renamed"),
		restService("gone", "copy"),
		restService("", "fresh"),
	}

	created, updated, err := Apply(context.Background(), target, services)
	if err != nil {
		t.Fatal(err)
	}
	if created != 2 || updated != 1 {
		t.Fatalf("expected 2 created and 1 updated, got %d and %d", created, updated)
	}
	if target.services["a"].Name != "renamed" {
		t.Fatal("existing service was not updated")
	}
	if len(target.services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(target.services))
	}
}

func TestApplyStopsOnStoreError(t *testing.T) {
	target := &fakeTarget{services: map[string]*storage.Service{}, failAdd: true}
	created, updated, err := Apply(context.Background(), target, []*storage.Service{restService("", "x")})
	if err == nil {
		t.Fatal("expected error")
	}
	if created != 0 || updated != 0 {
		t.Fatalf("expected no progress, got %d/%d", created, updated)
	}
}

// fakeS3 serves path-style PutObject and GetObject.
func fakeS3(t *testing.T) (*httptest.Server, map[string][]byte) {
	t.Helper()
	var mu sync.Mutex
	objects := make(map[string][]byte)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
			w.Header().Set("ETag", `"etag"`)
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			body, ok := objects[r.URL.Path]
			if !ok {
				w.Header().Set("Content-Type", "application/xml")
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, objects
}

func testS3Store(t *testing.T, endpoint, prefix string) *S3Store {
	t.Helper()
	store, err := NewS3Store(S3Config{Bucket: "backups", Prefix: prefix, Endpoint: endpoint},
		&aws.Config{Credentials: credentials.NewStaticCredentials("AKID", "SECRET", "")})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestS3StorePutGet(t *testing.T) {
	srv, objects := fakeS3(t)
	store := testS3Store(t, srv.URL, "/probeboard/")

	d := New([]*storage.Service{restService("a", "orders")})
	uri, err := store.Put(context.Background(), "nightly.json", d)
	if err != nil {
		t.Fatal(err)
	}
	if uri != "s3://backups/probeboard/nightly.json" {
		t.Fatalf("unexpected uri %q", uri)
	}
	if _, ok := objects["/backups/probeboard/nightly.json"]; !ok {
		t.Fatalf("object not stored at path-style key, have %v", objects)
	}

	got, err := store.Get(context.Background(), "nightly.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Services) != 1 || got.Services[0].Name != "orders" {
		t.Fatalf("unexpected document: %+v", got)
	}
}

func TestS3StoreGetMissing(t *testing.T) {
	srv, _ := fakeS3(t)
	store := testS3Store(t, srv.URL, "")
	if _, err := store.Get(context.Background(), "missing.json"); err == nil {
		t.Fatal("expected error for missing object")
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(S3Config{}); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}
