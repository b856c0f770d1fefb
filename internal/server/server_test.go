package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/y0f/probeboard/internal/checker"
	"github.com/y0f/probeboard/internal/config"
	"github.com/y0f/probeboard/internal/healthcheck"
	"github.com/y0f/probeboard/internal/registry"
	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/stream"
)

func testServer(t *testing.T) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "probeboard-api-test-*.db")
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

	cfg := config.Defaults()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	transport := &checker.Transport{AllowPrivate: true, DialTimeout: 2 * time.Second}
	executor := healthcheck.NewExecutor(checker.DefaultRegistry(transport), 2*time.Second, logger)
	reg := registry.New(store, executor, 4, logger)
	hub := stream.NewHub(nil, logger)
	reg.SetPublisher(hub)

	srv := NewServer(cfg, reg, store, &checker.SOAPChecker{Transport: transport, Timeout: 500 * time.Millisecond}, hub, logger, "test")
	t.Cleanup(srv.Close)
	return srv
}

func upstream(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, srv http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode %s %s: %v: %s", method, path, err, w.Body.String())
		}
	}
	return w, resp
}

func restService(endpoint string) map[string]any {
	return map[string]any{
		"name":          "Orders API",
		"type":          "rest",
		"endpoint":      endpoint,
		"rest_endpoint": "/health",
		"validation_rules": []map[string]any{
			{"type": "status_code", "value": 200},
			{"type": "equals", "field": "status", "value": "ok"},
		},
	}
}

func createService(t *testing.T, srv http.Handler, body map[string]any) string {
	t.Helper()
	w, resp := do(t, srv, "POST", "/api/v1/services", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatalf("create: missing id in %v", resp)
	}
	return id
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	w, resp := do(t, srv, "GET", "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp["status"] != "ok" || resp["version"] != "test" || resp["success"] != true {
		t.Fatalf("unexpected health response: %v", resp)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestListServicesEmpty(t *testing.T) {
	srv := testServer(t)

	w, resp := do(t, srv, "GET", "/api/v1/services", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	services, ok := resp["services"].(map[string]any)
	if !ok || len(services) != 0 {
		t.Fatalf("expected empty services object, got %v", resp["services"])
	}
}

func TestServiceCRUD(t *testing.T) {
	srv := testServer(t)
	api := upstream(t, 200, `{"status":"ok"}`)

	body := restService(api.URL)
	body["auth"] = map[string]any{"auth_type": "ntlm", "username": "svc", "password": "secret", "domain": "CORP"}
	id := createService(t, srv, body)

	w, resp := do(t, srv, "GET", "/api/v1/services/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	svc := resp["service"].(map[string]any)
	if svc["name"] != "Orders API" || svc["method"] != "GET" {
		t.Fatalf("unexpected service: %v", svc)
	}
	if _, hasLast := svc["last_check"]; hasLast {
		t.Fatal("new service must not have a last check")
	}
	if auth := svc["auth"].(map[string]any); auth["password"] != nil {
		t.Fatal("password must not be returned")
	}

	// Update without password keeps the stored one.
	body["name"] = "Orders API v2"
	body["auth"] = map[string]any{"auth_type": "ntlm", "username": "svc", "domain": "CORP"}
	w, resp = do(t, srv, "PUT", "/api/v1/services/"+id, body)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["service"].(map[string]any)["name"] != "Orders API v2" {
		t.Fatalf("expected renamed service, got %v", resp["service"])
	}

	w, resp = do(t, srv, "GET", "/api/v1/services", nil)
	if len(resp["services"].(map[string]any)) != 1 {
		t.Fatalf("expected one service, got %v", resp["services"])
	}

	w, _ = do(t, srv, "DELETE", "/api/v1/services/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	w, resp = do(t, srv, "GET", "/api/v1/services/"+id, nil)
	if w.Code != http.StatusNotFound || resp["success"] != false || resp["error"] == "" {
		t.Fatalf("expected 404 envelope after delete, got %d %v", w.Code, resp)
	}
}

func TestCreateServiceValidation(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		name   string
		modify func(map[string]any)
		errSub string
	}{
		{"missing name", func(b map[string]any) { delete(b, "name") }, "name is required"},
		{"bad type", func(b map[string]any) { b["type"] = "grpc" }, "type must be one of"},
		{"bad rule", func(b map[string]any) {
			b["validation_rules"] = []map[string]any{{"type": "xpath"}}
		}, "validation_rules[0]"},
		{"unknown field", func(b map[string]any) { b["interval"] = 30 }, "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := restService("http://orders.local")
			tt.modify(body)
			w, resp := do(t, srv, "POST", "/api/v1/services", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if resp["success"] != false || !strings.Contains(resp["error"].(string), tt.errSub) {
				t.Fatalf("expected error containing %q, got %v", tt.errSub, resp)
			}
		})
	}
}

func TestUnknownServiceIs404(t *testing.T) {
	srv := testServer(t)
	for _, req := range []struct{ method, path string }{
		{"GET", "/api/v1/services/nope"},
		{"DELETE", "/api/v1/services/nope"},
		{"POST", "/api/v1/services/nope/healthcheck"},
		{"GET", "/api/v1/services/nope/checks"},
	} {
		w, resp := do(t, srv, req.method, req.path, nil)
		if w.Code != http.StatusNotFound || resp["success"] != false {
			t.Fatalf("%s %s: expected 404 envelope, got %d %v", req.method, req.path, w.Code, resp)
		}
	}
	w, _ := do(t, srv, "PUT", "/api/v1/services/nope", restService("http://orders.local"))
	if w.Code != http.StatusNotFound {
		t.Fatalf("PUT unknown: expected 404, got %d", w.Code)
	}
}

func TestRunCheckAndHistory(t *testing.T) {
	srv := testServer(t)
	healthy := upstream(t, 200, `{"status":"ok"}`)
	id := createService(t, srv, restService(healthy.URL))

	w, resp := do(t, srv, "POST", "/api/v1/services/"+id+"/healthcheck", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	result := resp["result"].(map[string]any)
	if result["success"] != true {
		t.Fatalf("expected passing check, got %v", result)
	}
	validation := result["validation"].(map[string]any)
	if validation["passed"] != true || len(validation["failures"].([]any)) != 0 {
		t.Fatalf("unexpected validation: %v", validation)
	}

	_, resp = do(t, srv, "GET", "/api/v1/services/"+id, nil)
	last := resp["service"].(map[string]any)["last_check"].(map[string]any)
	if last["timestamp"] != result["timestamp"] {
		t.Fatal("expected last_check to be the returned record")
	}

	_, resp = do(t, srv, "GET", "/api/v1/services/"+id+"/checks", nil)
	if resp["total"].(float64) != 1 || len(resp["checks"].([]any)) != 1 {
		t.Fatalf("expected one history entry, got %v", resp)
	}
}

func TestRunCheckValidationFailure(t *testing.T) {
	srv := testServer(t)
	degraded := upstream(t, 503, `{"status":"degraded"}`)
	id := createService(t, srv, restService(degraded.URL))

	w, resp := do(t, srv, "POST", "/api/v1/services/"+id+"/healthcheck", nil)
	if w.Code != http.StatusOK || resp["success"] != true {
		t.Fatalf("a failing check is still a successful request, got %d %v", w.Code, resp)
	}
	result := resp["result"].(map[string]any)
	if result["success"] != false || result["error"] != "Validation failed" {
		t.Fatalf("expected validation failure, got %v", result)
	}
	failures := result["validation"].(map[string]any)["failures"].([]any)
	if len(failures) != 2 || !strings.Contains(failures[0].(string), "503") {
		t.Fatalf("expected two failures in rule order, got %v", failures)
	}
}

func TestRunAll(t *testing.T) {
	srv := testServer(t)
	healthy := upstream(t, 200, `{"status":"ok"}`)
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downURL := down.URL
	down.Close()

	okID := createService(t, srv, restService(healthy.URL))
	downID := createService(t, srv, restService(downURL))

	w, resp := do(t, srv, "POST", "/api/v1/healthcheck/all", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	results := resp["results"].(map[string]any)
	if len(results) != 2 {
		t.Fatalf("expected two results, got %v", results)
	}
	if results[okID].(map[string]any)["success"] != true {
		t.Fatal("expected healthy service to pass")
	}
	downRes := results[downID].(map[string]any)
	if downRes["success"] != false || downRes["error"] == "" {
		t.Fatalf("expected transport failure, got %v", downRes)
	}
	if _, ok := downRes["validation"]; ok {
		t.Fatal("transport failure must not carry validation")
	}
}

func TestRunAllEmpty(t *testing.T) {
	srv := testServer(t)
	_, resp := do(t, srv, "POST", "/api/v1/healthcheck/all", nil)
	if results := resp["results"].(map[string]any); len(results) != 0 {
		t.Fatalf("expected empty results, got %v", results)
	}
}

func TestExportImport(t *testing.T) {
	srv := testServer(t)
	healthy := upstream(t, 200, `{"status":"ok"}`)
	id := createService(t, srv, restService(healthy.URL))
	do(t, srv, "POST", "/api/v1/services/"+id+"/healthcheck", nil)

	w, exported := do(t, srv, "GET", "/api/v1/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", w.Code)
	}
	services := exported["services"].([]any)
	if len(services) != 1 {
		t.Fatalf("expected one exported service, got %v", services)
	}
	if _, ok := services[0].(map[string]any)["last_check"]; ok {
		t.Fatal("export must not contain runtime state")
	}

	// Re-importing updates the existing service and adds the copy without an id.
	copySvc := restService(healthy.URL)
	copySvc["name"] = "Copy"
	exported["services"] = append(services, copySvc)
	w, resp := do(t, srv, "POST", "/api/v1/import", exported)
	if w.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["imported"].(float64) != 2 || resp["updated"].(float64) != 1 || resp["created"].(float64) != 1 {
		t.Fatalf("unexpected import counts: %v", resp)
	}

	_, resp = do(t, srv, "GET", "/api/v1/services", nil)
	if len(resp["services"].(map[string]any)) != 2 {
		t.Fatalf("expected two services after import, got %v", resp["services"])
	}
}

func TestImportRejectsInvalidBatch(t *testing.T) {
	srv := testServer(t)
	bad := restService("http://orders.local")
	bad["type"] = "ftp"
	w, resp := do(t, srv, "POST", "/api/v1/import", map[string]any{
		"version":  1,
		"services": []any{restService("http://orders.local"), bad},
	})
	if w.Code != http.StatusBadRequest || !strings.Contains(resp["error"].(string), "services[1]") {
		t.Fatalf("expected batch rejection, got %d %v", w.Code, resp)
	}
	_, resp = do(t, srv, "GET", "/api/v1/services", nil)
	if len(resp["services"].(map[string]any)) != 0 {
		t.Fatal("nothing must be imported from an invalid batch")
	}
}

func TestWSDLEndpointsRequireURL(t *testing.T) {
	srv := testServer(t)
	for _, path := range []string{"/api/v1/wsdl/methods", "/api/v1/wsdl/params", "/api/v1/wsdl/execute"} {
		w, resp := do(t, srv, "POST", path, map[string]any{"method_name": "Add"})
		if w.Code != http.StatusBadRequest || !strings.Contains(resp["error"].(string), "wsdl_url") {
			t.Fatalf("%s: expected wsdl_url error, got %d %v", path, w.Code, resp)
		}
	}
	w, resp := do(t, srv, "POST", "/api/v1/wsdl/params", map[string]any{"wsdl_url": "http://calc.local/?WSDL"})
	if w.Code != http.StatusBadRequest || !strings.Contains(resp["error"].(string), "method_name") {
		t.Fatalf("expected method_name error, got %d %v", w.Code, resp)
	}
}

func TestWSDLUnreachable(t *testing.T) {
	srv := testServer(t)
	gone := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := gone.URL + "/calc.asmx?WSDL"
	gone.Close()

	w, resp := do(t, srv, "POST", "/api/v1/wsdl/methods", map[string]any{"wsdl_url": url})
	if w.Code != http.StatusBadGateway || resp["success"] != false {
		t.Fatalf("expected 502 envelope, got %d %v", w.Code, resp)
	}
}

func TestWSDLSilentHostTimesOut(t *testing.T) {
	srv := testServer(t)
	release := make(chan struct{})
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer silent.Close()
	defer close(release)

	start := time.Now()
	w, resp := do(t, srv, "POST", "/api/v1/wsdl/execute", map[string]any{
		"wsdl_url":    silent.URL + "/calc.asmx?WSDL",
		"method_name": "Add",
	})
	if w.Code != http.StatusBadGateway || resp["success"] != false {
		t.Fatalf("expected 502 envelope, got %d %v", w.Code, resp)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("wsdl call was not bounded, took %v", elapsed)
	}
}

func TestMetrics(t *testing.T) {
	srv := testServer(t)
	healthy := upstream(t, 200, `{"status":"ok"}`)
	id := createService(t, srv, restService(healthy.URL))
	do(t, srv, "POST", "/api/v1/services/"+id+"/healthcheck", nil)

	w, _ := do(t, srv, "GET", "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`probeboard_services_total{type="rest"} 1`,
		`probeboard_service_up{id="` + id + `",name="Orders API",type="rest"} 1`,
		`probeboard_checks_total{result="pass"} 1`,
		`probeboard_stream_clients 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics:\n%s", want, body)
		}
	}
}

func TestUnknownAPIRoute(t *testing.T) {
	srv := testServer(t)
	w, resp := do(t, srv, "GET", "/api/v1/nope", nil)
	if w.Code != http.StatusNotFound || resp["success"] != false {
		t.Fatalf("expected JSON 404, got %d %v", w.Code, resp)
	}
}

func TestStreamReceivesChecks(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	healthy := upstream(t, 200, `{"status":"ok"}`)
	id := createService(t, srv, restService(healthy.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	// Wait for the subscription to register before triggering the check.
	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	do(t, srv, "POST", "/api/v1/services/"+id+"/healthcheck", nil)

	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ev stream.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.ServiceID != id || ev.Result == nil || !ev.Result.Success {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
