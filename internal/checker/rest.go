package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validation"
)

const maxBodyRead = 1 << 20 // 1MB

// RESTChecker calls an HTTP endpoint and hands back the status, headers and
// body. Non-2xx statuses are responses, not transport errors.
type RESTChecker struct {
	Transport *Transport
}

func (c *RESTChecker) Type() string { return storage.TypeREST }

func (c *RESTChecker) Check(ctx context.Context, svc *storage.Service) (*validation.Response, error) {
	method := strings.ToUpper(strings.TrimSpace(svc.Method))
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(RESTURL(svc.Endpoint, svc.RestEndpoint))
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	var body io.Reader
	if len(svc.Params) > 0 {
		if sendsBody(method) {
			data, err := json.Marshal(svc.Params)
			if err != nil {
				return nil, fmt.Errorf("encode params: %w", err)
			}
			body = bytes.NewReader(data)
		} else {
			q := target.Query()
			for k, v := range svc.Params {
				q.Set(k, v)
			}
			target.RawQuery = q.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("Accept", "application/json, */*;q=0.8")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client, release, err := c.Transport.Client(ctx, svc.Auth)
	if err != nil {
		return nil, err
	}
	defer release()

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	status := resp.StatusCode
	out := &validation.Response{
		Kind:       storage.TypeREST,
		StatusCode: &status,
		Headers:    headers,
		Text:       string(data),
	}
	if parsed, ok := validation.DecodeBody(data); ok {
		out.Body = parsed
		out.JSON = true
	} else {
		out.Body = string(data)
	}
	return out, nil
}

// RESTURL joins a base URL and an optional path with exactly one slash.
func RESTURL(endpoint, path string) string {
	if path == "" {
		return endpoint
	}
	return strings.TrimRight(endpoint, "/") + "/" + strings.TrimLeft(path, "/")
}

func sendsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
