package checker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	xml2json "github.com/basgys/goxml2json"
	"github.com/tiaguinho/gosoap"

	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validation"
)

// SOAPChecker invokes a WSDL operation and exposes its result as a tree.
type SOAPChecker struct {
	Transport *Transport
	Timeout   time.Duration // bounds each Invoke and Inspect when set
}

func (c *SOAPChecker) Type() string { return storage.TypeSOAP }

func (c *SOAPChecker) Check(ctx context.Context, svc *storage.Service) (*validation.Response, error) {
	result, err := c.Invoke(ctx, svc.Endpoint, svc.Method, svc.Params, svc.Auth)
	if err != nil {
		return nil, err
	}
	text, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode soap result: %w", err)
	}
	return &validation.Response{
		Kind: storage.TypeSOAP,
		Body: result,
		Text: string(text),
		JSON: true,
	}, nil
}

// Invoke calls method on the service described by wsdlURL.
func (c *SOAPChecker) Invoke(ctx context.Context, wsdlURL, method string, params map[string]string, auth *storage.Auth) (map[string]any, error) {
	if method == "" {
		return nil, fmt.Errorf("no SOAP method configured")
	}
	ctx, cancel := c.bound(ctx)
	defer cancel()

	client, release, err := c.Transport.Client(ctx, auth)
	if err != nil {
		return nil, err
	}
	defer release()

	soap, err := gosoap.SoapClient(wsdlURL, client)
	if err != nil {
		return nil, fmt.Errorf("load wsdl: %w", err)
	}

	p := gosoap.Params{}
	for k, v := range params {
		p[k] = v
	}

	resp, err := soap.Call(method, p)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("soap call %s: %w", method, ctx.Err())
		}
		return nil, fmt.Errorf("soap call %s: %w", method, err)
	}
	return DecodeSOAPBody(resp.Body)
}

// Inspect fetches the WSDL at wsdlURL with the given credentials.
func (c *SOAPChecker) Inspect(ctx context.Context, wsdlURL string, auth *storage.Auth) (*WSDL, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	client, release, err := c.Transport.Client(ctx, auth)
	if err != nil {
		return nil, err
	}
	defer release()
	return FetchWSDL(ctx, client, wsdlURL)
}

func (c *SOAPChecker) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

// DecodeSOAPBody converts the XML inside a SOAP Body into a JSON-shaped tree.
// The <MethodResponse> wrapper is removed, attributes are dropped, and a
// single scalar return value becomes {"result": value}.
func DecodeSOAPBody(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return map[string]any{"result": ""}, nil
	}

	buf, err := xml2json.Convert(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode soap body: %w", err)
	}
	tree, ok := validation.DecodeBody(buf.Bytes())
	if !ok {
		return nil, fmt.Errorf("decode soap body: converter produced invalid JSON")
	}

	v := unwrapResponse(simplify(tree))
	switch val := v.(type) {
	case map[string]any:
		return val, nil
	default:
		return map[string]any{"result": val}, nil
	}
}

// simplify drops XML attributes and collapses text-only elements.
func simplify(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			if strings.HasPrefix(k, "-") {
				continue
			}
			out[k] = simplify(child)
		}
		if text, ok := out["#content"]; ok && len(out) == 1 {
			return text
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = simplify(child)
		}
		return out
	default:
		return val
	}
}

// unwrapResponse removes a single <...Response> wrapper. Any other top-level
// element is returned untouched.
func unwrapResponse(v any) any {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return v
	}
	unwrapped := false
	for name, inner := range m {
		if strings.HasSuffix(name, "Response") {
			v = inner
			unwrapped = true
		}
	}
	if !unwrapped {
		return v
	}

	// A response holding exactly one value is that value.
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		for _, only := range m {
			if _, isMap := only.(map[string]any); isMap {
				return only
			}
			if _, isList := only.([]any); !isList {
				return only
			}
		}
	}
	return v
}
