package checker

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hooklift/gowsdl"
)

const maxWSDLRead = 4 << 20

// Param describes one input parameter of a SOAP operation.
type Param struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// WSDL is a parsed service description reduced to what the dashboard needs:
// operation names and their input parameters.
type WSDL struct {
	defs gowsdl.WSDL
}

// ParseWSDL decodes a WSDL 1.1 document.
func ParseWSDL(data []byte) (*WSDL, error) {
	var defs gowsdl.WSDL
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&defs); err != nil {
		return nil, fmt.Errorf("parse wsdl: %w", err)
	}
	if len(defs.PortTypes) == 0 {
		return nil, fmt.Errorf("parse wsdl: no portType found")
	}
	return &WSDL{defs: defs}, nil
}

// FetchWSDL downloads and parses the WSDL at wsdlURL using client.
func FetchWSDL(ctx context.Context, client *http.Client, wsdlURL string) (*WSDL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wsdlURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid wsdl url: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch wsdl: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch wsdl: unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxWSDLRead))
	if err != nil {
		return nil, fmt.Errorf("fetch wsdl: %w", err)
	}
	return ParseWSDL(data)
}

// Methods lists operation names in document order without duplicates.
func (w *WSDL) Methods() []string {
	seen := make(map[string]bool)
	methods := []string{}
	for _, pt := range w.defs.PortTypes {
		for _, op := range pt.Operations {
			if op.Name == "" || seen[op.Name] {
				continue
			}
			seen[op.Name] = true
			methods = append(methods, op.Name)
		}
	}
	return methods
}

// Params lists the input parameters of method. Document/literal operations
// are resolved through the wrapper element in the schema; rpc operations use
// the message parts directly.
func (w *WSDL) Params(method string) ([]Param, error) {
	op, ok := w.operation(method)
	if !ok {
		return nil, fmt.Errorf("method %q not found in wsdl", method)
	}

	params := []Param{}
	msg, ok := w.message(localName(op.Input.Message))
	if !ok {
		return params, nil
	}

	for _, part := range msg.Parts {
		if part.Element == "" {
			params = append(params, Param{Name: part.Name, Type: typeName(part.Type), Required: true})
			continue
		}
		for _, el := range w.wrapperFields(localName(part.Element)) {
			params = append(params, Param{
				Name:     el.Name,
				Type:     typeName(el.Type),
				Required: el.MinOccurs != "0",
			})
		}
	}
	return params, nil
}

func (w *WSDL) operation(name string) (*gowsdl.WSDLOperation, bool) {
	for _, pt := range w.defs.PortTypes {
		for _, op := range pt.Operations {
			if op.Name == name {
				return op, true
			}
		}
	}
	return nil, false
}

func (w *WSDL) message(name string) (*gowsdl.WSDLMessage, bool) {
	for _, m := range w.defs.Messages {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// wrapperFields returns the child elements of the top-level schema element
// name, following a named complexType reference when the type is not inline.
func (w *WSDL) wrapperFields(name string) []*gowsdl.XSDElement {
	for _, s := range w.defs.Types.Schemas {
		for _, el := range s.Elements {
			if el.Name != name {
				continue
			}
			if el.ComplexType != nil {
				return fields(el.ComplexType)
			}
			if ct, ok := w.complexType(localName(el.Type)); ok {
				return fields(ct)
			}
			return nil
		}
	}
	return nil
}

func (w *WSDL) complexType(name string) (*gowsdl.XSDComplexType, bool) {
	if name == "" {
		return nil, false
	}
	for _, s := range w.defs.Types.Schemas {
		for _, ct := range s.ComplexTypes {
			if ct.Name == name {
				return ct, true
			}
		}
	}
	return nil, false
}

func fields(ct *gowsdl.XSDComplexType) []*gowsdl.XSDElement {
	if len(ct.Sequence) > 0 {
		return ct.Sequence
	}
	return ct.All
}

// localName strips a namespace prefix: "tns:Add" becomes "Add".
func localName(qname string) string {
	if i := strings.LastIndex(qname, ":"); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

func typeName(qname string) string {
	if qname == "" {
		return "string"
	}
	return localName(qname)
}
