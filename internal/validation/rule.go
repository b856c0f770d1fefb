package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Rule types accepted on the wire.
const (
	TypeStatusCode = "status_code"
	TypeContains   = "contains"
	TypeRegex      = "regex"
	TypeJSONPath   = "json_path"
	TypeEquals     = "equals"
)

// ValidTypes lists every rule type the evaluator understands.
var ValidTypes = map[string]bool{
	TypeStatusCode: true,
	TypeContains:   true,
	TypeRegex:      true,
	TypeJSONPath:   true,
	TypeEquals:     true,
}

// Rule is a single declarative assertion against a check response.
// Unused fields are empty strings.
type Rule struct {
	Type    string `json:"type"`    // status_code, contains, regex, json_path, equals
	Field   string `json:"field"`   // dot path into the parsed body; empty means the whole body
	Value   string `json:"value"`   // expected value (status code, substring, or compared value)
	Pattern string `json:"pattern"` // regex pattern
}

// UnmarshalJSON accepts value as a JSON string, number, boolean or null so
// that {"type":"status_code","value":200} and {"value":"200"} are the same rule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type    string          `json:"type"`
		Field   string          `json:"field"`
		Value   json.RawMessage `json:"value"`
		Pattern string          `json:"pattern"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	value, err := scalarString(aux.Value)
	if err != nil {
		return fmt.Errorf("rule %q: %w", aux.Type, err)
	}
	*r = Rule{Type: aux.Type, Field: aux.Field, Value: value, Pattern: aux.Pattern}
	return nil
}

func scalarString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("value must be a string, number or boolean")
	default:
		// numbers and booleans keep their literal form
		return string(raw), nil
	}
}

// ExpectedStatus parses Value as an HTTP status code.
func (r Rule) ExpectedStatus() (int, error) {
	code, err := strconv.Atoi(r.Value)
	if err != nil {
		return 0, fmt.Errorf("invalid expected status code %q", r.Value)
	}
	return code, nil
}

// Response is the transport-neutral view of a check response the rules run against.
type Response struct {
	Kind       string            // service type that produced it: rest or soap
	StatusCode *int              // nil when the transport has no status concept
	Headers    map[string]string // response headers, if any
	Body       any               // parsed body tree, valid when JSON is true
	Text       string            // body as a string
	JSON       bool              // whether Body holds a parsed JSON tree
}

// Result is the aggregate verdict of a rule set.
type Result struct {
	Passed   bool     `json:"passed"`
	Failures []string `json:"failures"`
}

// Detail holds the outcome of one rule.
type Detail struct {
	Rule    Rule
	Pass    bool
	Actual  string
	Message string
}
