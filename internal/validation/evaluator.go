package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Validate runs every rule against resp and collects the failure messages in
// rule order. An empty rule set passes.
func Validate(rules []Rule, resp *Response) Result {
	failures := []string{}
	for _, r := range rules {
		d := Evaluate(r, resp)
		if !d.Pass {
			failures = append(failures, d.Message)
		}
	}
	return Result{Passed: len(failures) == 0, Failures: failures}
}

// Evaluate checks a single rule. Malformed rules, missing fields and
// unparseable bodies are reported as a failed Detail, never a panic.
func Evaluate(r Rule, resp *Response) Detail {
	if resp == nil {
		return fail(r, "", "No response to validate")
	}
	switch r.Type {
	case TypeStatusCode:
		return evalStatusCode(r, resp)
	case TypeContains:
		return evalContains(r, resp)
	case TypeRegex:
		return evalRegex(r, resp)
	case TypeJSONPath, TypeEquals:
		return evalFieldEquals(r, resp)
	default:
		return fail(r, "", fmt.Sprintf("Unknown validation rule type '%s'", r.Type))
	}
}

func evalStatusCode(r Rule, resp *Response) Detail {
	if resp.StatusCode == nil {
		if resp.Kind == "soap" {
			return fail(r, "", "No status code available for SOAP response")
		}
		return fail(r, "", "No status code available in response")
	}
	actual := *resp.StatusCode
	expected, err := r.ExpectedStatus()
	if err != nil {
		return fail(r, strconv.Itoa(actual), fmt.Sprintf("Status code rule: %v", err))
	}
	if actual != expected {
		return fail(r, strconv.Itoa(actual), fmt.Sprintf("Status code %d != %d", actual, expected))
	}
	return Detail{Rule: r, Pass: true, Actual: strconv.Itoa(actual)}
}

func evalContains(r Rule, resp *Response) Detail {
	text, msg := target(r, resp)
	if msg != "" {
		return fail(r, "", msg)
	}
	if !strings.Contains(text, r.Value) {
		return fail(r, text, fmt.Sprintf("%s does not contain '%s' (got '%s')",
			subject(r.Field), r.Value, truncate(text, 100)))
	}
	return Detail{Rule: r, Pass: true, Actual: text}
}

func evalRegex(r Rule, resp *Response) Detail {
	pattern := r.Pattern
	if pattern == "" {
		pattern = r.Value
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fail(r, "", fmt.Sprintf("Invalid regex pattern '%s': %v", truncate(pattern, 50), err))
	}
	text, msg := target(r, resp)
	if msg != "" {
		return fail(r, "", msg)
	}
	if !re.MatchString(text) {
		return fail(r, text, fmt.Sprintf("%s does not match regex '%s'", subject(r.Field), truncate(pattern, 50)))
	}
	return Detail{Rule: r, Pass: true, Actual: text}
}

// evalFieldEquals backs both json_path and equals.
func evalFieldEquals(r Rule, resp *Response) Detail {
	if !resp.JSON {
		return fail(r, "", "Response body is not valid JSON")
	}
	val, ok := Lookup(resp.Body, r.Field)
	if !ok {
		return fail(r, "", fmt.Sprintf("Field '%s' not found in response", r.Field))
	}
	actual := Stringify(val)
	if actual != r.Value {
		return fail(r, actual, fmt.Sprintf("%s value %s != %s", subject(r.Field), truncate(actual, 100), r.Value))
	}
	return Detail{Rule: r, Pass: true, Actual: actual}
}

// target resolves the string a contains/regex rule inspects.
func target(r Rule, resp *Response) (string, string) {
	if r.Field == "" {
		return resp.Text, ""
	}
	if !resp.JSON {
		return "", "Response body is not valid JSON"
	}
	val, ok := Lookup(resp.Body, r.Field)
	if !ok {
		return "", fmt.Sprintf("Field '%s' not found in response", r.Field)
	}
	return Stringify(val), ""
}

func subject(field string) string {
	if field == "" {
		return "Response"
	}
	return fmt.Sprintf("Field '%s'", field)
}

func fail(r Rule, actual, msg string) Detail {
	return Detail{Rule: r, Pass: false, Actual: actual, Message: msg}
}

// DecodeBody parses data as JSON, keeping numbers in their literal form.
// It reports false when data is not a single valid JSON document.
func DecodeBody(data []byte) (any, bool) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return v, true
}

// Lookup walks root along a dot-separated path. Numeric segments index into
// arrays, and "items[0]" style indexing is accepted as well. An empty path
// returns root itself.
func Lookup(root any, path string) (any, bool) {
	current := root
	for _, part := range splitPath(path) {
		key, idx, hasIdx := parsePathPart(part)

		if key != "" {
			switch node := current.(type) {
			case map[string]any:
				val, exists := node[key]
				if !exists {
					return nil, false
				}
				current = val
			case []any:
				i, err := strconv.Atoi(key)
				if err != nil || i < 0 || i >= len(node) {
					return nil, false
				}
				current = node[i]
			default:
				return nil, false
			}
		}

		if hasIdx {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}
	return current, true
}

// splitPath splits "a.b[0].c" into ["a", "b[0]", "c"].
func splitPath(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// parsePathPart parses "name[0]" into ("name", 0, true) or "name" into ("name", 0, false).
func parsePathPart(part string) (string, int, bool) {
	bracketIdx := strings.Index(part, "[")
	if bracketIdx == -1 || !strings.HasSuffix(part, "]") {
		return part, 0, false
	}
	idx, err := strconv.Atoi(part[bracketIdx+1 : len(part)-1])
	if err != nil {
		return part, 0, false
	}
	return part[:bracketIdx], idx, true
}

// Stringify renders a body value for comparison: strings as-is, numbers by
// their literal, null as "null" and containers as compact JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Cut on a rune boundary.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
