package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/y0f/probeboard/internal/storage"
	"github.com/y0f/probeboard/internal/validation"
)

var ValidServiceTypes = map[string]bool{
	storage.TypeSOAP: true,
	storage.TypeREST: true,
}

var ValidAuthTypes = map[string]bool{
	storage.AuthNTLM:     true,
	storage.AuthKerberos: true,
}

var _validHTTPMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true,
	"DELETE": true, "HEAD": true, "OPTIONS": true,
}

var _soapOperationPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

const maxRules = 100

func ValidateService(s *storage.Service) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Name) > 255 {
		return fmt.Errorf("name must be at most 255 characters")
	}
	if !ValidServiceTypes[s.Type] {
		return fmt.Errorf("type must be one of: soap, rest")
	}
	if err := ValidateEndpoint(s.Endpoint); err != nil {
		return err
	}

	switch s.Type {
	case storage.TypeSOAP:
		if strings.TrimSpace(s.Method) == "" {
			return fmt.Errorf("method is required for soap services")
		}
		if !_soapOperationPattern.MatchString(s.Method) {
			return fmt.Errorf("method is not a valid SOAP operation name")
		}
		if s.RestEndpoint != "" {
			return fmt.Errorf("rest_endpoint is only valid for rest services")
		}
	case storage.TypeREST:
		if s.Method != "" && !_validHTTPMethods[strings.ToUpper(s.Method)] {
			return fmt.Errorf("method must be an HTTP method (GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS)")
		}
		if len(s.RestEndpoint) > 2048 {
			return fmt.Errorf("rest_endpoint must be at most 2048 characters")
		}
	}

	if err := ValidateAuth(s.Auth); err != nil {
		return err
	}
	return ValidateRules(s.ValidationRules)
}

// ValidateEndpoint requires an absolute http(s) URL.
func ValidateEndpoint(endpoint string) error {
	if strings.TrimSpace(endpoint) == "" {
		return fmt.Errorf("endpoint is required")
	}
	if len(endpoint) > 2048 {
		return fmt.Errorf("endpoint must be at most 2048 characters")
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return fmt.Errorf("endpoint must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint scheme must be http or https")
	}
	return nil
}

func ValidateAuth(a *storage.Auth) error {
	if a == nil {
		return nil
	}
	if a.AuthType == "" && a.Username == "" && a.Password == "" {
		return nil
	}
	if !ValidAuthTypes[a.AuthType] {
		return fmt.Errorf("auth.auth_type must be one of: ntlm, kerberos")
	}
	if strings.TrimSpace(a.Username) == "" {
		return fmt.Errorf("auth.username is required")
	}
	if a.AuthType == storage.AuthKerberos && a.Domain != "" {
		return fmt.Errorf("auth.domain is only used by ntlm; use user@REALM for kerberos")
	}
	return nil
}

// ValidateRules checks rule shape only. Rules that cannot be evaluated at
// check time, such as a status_code rule on a SOAP service, still fail there
// with a descriptive message.
func ValidateRules(rules []validation.Rule) error {
	if len(rules) > maxRules {
		return fmt.Errorf("at most %d validation rules are allowed", maxRules)
	}
	for i, r := range rules {
		if !validation.ValidTypes[r.Type] {
			return fmt.Errorf("validation_rules[%d].type must be one of: status_code, contains, regex, json_path, equals", i)
		}
		switch r.Type {
		case validation.TypeStatusCode:
			code, err := strconv.Atoi(strings.TrimSpace(r.Value))
			if err != nil || code < 100 || code > 599 {
				return fmt.Errorf("validation_rules[%d].value must be an HTTP status code", i)
			}
		case validation.TypeRegex:
			pattern := r.Pattern
			if pattern == "" {
				pattern = r.Value
			}
			if pattern == "" {
				return fmt.Errorf("validation_rules[%d].pattern is required", i)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("validation_rules[%d].pattern is invalid: %v", i, err)
			}
		case validation.TypeJSONPath, validation.TypeEquals:
			if strings.TrimSpace(r.Field) == "" {
				return fmt.Errorf("validation_rules[%d].field is required", i)
			}
		}
	}
	return nil
}
