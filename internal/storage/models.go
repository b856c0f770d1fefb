package storage

import (
	"time"

	"github.com/y0f/probeboard/internal/validation"
)

// Service kinds.
const (
	TypeSOAP = "soap"
	TypeREST = "rest"
)

// Auth auth types.
const (
	AuthNTLM     = "ntlm"
	AuthKerberos = "kerberos"
)

// Service is a registered remote endpoint plus the rules its responses must satisfy.
type Service struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Type            string            `json:"type"`     // soap, rest
	Endpoint        string            `json:"endpoint"` // WSDL URL for soap, base URL for rest
	Method          string            `json:"method"`   // SOAP operation or HTTP verb
	RestEndpoint    string            `json:"rest_endpoint,omitempty"`
	Params          map[string]string `json:"params,omitempty"`
	Auth            *Auth             `json:"auth,omitempty"`
	ValidationRules []validation.Rule `json:"validation_rules"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`

	// Runtime state, stored in service_last_check.
	LastCheck *CheckRecord `json:"last_check,omitempty"`
}

// Auth holds credentials for NTLM or Kerberos protected services.
type Auth struct {
	AuthType string `json:"auth_type"` // ntlm, kerberos
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Domain   string `json:"domain,omitempty"` // NTLM only
}

// Clone returns a copy of s that shares nothing mutable with it except
// LastCheck, which is never modified after it is built.
func (s *Service) Clone() *Service {
	c := *s
	if s.Params != nil {
		c.Params = make(map[string]string, len(s.Params))
		for k, v := range s.Params {
			c.Params[k] = v
		}
	}
	if s.Auth != nil {
		a := *s.Auth
		c.Auth = &a
	}
	if s.ValidationRules != nil {
		c.ValidationRules = append([]validation.Rule(nil), s.ValidationRules...)
	}
	return &c
}

// CheckRecord is the outcome of one health check.
type CheckRecord struct {
	Timestamp   time.Time          `json:"timestamp"`
	Success     bool               `json:"success"`
	RawResponse *RawResponse       `json:"raw_response,omitempty"`
	Validation  *validation.Result `json:"validation,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// RawResponse is what the transport returned.
type RawResponse struct {
	StatusCode     *int              `json:"status_code,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           any               `json:"body"`
	ResponseTimeMs int64             `json:"response_time_ms"`
}

// CheckHistory is one row of the append-only check log.
type CheckHistory struct {
	ID             int64        `json:"id"`
	ServiceID      string       `json:"service_id"`
	Success        bool         `json:"success"`
	Error          string       `json:"error,omitempty"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	Record         *CheckRecord `json:"record"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Pagination contains parameters for list queries.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// PaginatedResult wraps a list response with metadata.
type PaginatedResult struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PerPage    int         `json:"per_page"`
	TotalPages int         `json:"total_pages"`
}
