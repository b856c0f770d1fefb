package checker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"time"

	ntlmssp "github.com/Azure/go-ntlmssp"
	krbclient "github.com/jcmturner/gokrb5/v8/client"
	krbconfig "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/y0f/probeboard/internal/safenet"
	"github.com/y0f/probeboard/internal/storage"
)

// Transport holds the outbound settings shared by every checker and builds
// per-call HTTP clients carrying the service's credentials.
type Transport struct {
	AllowPrivate       bool
	AllowedNetworks    []netip.Prefix // reachable even when private targets are blocked
	InsecureSkipVerify bool
	ProxyURL           string        // http(s):// or socks5://
	Krb5Conf           string        // path to krb5.conf, required for kerberos auth
	DialTimeout        time.Duration // dial, handshake and response header; defaults to 10s
}

// Client returns an HTTP client bound to ctx that authenticates as auth.
// The returned release func must be called once the client is no longer used.
func (t *Transport) Client(ctx context.Context, auth *storage.Auth) (*http.Client, func(), error) {
	if t == nil {
		t = &Transport{}
	}
	base := t.base()
	release := base.CloseIdleConnections

	var rt http.RoundTripper = base
	if auth != nil && auth.Username != "" && auth.Password != "" {
		switch auth.AuthType {
		case storage.AuthNTLM, "":
			rt = &basicAuthTransport{
				username: ntlmUsername(auth),
				password: auth.Password,
				next:     ntlmssp.Negotiator{RoundTripper: base},
			}
		case storage.AuthKerberos:
			krt, err := t.kerberos(base, auth)
			if err != nil {
				release()
				return nil, nil, err
			}
			rt = krt
			release = func() {
				krt.krb.Destroy()
				base.CloseIdleConnections()
			}
		default:
			release()
			return nil, nil, fmt.Errorf("unsupported auth type: %s", auth.AuthType)
		}
	}

	return &http.Client{Transport: &contextTransport{ctx: ctx, next: rt}}, release, nil
}

func (t *Transport) base() *http.Transport {
	timeout := t.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{
		Timeout: timeout,
		Control: safenet.Policy{AllowPrivate: t.AllowPrivate, Allowed: t.AllowedNetworks}.DialControl(),
	}
	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: t.InsecureSkipVerify,
		},
		// NTLM authenticates the connection, so keep-alives stay on.
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
	}
	if dial := ProxyDialer(t.ProxyURL, dialer.DialContext); dial != nil {
		tr.DialContext = dial
	} else if u := HTTPProxyURL(t.ProxyURL); u != nil {
		tr.Proxy = http.ProxyURL(u)
	}
	return tr
}

// ntlmUsername formats the NTLM account as DOMAIN\user when a domain is set.
func ntlmUsername(auth *storage.Auth) string {
	if auth.Domain == "" {
		return auth.Username
	}
	return auth.Domain + `\` + auth.Username
}

// basicAuthTransport hands credentials to the NTLM negotiator, which reads
// them from the Authorization header.
type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (b *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth(b.username, b.password)
	return b.next.RoundTrip(r)
}

// contextTransport binds every request to ctx, including the ones issued by
// libraries that do not take a context.
type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (c *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.next.RoundTrip(req.WithContext(c.ctx))
}

type spnegoTransport struct {
	client *spnego.Client
	krb    *krbclient.Client
}

func (s *spnegoTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return s.client.Do(req.Clone(req.Context()))
}

func (t *Transport) kerberos(base http.RoundTripper, auth *storage.Auth) (*spnegoTransport, error) {
	if t.Krb5Conf == "" {
		return nil, errors.New("kerberos: checks.kerberos.krb5_conf is not configured")
	}
	cfg, err := krbconfig.Load(t.Krb5Conf)
	if err != nil {
		return nil, fmt.Errorf("kerberos: load %s: %w", t.Krb5Conf, err)
	}

	username, realm := splitPrincipal(auth.Username, cfg.LibDefaults.DefaultRealm)
	if realm == "" {
		return nil, fmt.Errorf("kerberos: no realm for %q and no default_realm in %s", auth.Username, t.Krb5Conf)
	}

	cl := krbclient.NewWithPassword(username, realm, auth.Password, cfg, krbclient.DisablePAFXFAST(true))
	if err := cl.Login(); err != nil {
		return nil, fmt.Errorf("kerberos: login %s@%s: %w", username, realm, err)
	}

	return &spnegoTransport{
		client: spnego.NewClient(cl, &http.Client{Transport: base}, ""),
		krb:    cl,
	}, nil
}

// splitPrincipal splits "user@REALM" and falls back to defaultRealm.
func splitPrincipal(principal, defaultRealm string) (string, string) {
	if i := strings.LastIndex(principal, "@"); i > 0 {
		return principal[:i], strings.ToUpper(principal[i+1:])
	}
	return principal, defaultRealm
}
