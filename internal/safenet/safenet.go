package safenet

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
)

var reserved = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.88.99.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"224.0.0.0/4",
	"240.0.0.0/4",
	"255.255.255.255/32",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

// ParsePrefixes parses CIDR strings such as "10.20.0.0/16".
func ParsePrefixes(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", c, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// IsPrivate reports whether addr is in a private or reserved range.
func IsPrivate(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range reserved {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsPrivateIP is IsPrivate for net.IP values.
func IsPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	return IsPrivate(addr)
}

// Policy decides which resolved addresses outbound checks may connect to.
// Private ranges are refused unless AllowPrivate is set or the address falls
// inside one of the Allowed networks.
type Policy struct {
	AllowPrivate bool
	Allowed      []netip.Prefix
}

// Permits reports whether a connection to addr is allowed.
func (p Policy) Permits(addr netip.Addr) bool {
	if p.AllowPrivate || !IsPrivate(addr) {
		return true
	}
	addr = addr.Unmap()
	for _, n := range p.Allowed {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// DialControl returns a net.Dialer Control function enforcing p, or nil when
// every address is allowed. It runs after DNS resolution, so hostnames that
// resolve into a blocked range are refused as well.
func (p Policy) DialControl() func(network, address string, c syscall.RawConn) error {
	if p.AllowPrivate {
		return nil
	}
	return func(network, address string, _ syscall.RawConn) error {
		ap, err := netip.ParseAddrPort(address)
		if err != nil {
			return fmt.Errorf("blocked: invalid address %q", address)
		}
		if !p.Permits(ap.Addr()) {
			return fmt.Errorf("blocked: connections to private/reserved IP %s are not allowed", ap.Addr())
		}
		return nil
	}
}
