// Package netguard keeps outbound API calls away from private and
// link-local networks.
package netguard

import (
	"context"
	"fmt"
	"net"
	"time"

	"askverse/internal/domain"
)

var blocked = mustParseCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("netguard: bad CIDR %q: %v", c, err))
		}
		out = append(out, n)
	}
	return out
}

// IsPrivate reports whether ip is loopback, private, link-local or
// carrier-grade NAT space.
func IsPrivate(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, n := range blocked {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver looks up host addresses.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Dialer resolves the host once, rejects private addresses and connects to
// the first resolved address so a second lookup cannot rebind the name.
type Dialer struct {
	Resolver Resolver
	Dialer   *net.Dialer
}

// NewDialer returns a Dialer using the default resolver.
func NewDialer() *Dialer {
	return &Dialer{
		Resolver: net.DefaultResolver,
		Dialer:   &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second},
	}
}

// DialContext has the signature of net.Dialer.DialContext.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("netguard: invalid address %q: %w", addr, err)
	}

	var ips []net.IPAddr
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IPAddr{{IP: ip}}
	} else {
		ips, err = d.Resolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, domain.NewDomainError("netguard.Dial", domain.ErrEndpointCall, fmt.Sprintf("resolve %s: %v", host, err))
		}
	}
	if len(ips) == 0 {
		return nil, domain.NewDomainError("netguard.Dial", domain.ErrEndpointCall, "no addresses for "+host)
	}
	for _, ip := range ips {
		if IsPrivate(ip.IP) {
			return nil, domain.NewDomainError("netguard.Dial", domain.ErrHostBlocked,
				fmt.Sprintf("%s resolves to private address %s", host, ip.IP))
		}
	}
	return d.Dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}
