package security

import (
	"fmt"
	"net"
)

// TailscaleAlias names the tailnet ranges in an allowlist.
const TailscaleAlias = "tailscale"

// Parsed once at init, not per request.
var (
	tailscaleIPv4 = mustParseCIDR("100.64.0.0/10")       // Tailscale CGNAT range
	tailscaleIPv6 = mustParseCIDR("fd7a:115c:a1e0::/48") // Tailscale ULA range
)

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Networks is a client address allowlist. The zero value allows everyone.
type Networks struct {
	nets []*net.IPNet
}

// ParseNetworks builds an allowlist from CIDR strings and the "tailscale"
// alias.
func ParseNetworks(specs []string) (*Networks, error) {
	n := &Networks{}
	for _, s := range specs {
		if s == TailscaleAlias {
			n.nets = append(n.nets, tailscaleIPv4, tailscaleIPv6)
			continue
		}
		_, ipnet, err := net.ParseCIDR(s)
		if err != nil {
			return nil, fmt.Errorf("parsing network %q: %w", s, err)
		}
		n.nets = append(n.nets, ipnet)
	}
	return n, nil
}

// Empty reports whether the allowlist admits every address.
func (n *Networks) Empty() bool {
	return n == nil || len(n.nets) == 0
}

// Allows reports whether addr (host:port) is inside the allowlist.
func (n *Networks) Allows(addr string) bool {
	if n.Empty() {
		return true
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, ipnet := range n.nets {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// IsTailscaleIP checks whether the given address (host:port) belongs to the
// Tailscale network range (IPv4: 100.64.0.0/10, IPv6: fd7a:115c:a1e0::/48).
func IsTailscaleIP(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return tailscaleIPv4.Contains(ip) || tailscaleIPv6.Contains(ip)
}
