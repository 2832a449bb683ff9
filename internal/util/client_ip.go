package util

import (
	"net"
	"net/http"
	"strings"
)

// TrustedProxies is the set of peers whose forwarded-for headers are
// believed when attributing a request to a client IP. Rate limiting keys
// on that IP, so a header from an untrusted peer must never win.
type TrustedProxies struct {
	nets []*net.IPNet
}

// NewTrustedProxies parses a list of CIDRs or single IPs. An empty list
// yields nil, meaning no peer is trusted and only the socket address
// counts.
func NewTrustedProxies(entries []string) (*TrustedProxies, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			_, cidr, err := net.ParseCIDR(entry)
			if err != nil {
				return nil, err
			}
			nets = append(nets, cidr)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			return nil, &net.ParseError{Type: "IP address", Text: entry}
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	if len(nets) == 0 {
		return nil, nil
	}
	return &TrustedProxies{nets: nets}, nil
}

// Contains reports whether ip falls inside any trusted range.
func (t *TrustedProxies) Contains(ip net.IP) bool {
	if t == nil || ip == nil {
		return false
	}
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP attributes the request to a client address. When the direct
// peer is a trusted proxy the X-Forwarded-For chain is walked from the
// right, returning the first hop that is not itself trusted; otherwise
// the socket address is authoritative and forwarded headers are ignored.
func ClientIP(r *http.Request, trusted *TrustedProxies) string {
	peer := ipFromHostPort(r.RemoteAddr)
	if peer == nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	if !trusted.Contains(peer) {
		return peer.String()
	}

	if chain := forwardedChain(r.Header.Get("X-Forwarded-For")); len(chain) > 0 {
		chain = append(chain, peer)
		for i := len(chain) - 1; i >= 0; i-- {
			if !trusted.Contains(chain[i]) {
				return chain[i].String()
			}
		}
		return chain[0].String()
	}
	if realIP := parseIP(r.Header.Get("X-Real-IP")); realIP != nil {
		return realIP.String()
	}
	return peer.String()
}

func forwardedChain(header string) []net.IP {
	parts := strings.Split(header, ",")
	chain := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		if ip := parseIP(part); ip != nil {
			chain = append(chain, ip)
		}
	}
	return chain
}

func ipFromHostPort(addr string) net.IP {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return parseIP(host)
	}
	return parseIP(addr)
}

func parseIP(raw string) net.IP {
	return net.ParseIP(strings.TrimSpace(raw))
}
