// Package clientip resolves the identifier a request is rate limited under.
package clientip

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Unknown is the shared bucket for callers that cannot be attributed.
const Unknown = "unknown"

// Resolve picks the client identifier for a request:
// the first X-Forwarded-For entry, then X-Real-IP, then (when useRemote is set) the
// connection's remote address, then Unknown. Unparsable header values are skipped.
func Resolve(h http.Header, remoteAddr string, useRemote bool) string {
	if fwd := h.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip, err := Canonical(first); err == nil {
			return ip
		}
	}
	if xr := h.Get("X-Real-IP"); xr != "" {
		if ip, err := Canonical(xr); err == nil {
			return ip
		}
	}
	if useRemote && remoteAddr != "" {
		host := remoteAddr
		if hp, _, err := net.SplitHostPort(remoteAddr); err == nil {
			host = hp
		}
		if ip, err := Canonical(host); err == nil {
			return ip
		}
	}
	return Unknown
}

// Canonical parses an IP address and returns its canonical form.
// IPv4-mapped IPv6 addresses (::ffff:1.2.3.4) are normalised to IPv4.
func Canonical(value string) (string, error) {
	value = strings.TrimSpace(value)
	ip := net.ParseIP(value)
	if ip == nil {
		return "", fmt.Errorf("invalid IP address %q", value)
	}
	if ip4 := ip.To4(); ip4 != nil {
		return ip4.String(), nil
	}
	return ip.String(), nil
}

// ParseAllowlist parses IP/CIDR strings into networks. Single IPs become /32 or /128.
func ParseAllowlist(entries []string) ([]*net.IPNet, error) {
	result := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("invalid allowlist entry %q", e)
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			e = fmt.Sprintf("%s/%d", ip.String(), bits)
		}
		_, cidr, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("invalid allowlist CIDR %q: %w", e, err)
		}
		result = append(result, cidr)
	}
	return result, nil
}

// Contains reports whether ip falls inside any of nets.
func Contains(ip string, nets []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
