package main

import (
	"net"
	"net/http"
	"strings"

	"github.com/seancfoley/ipaddress-go/ipaddr"
)

// extractClientIP returns the caller's address. Forwarding headers are only
// honored when the direct peer is inside one of the configured trusted
// proxy blocks; otherwise RemoteAddr wins, so clients can't spoof their
// source address with an X-Forwarded-For header.
func (app *VpnAdmin) extractClientIP(r *http.Request) string {
	remote := stripPort(r.RemoteAddr)

	if app.peerIsTrusted(remote) {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); len(xff) > 0 {
			for _, part := range strings.Split(xff, ",") {
				if ip := normalizeIP(part); len(ip) > 0 {
					return ip
				}
			}
		}
		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); len(xrip) > 0 {
			if ip := normalizeIP(xrip); len(ip) > 0 {
				return ip
			}
		}
	}

	if ip := normalizeIP(remote); len(ip) > 0 {
		return ip
	}
	return remote
}

func (app *VpnAdmin) peerIsTrusted(remote string) bool {
	if len(app.trustedProxies) == 0 {
		return false
	}
	addr := ipaddr.NewIPAddressString(remote).GetAddress()
	if addr == nil {
		return false
	}
	for _, block := range app.trustedProxies {
		if block.Contains(addr) {
			return true
		}
	}
	return false
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}

func normalizeIP(raw string) string {
	s := strings.TrimSpace(raw)
	s = stripPort(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	addr := ipaddr.NewIPAddressString(s).GetAddress()
	if addr == nil {
		return ""
	}
	return addr.String()
}
