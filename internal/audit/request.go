package audit

import (
	"net"
	"net/http"
	"strings"
)

// DefaultActor is recorded when the caller does not identify itself.
const DefaultActor = "admin"

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// ignored here; the router rewrites RemoteAddr from them only when the
// deployment trusts its proxy.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return strings.TrimSpace(host)
}

// Actor returns the operator name sent in X-Admin-Actor, or DefaultActor.
func Actor(r *http.Request) string {
	if r != nil {
		if v := strings.TrimSpace(r.Header.Get("X-Admin-Actor")); v != "" {
			return v
		}
	}
	return DefaultActor
}
