package utils

import (
	"net"
	"strconv"
	"strings"
)

// NewListener opens a plain TCP listener on addr.
func NewListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}

func JoinHostPort(host string, port int) string {
	portStr := strconv.Itoa(port)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host + ":" + portStr
	}
	return net.JoinHostPort(host, portStr)
}

// RemoteIP resolves the client address of a request. When behindProxy
// is set, the X-Forwarded-For and Forwarded headers are trusted and the
// first hop wins; otherwise the transport-level address is returned.
func RemoteIP(remoteAddr string, headers map[string][]string, behindProxy bool) string {
	if behindProxy {
		if vals, ok := headers["X-Forwarded-For"]; ok && len(vals) > 0 {
			first := strings.TrimSpace(strings.Split(vals[0], ",")[0])
			if first != "" {
				return first
			}
		}
		if vals, ok := headers["Forwarded"]; ok && len(vals) > 0 {
			for part := range strings.SplitSeq(vals[0], ";") {
				part = strings.TrimSpace(part)
				if rest, ok := strings.CutPrefix(part, "for="); ok {
					rest = strings.Split(rest, ",")[0]
					return strings.Trim(rest, `"[]`)
				}
			}
		}
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
