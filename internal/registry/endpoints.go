package registry

import (
	"net"
	"net/url"
	"strings"
)

// JoinAPIURL resolves the setup API base path against origin and appends op.
func JoinAPIURL(origin, basePath, op string) string {
	base := strings.TrimRight(strings.TrimSpace(origin), "/")
	p := normalizedURLPath(basePath)
	if p == "/" {
		p = ""
	}
	if !strings.HasPrefix(p, "/") && p != "" {
		p = "/" + p
	}
	return base + p + "/" + strings.TrimLeft(op, "/")
}

// IsAllowedAPIOrigin requires https except for loopback hosts used in dev and tests.
func IsAllowedAPIOrigin(origin string) bool {
	if strings.TrimSpace(origin) == "" {
		return false
	}
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https"
	}
	return scheme == "https"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func normalizedURLPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/"
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return "/"
	}
	return p
}
