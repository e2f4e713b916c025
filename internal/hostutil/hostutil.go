// Package hostutil normalizes upstream endpoint strings from center configuration.
package hostutil

import (
	"net/url"
	"strings"
)

// Normalize converts an endpoint string to a full URL.
//   - Empty string returns empty
//   - file:// URLs and filesystem paths are returned unchanged
//   - localhost/127.0.0.1 defaults to http://
//   - Other bare hostnames default to https://
//   - Full http(s) URLs are used as-is
func Normalize(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if IsFile(endpoint) {
		return endpoint
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	host, _, _ := strings.Cut(endpoint, "/")
	if IsLocalhost(host) {
		return "http://" + endpoint
	}
	return "https://" + endpoint
}

// IsFile reports whether endpoint names a local file rather than a remote URL.
func IsFile(endpoint string) bool {
	return strings.HasPrefix(endpoint, "file://") ||
		strings.HasPrefix(endpoint, "/") ||
		strings.HasPrefix(endpoint, "./") ||
		strings.HasPrefix(endpoint, "../")
}

// FilePath returns the filesystem path for a file endpoint.
func FilePath(endpoint string) string {
	return strings.TrimPrefix(endpoint, "file://")
}

// HostKey returns the lowercase host[:port] of an http(s) URL with default
// ports stripped, for keying per-host state. Returns "" if rawURL has no host.
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || (u.Scheme == "https" && port == "443") || (u.Scheme == "http" && port == "80") {
		return host
	}
	if strings.Contains(host, ":") {
		return "[" + host + "]:" + port
	}
	return host + ":" + port
}

// IsLocalhost returns true if host is localhost, a .localhost subdomain,
// 127.0.0.1, or [::1] (with optional port).
func IsLocalhost(host string) bool {
	hostWithoutPort := host
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		// Bracketed IPv6 keeps its colons unless a port follows the bracket
		if !strings.HasPrefix(host, "[") || strings.HasPrefix(host, "[::1]:") {
			hostWithoutPort = host[:idx]
		}
	}

	if hostWithoutPort == "localhost" || strings.HasSuffix(hostWithoutPort, ".localhost") {
		return true
	}
	if hostWithoutPort == "127.0.0.1" {
		return true
	}
	return hostWithoutPort == "[::1]"
}
