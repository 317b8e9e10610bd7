package security

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
)

// ExtractBearerToken parses "Bearer <token>" from the Authorization header.
// The scheme is matched case-insensitively and the token is trimmed.
func ExtractBearerToken(authHeader string) string {
	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// RequestToken returns the auth token of a request: the Authorization
// header first, then the "token" query parameter. fromQuery reports the
// fallback so callers can warn about tokens leaking into access logs.
func RequestToken(r *http.Request) (token string, fromQuery bool) {
	if token = ExtractBearerToken(r.Header.Get("Authorization")); token != "" {
		return token, false
	}
	token = r.URL.Query().Get("token")
	return token, token != ""
}

// TokenMatch uses constant-time comparison to prevent timing attacks.
func TokenMatch(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// ExtractClientIP strips the port from RemoteAddr ("ip:port" → "ip").
func ExtractClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.Trim(remoteAddr, "[]")
	}
	return host
}
