package security

import (
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer my-secret-token", "my-secret-token"},
		{"Bearer abc123", "abc123"},
		{"Bearer ", ""},    // empty token after prefix
		{"bearer abc", "abc"}, // case-insensitive prefix
		{"Basic abc123", ""},
		{"", ""},
		{"BearerNoSpace", ""},
		{"Bearer token  ", "token"},   // trailing whitespace trimmed
		{"Bearer  token ", "token"},   // leading+trailing whitespace trimmed
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got := ExtractBearerToken(tt.header)
			if got != tt.want {
				t.Errorf("ExtractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestTokenMatch(t *testing.T) {
	tests := []struct {
		name     string
		provided string
		expected string
		want     bool
	}{
		{"matching tokens", "my-token", "my-token", true},
		{"different tokens", "wrong", "right", false},
		{"empty provided", "", "token", false},
		{"empty expected", "token", "", false},
		{"both empty", "", "", false},
		{"different lengths", "short", "much-longer-token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TokenMatch(tt.provided, tt.expected)
			if got != tt.want {
				t.Errorf("TokenMatch(%q, %q) = %v, want %v", tt.provided, tt.expected, got, tt.want)
			}
		})
	}
}


func TestRequestToken(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=from-query", nil)
	req.Header.Set("Authorization", "Bearer from-header")
	if tok, fromQuery := RequestToken(req); tok != "from-header" || fromQuery {
		t.Errorf("RequestToken() = (%q, %v), want header token", tok, fromQuery)
	}

	req = httptest.NewRequest("GET", "/ws?token=from-query", nil)
	if tok, fromQuery := RequestToken(req); tok != "from-query" || !fromQuery {
		t.Errorf("RequestToken() = (%q, %v), want query token", tok, fromQuery)
	}

	req = httptest.NewRequest("GET", "/ws", nil)
	if tok, fromQuery := RequestToken(req); tok != "" || fromQuery {
		t.Errorf("RequestToken() = (%q, %v), want empty", tok, fromQuery)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"10.0.0.1:5000", "10.0.0.1"},
		{"[::1]:8080", "::1"},
		{"[fd7a:115c:a1e0::1]:443", "fd7a:115c:a1e0::1"},
		{"10.0.0.1", "10.0.0.1"},
	}
	for _, tt := range tests {
		if got := ExtractClientIP(tt.addr); got != tt.want {
			t.Errorf("ExtractClientIP(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
