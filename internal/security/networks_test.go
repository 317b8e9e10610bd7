package security

import "testing"

func TestIsTailscaleIP(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"100.64.0.1:8080", true},
		{"100.127.255.255:8080", true},
		{"100.63.255.255:8080", false},
		{"100.128.0.0:8080", false},
		{"192.168.1.1:8080", false},
		{"[fd7a:115c:a1e0::1]:8080", true},
		{"[fd7a:115c:a1e1::1]:8080", false},
		{"[::1]:8080", false},
		{"not-an-address", false},
		{"100.64.0.1", false}, // no port
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := IsTailscaleIP(tt.addr); got != tt.want {
				t.Errorf("IsTailscaleIP(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestNetworksAllows(t *testing.T) {
	n, err := ParseNetworks([]string{"tailscale", "192.168.0.0/16", "::1/128"})
	if err != nil {
		t.Fatalf("ParseNetworks: %v", err)
	}

	tests := []struct {
		addr string
		want bool
	}{
		{"100.100.1.1:3001", true},
		{"192.168.4.20:3001", true},
		{"[::1]:3001", true},
		{"[fd7a:115c:a1e0::9]:3001", true},
		{"10.0.0.1:3001", false},
		{"8.8.8.8:3001", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := n.Allows(tt.addr); got != tt.want {
			t.Errorf("Allows(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestNetworksEmptyAllowsAll(t *testing.T) {
	var nilNets *Networks
	if !nilNets.Allows("8.8.8.8:1") {
		t.Error("nil allowlist should admit everyone")
	}
	n, err := ParseNetworks(nil)
	if err != nil {
		t.Fatalf("ParseNetworks(nil): %v", err)
	}
	if !n.Empty() || !n.Allows("203.0.113.7:443") {
		t.Error("empty allowlist should admit everyone")
	}
}

func TestParseNetworksInvalid(t *testing.T) {
	if _, err := ParseNetworks([]string{"10.0.0.0/8", "nope"}); err == nil {
		t.Error("ParseNetworks should reject an invalid CIDR")
	}
}
