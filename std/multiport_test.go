package std

import "testing"

func TestExpandAddrsValid(t *testing.T) {
	tests := []struct {
		name  string
		addr  string
		addrs []string
	}{
		{name: "SinglePort", addr: "example.com:2000", addrs: []string{"example.com:2000"}},
		{name: "Range", addr: "example.com:2000-2002", addrs: []string{"example.com:2000", "example.com:2001", "example.com:2002"}},
		{name: "IPv4", addr: "0.0.0.0:4000", addrs: []string{"0.0.0.0:4000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addrs, err := ExpandAddrs(tt.addr)
			if err != nil {
				t.Fatalf("ExpandAddrs(%q) unexpected error: %v", tt.addr, err)
			}

			if len(addrs) != len(tt.addrs) {
				t.Fatalf("expected %d addresses, got %d", len(tt.addrs), len(addrs))
			}
			for i := range addrs {
				if addrs[i] != tt.addrs[i] {
					t.Fatalf("address %d: expected %q, got %q", i, tt.addrs[i], addrs[i])
				}
			}
		})
	}
}

func TestExpandAddrsInvalid(t *testing.T) {
	tests := []struct {
		name string
		addr string
	}{
		{name: "MissingPort", addr: "example.com"},
		{name: "ZeroPort", addr: "example.com:0"},
		{name: "PortTooLarge", addr: "example.com:70000"},
		{name: "MaxLessThanMin", addr: "example.com:3000-2000"},
		{name: "HighRange", addr: "example.com:65534-70000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ExpandAddrs(tt.addr); err == nil {
				t.Fatalf("ExpandAddrs(%q) expected error", tt.addr)
			}
		})
	}
}
