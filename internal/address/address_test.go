package address

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		uri  string
	}{
		{"ipv4 with scheme", "tcp://127.0.0.1:35216"},
		{"ipv4 without scheme", "127.0.0.1:35216"},
		{"ipv6 bracketed", "tcp://[::1]:35216"},
		{"ipv6 with scope", "tcp://[fe80::1%eth0]:35216"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			addr, err := Parse(TCP, tc.uri)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.uri, err)
			}
			again, err := Parse(addr.Protocol(), addr.URI())
			if err != nil {
				t.Fatalf("reparse %q: %v", addr.URI(), err)
			}
			if again.Protocol() != addr.Protocol() || again.Scheme() != addr.Scheme() ||
				again.Authority() != addr.Authority() || again.Host() != addr.Host() ||
				again.Port() != addr.Port() {
				t.Fatalf("round trip mismatch: %+v vs %+v", addr, again)
			}
		})
	}
}

func TestParseRejectsWhitespace(t *testing.T) {
	if _, err := Parse(TCP, "tcp://127.0.0.1: 35216"); err == nil {
		t.Fatalf("expected error for whitespace in uri")
	}
}

func TestParseRejectsBadPort(t *testing.T) {
	for _, uri := range []string{"tcp://127.0.0.1:0", "tcp://127.0.0.1:70000", "tcp://127.0.0.1"} {
		if _, err := Parse(TCP, uri); err == nil {
			t.Fatalf("expected error for %q", uri)
		}
	}
}

func TestBindingAddressResolvesWildcard(t *testing.T) {
	bound, err := NewBindingAddress(TCP, "tcp://*:35216", "127.0.0.1")
	if err != nil {
		t.Fatalf("new binding address: %v", err)
	}
	if bound.Host() != "127.0.0.1" {
		t.Fatalf("expected wildcard resolved to interface, got %s", bound.Host())
	}
	if bound.Interface() != "127.0.0.1" {
		t.Fatalf("expected interface recorded")
	}
}

func TestRemoteAddressFlags(t *testing.T) {
	remote, err := NewRemoteAddress(TCP, "tcp://127.0.0.1:35216", true, OriginUser)
	if err != nil {
		t.Fatalf("new remote address: %v", err)
	}
	if !remote.IsBootstrapable() || remote.Origin() != OriginUser {
		t.Fatalf("unexpected remote address flags: %+v", remote)
	}
}

func TestEqualByURI(t *testing.T) {
	a, _ := Parse(TCP, "tcp://127.0.0.1:35216")
	b, _ := Parse(TCP, "127.0.0.1:35216")
	if !a.Equal(b) {
		t.Fatalf("expected addresses with equal uri to compare equal")
	}
}
