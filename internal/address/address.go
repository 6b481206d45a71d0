// Package address implements the validated connection URIs described in
// spec.md §3 and §4.1: Address, BindingAddress and RemoteAddress, plus
// socket-component extraction for the TCP endpoint.
package address

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Protocol identifies the transport a URI addresses.
type Protocol uint8

const (
	Invalid Protocol = iota
	TCP
	LoRa
)

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case LoRa:
		return "lora"
	default:
		return "invalid"
	}
}

// Wildcard is the host token resolved against a binding interface.
const Wildcard = "*"

// Origin classifies where a RemoteAddress was learned from.
type Origin uint8

const (
	OriginInvalid Origin = iota
	OriginUser
	OriginNetwork
	OriginCache
)

// Address is the base value type: a validated (protocol, uri) tuple.
type Address struct {
	protocol  Protocol
	uri       string
	scheme    string
	authority string
	host      string
	port      string
	portNum   uint16
}

// Parse validates and builds an Address from a scheme-qualified or bare
// authority string. If scheme is omitted, protocol's canonical scheme is
// auto-prepended, per spec.md §3.
func Parse(protocol Protocol, uri string) (Address, error) {
	if protocol == Invalid {
		return Address{}, fmt.Errorf("address: invalid protocol")
	}
	if strings.ContainsAny(uri, " \t\n\r") {
		return Address{}, fmt.Errorf("address: uri must not contain whitespace")
	}

	scheme := protocol.String()
	authority := uri
	if idx := strings.Index(uri, "://"); idx >= 0 {
		scheme = uri[:idx]
		authority = uri[idx+3:]
	}
	if authority == "" {
		return Address{}, fmt.Errorf("address: missing authority")
	}

	host, port, err := splitAuthority(authority)
	if err != nil {
		return Address{}, err
	}
	portNum, err := strconv.ParseUint(port, 10, 16)
	if err != nil || portNum == 0 {
		return Address{}, fmt.Errorf("address: invalid port %q", port)
	}

	// Re-bracket IPv6 hosts so the authority round-trips.
	normalizedHost := host
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		normalizedHost = "[" + host + "]"
	}
	normalizedAuthority := normalizedHost + ":" + port

	return Address{
		protocol:  protocol,
		uri:       scheme + "://" + normalizedAuthority,
		scheme:    scheme,
		authority: normalizedAuthority,
		host:      normalizedHost,
		port:      port,
		portNum:   uint16(portNum),
	}, nil
}

func splitAuthority(authority string) (host, port string, err error) {
	if strings.HasPrefix(authority, "[") {
		end := strings.LastIndex(authority, "]")
		if end < 0 {
			return "", "", fmt.Errorf("address: unterminated ipv6 literal")
		}
		host = authority[1:end]
		rest := authority[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return "", "", fmt.Errorf("address: missing port after ipv6 literal")
		}
		return host, rest[1:], nil
	}
	h, p, err := net.SplitHostPort(authority)
	if err != nil {
		return "", "", fmt.Errorf("address: %w", err)
	}
	return h, p, nil
}

// Protocol returns the address's transport protocol.
func (a Address) Protocol() Protocol { return a.protocol }

// URI returns the full scheme-qualified URI.
func (a Address) URI() string { return a.uri }

// Scheme returns the scheme component of the URI.
func (a Address) Scheme() string { return a.scheme }

// Authority returns the host:port (or [ipv6]:port) component.
func (a Address) Authority() string { return a.authority }

// Host returns the host, with brackets retained for IPv6.
func (a Address) Host() string { return a.host }

// Port returns the textual port.
func (a Address) Port() string { return a.port }

// PortNumber returns the numeric port.
func (a Address) PortNumber() uint16 { return a.portNum }

// IsValid reports whether the address was constructed successfully.
func (a Address) IsValid() bool { return a.protocol != Invalid && a.uri != "" }

// Equal compares addresses by URI, matching the teacher-adjacent
// hash-by-uri-string convention from original_source's AddressHasher.
func (a Address) Equal(other Address) bool { return a.uri == other.uri }

// BindingAddress additionally names the local interface a listener binds.
// A Wildcard host is resolved against that interface at construction.
type BindingAddress struct {
	Address
	iface string
}

// NewBindingAddress parses uri and resolves a Wildcard host against iface.
func NewBindingAddress(protocol Protocol, uri string, iface string) (BindingAddress, error) {
	resolved := uri
	if strings.Contains(uri, Wildcard) && iface != "" {
		resolved = strings.Replace(uri, Wildcard, iface, 1)
	}
	base, err := Parse(protocol, resolved)
	if err != nil {
		return BindingAddress{}, err
	}
	return BindingAddress{Address: base, iface: iface}, nil
}

// Interface returns the local interface this binding is scoped to.
func (b BindingAddress) Interface() string { return b.iface }

// RemoteAddress additionally carries a bootstrapable flag and an origin.
type RemoteAddress struct {
	Address
	bootstrapable bool
	origin        Origin
}

// NewRemoteAddress parses uri and attaches the bootstrapable/origin refinements.
func NewRemoteAddress(protocol Protocol, uri string, bootstrapable bool, origin Origin) (RemoteAddress, error) {
	base, err := Parse(protocol, uri)
	if err != nil {
		return RemoteAddress{}, err
	}
	return RemoteAddress{Address: base, bootstrapable: bootstrapable, origin: origin}, nil
}

// IsBootstrapable reports whether this address is a candidate reconnect target.
func (r RemoteAddress) IsBootstrapable() bool { return r.bootstrapable }

// Origin reports where this remote address was learned from.
func (r RemoteAddress) Origin() Origin { return r.origin }
