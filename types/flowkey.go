package types

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is one side of a flow. Addr holds an IP address for IP traffic
// and a MAC address for non-IP frames. Port is zero for portless protocols.
type Endpoint struct {
	Addr string
	Port uint16
}

func (e Endpoint) String() string {
	if e.Port == 0 {
		return e.Addr
	}
	return net.JoinHostPort(e.Addr, strconv.Itoa(int(e.Port)))
}

// ParseEndpoint reads "addr", "addr:port" or "[v6addr]:port".
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}
	if ip := net.ParseIP(s); ip != nil {
		return Endpoint{Addr: ip.String()}, nil
	}
	if mac, err := net.ParseMAC(s); err == nil {
		return Endpoint{Addr: mac.String()}, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: invalid port: %w", s, err)
	}
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}
	return Endpoint{Addr: host, Port: uint16(port)}, nil
}

// FlowKey identifies a flow as seen from endpoint A towards endpoint B.
// A key and its Reverse are different values; lookups check both.
type FlowKey struct {
	Protocol Protocol
	A        Endpoint
	B        Endpoint
}

func (k FlowKey) Reverse() FlowKey {
	return FlowKey{Protocol: k.Protocol, A: k.B, B: k.A}
}

// Matches reports whether other is k in either direction.
func (k FlowKey) Matches(other FlowKey) bool {
	return k == other || k == other.Reverse()
}

func (k FlowKey) String() string {
	return fmt.Sprintf("%s %s -> %s", k.Protocol, k.A, k.B)
}
