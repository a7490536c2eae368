package types

import (
	"fmt"
	"strings"
)

// Protocol is the bucket a packet is reconstructed under.
type Protocol int

const (
	TCP Protocol = iota
	UDP
	ICMP
	Other

	NumProtocols = 4
)

// Protocols lists every protocol in bucket order.
var Protocols = [NumProtocols]Protocol{TCP, UDP, ICMP, Other}

func (p Protocol) String() string {
	switch p {
	case TCP:
		return "tcp"
	case UDP:
		return "udp"
	case ICMP:
		return "icmp"
	case Other:
		return "other"
	}
	return fmt.Sprintf("protocol(%d)", int(p))
}

func (p Protocol) Valid() bool {
	return p >= TCP && p <= Other
}

// ParseProtocol accepts the names produced by String, case-insensitively.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return TCP, nil
	case "udp":
		return UDP, nil
	case "icmp", "icmpv4", "icmpv6":
		return ICMP, nil
	case "other", "generic":
		return Other, nil
	}
	return Other, fmt.Errorf("unknown protocol %q", s)
}
