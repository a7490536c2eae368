package types

import "fmt"

// Session is a replay session as described by a Lua session file.
type Session struct {
	Capture string
	Globals Globals
	Network Network
	Flows   []FlowSelector
}

type Globals struct {
	Delay         int    // ms between sends
	Verify        string // see ParseVerifyMode
	VerifyTimeout int    // ms to wait for the forwarded copy
	Raw           bool   // send captured bytes without address fix-up
	Gateway       int    // routers between the interfaces, subtracted from TTL
	ListPackets   bool
}

// Network describes the replay interfaces and the addresses written into
// replayed packets. Empty fields leave the captured value untouched.
type Network struct {
	ClientIface string
	ServerIface string
	ClientIP4   string
	ClientIP6   string
	ServerIP4   string
	ServerIP6   string
	ClientMAC   string
	ServerMAC   string
	VLANID      int
	ClientNAT   NATRule
	ServerNAT   NATRule
}

// NATRule maps an address as seen by one side to the address seen by the other.
type NATRule struct {
	From string
	To   string
}

func (r NATRule) Empty() bool { return r.From == "" && r.To == "" }

// FlowSelector names one flow of the capture to replay.
type FlowSelector struct {
	Protocol string
	A        string
	B        string
}

func (s FlowSelector) Key() (FlowKey, error) {
	proto, err := ParseProtocol(s.Protocol)
	if err != nil {
		return FlowKey{}, err
	}
	a, err := ParseEndpoint(s.A)
	if err != nil {
		return FlowKey{}, fmt.Errorf("endpoint a: %w", err)
	}
	b, err := ParseEndpoint(s.B)
	if err != nil {
		return FlowKey{}, fmt.Errorf("endpoint b: %w", err)
	}
	return FlowKey{Protocol: proto, A: a, B: b}, nil
}

// Keys resolves every flow selector of the session.
func (s *Session) Keys() ([]FlowKey, error) {
	keys := make([]FlowKey, 0, len(s.Flows))
	for i, sel := range s.Flows {
		k, err := sel.Key()
		if err != nil {
			return nil, fmt.Errorf("flow %d: %w", i, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func SelectorFor(k FlowKey) FlowSelector {
	return FlowSelector{Protocol: k.Protocol.String(), A: k.A.String(), B: k.B.String()}
}

type ReplayStatus int

const (
	StatusIdle ReplayStatus = iota
	StatusRunning
	StatusCompleted
	StatusError
)
