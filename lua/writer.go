package lua

import (
	"bufio"
	"fmt"
	"io"

	"github.com/samaelod/reflow/types"
)

// NewSession describes a replay of keys from capture with default globals.
func NewSession(capture string, keys []types.FlowKey) *types.Session {
	s := &types.Session{
		Capture: capture,
		Globals: types.Globals{Verify: types.VerifyNone.String(), VerifyTimeout: 1000},
	}
	for _, k := range keys {
		s.Flows = append(s.Flows, types.SelectorFor(k))
	}
	return s
}

func WriteSession(w io.Writer, s *types.Session) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "local session = {}")
	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "session.capture = %q\n", s.Capture)
	fmt.Fprintln(bw)

	g := s.Globals
	fmt.Fprintln(bw, "-- GLOBALS ----------------------------------------")
	fmt.Fprintln(bw, "session.globals = {")
	fmt.Fprintf(bw, "\tdelay = %d,\n", g.Delay)
	fmt.Fprintf(bw, "\tverify = %q,\n", g.Verify)
	fmt.Fprintf(bw, "\tverify_timeout = %d,\n", g.VerifyTimeout)
	fmt.Fprintf(bw, "\traw = %t,\n", g.Raw)
	fmt.Fprintf(bw, "\tgateway = %d,\n", g.Gateway)
	fmt.Fprintf(bw, "\tlist_packets = %t,\n", g.ListPackets)
	fmt.Fprintln(bw, "}")
	fmt.Fprintln(bw)

	n := s.Network
	fmt.Fprintln(bw, "-- NETWORK ----------------------------------------")
	fmt.Fprintln(bw, "session.network = {")
	for _, f := range []struct{ key, val string }{
		{"client_iface", n.ClientIface},
		{"server_iface", n.ServerIface},
		{"client_ip4", n.ClientIP4},
		{"client_ip6", n.ClientIP6},
		{"server_ip4", n.ServerIP4},
		{"server_ip6", n.ServerIP6},
		{"client_mac", n.ClientMAC},
		{"server_mac", n.ServerMAC},
	} {
		if f.val != "" {
			fmt.Fprintf(bw, "\t%s = %q,\n", f.key, f.val)
		}
	}
	if n.VLANID != 0 {
		fmt.Fprintf(bw, "\tvlan_id = %d,\n", n.VLANID)
	}
	writeNAT(bw, "client_nat", n.ClientNAT)
	writeNAT(bw, "server_nat", n.ServerNAT)
	fmt.Fprintln(bw, "}")
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "-- FLOWS ------------------------------------------")
	fmt.Fprintln(bw, "session.flows = {")
	for _, f := range s.Flows {
		fmt.Fprintf(bw, "\t{ protocol = %q, a = %q, b = %q },\n", f.Protocol, f.A, f.B)
	}
	fmt.Fprintln(bw, "}")
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "-- TRIGGERS ---------------------------------------")
	fmt.Fprintln(bw, "-- { name = \"stop-on-rst\", when = \"after\", match = function(pkt) return pkt.rst end, action = \"stop\" },")
	fmt.Fprintln(bw, "session.triggers = {}")
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "return session")

	return bw.Flush()
}

func writeNAT(w io.Writer, key string, r types.NATRule) {
	if r.Empty() {
		return
	}
	fmt.Fprintf(w, "\t%s = { from = %q, to = %q },\n", key, r.From, r.To)
}
