package flow_test

import (
	"testing"

	"github.com/samaelod/reflow/flow"
	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/packet/packettest"
	"github.com/samaelod/reflow/types"
)

const (
	client = "1.2.3.4"
	server = "5.6.7.8"
)

var clientKey = types.FlowKey{
	Protocol: types.TCP,
	A:        types.Endpoint{Addr: client, Port: 10},
	B:        types.Endpoint{Addr: server, Port: 20},
}

func c2s(seq, ack uint32, f packettest.Flags, payload string) *packet.Packet {
	return packettest.TCP{Src: client, SrcPort: 10, Dst: server, DstPort: 20, Seq: seq, Ack: ack, Flags: f, Payload: []byte(payload)}.Packet()
}

func s2c(seq, ack uint32, f packettest.Flags, payload string) *packet.Packet {
	return packettest.TCP{Src: server, SrcPort: 20, Dst: client, DstPort: 10, Seq: seq, Ack: ack, Flags: f, Payload: []byte(payload)}.Packet()
}

func handshake() []*packet.Packet {
	return []*packet.Packet{
		c2s(100, 0, packettest.SYN, ""),
		s2c(200, 101, packettest.SYNACK, ""),
		c2s(101, 201, packettest.ACK, ""),
	}
}

func teardown() []*packet.Packet {
	return []*packet.Packet{
		c2s(101, 201, packettest.FINACK, ""),
		s2c(201, 102, packettest.FINACK, ""),
		c2s(102, 202, packettest.ACK, ""),
	}
}

func load(t *testing.T, pkts ...[]*packet.Packet) *flow.Reconstructor {
	t.Helper()
	var all []*packet.Packet
	for _, p := range pkts {
		all = append(all, p...)
	}
	r := flow.NewReconstructor()
	r.Load(all)
	return r
}

func onlyFlow(t *testing.T, r *flow.Reconstructor) *flow.Flow {
	t.Helper()
	flows := r.Store().Flows(types.TCP)
	if len(flows) != 1 {
		t.Fatalf("got %d tcp flows, want 1", len(flows))
	}
	for _, f := range flows {
		return f
	}
	return nil
}

func TestHandshakeConnects(t *testing.T) {
	r := load(t, handshake())

	f := onlyFlow(t, r)
	if !f.Connected() {
		t.Error("flow not connected after three-way handshake")
	}
	if f.Len() != 3 {
		t.Errorf("flow has %d packets, want 3", f.Len())
	}
	if f.Key() != clientKey {
		t.Errorf("flow key = %v, want %v", f.Key(), clientKey)
	}
	if n := len(r.Flowless()); n != 0 {
		t.Errorf("got %d flowless packets, want 0", n)
	}
}

func TestTeardownSetsBothCloseFlags(t *testing.T) {
	r := load(t, handshake(), teardown())

	f := onlyFlow(t, r)
	if !f.ActiveClose() || !f.PassiveClose() {
		t.Errorf("close flags = active %v passive %v, want both set", f.ActiveClose(), f.PassiveClose())
	}
	if f.Connected() {
		t.Error("flow still connected after teardown")
	}
	if f.Len() != 6 {
		t.Errorf("flow has %d packets, want 6", f.Len())
	}
	if n := len(r.Flowless()); n != 0 {
		t.Errorf("got %d flowless packets, want 0", n)
	}
}

func TestDataTransfer(t *testing.T) {
	data := []*packet.Packet{
		c2s(101, 201, packettest.PSHACK, "hello"),
		s2c(201, 106, packettest.ACK, ""),
		s2c(201, 106, packettest.PSHACK, "world!"),
		c2s(106, 207, packettest.ACK, ""),
	}
	r := load(t, handshake(), data)

	f := onlyFlow(t, r)
	if f.Len() != 7 {
		t.Errorf("flow has %d packets, want 7", f.Len())
	}
	if n := len(r.Flowless()); n != 0 {
		t.Errorf("got %d flowless packets, want 0", n)
	}
	if got := f.LastPayloadLen(); got != 0 {
		t.Errorf("LastPayloadLen() = %d, want 0", got)
	}
}

func TestStrayPushAckIsFlowless(t *testing.T) {
	t.Run("unknown flow", func(t *testing.T) {
		r := load(t, []*packet.Packet{c2s(5000, 6000, packettest.PSHACK, "x")})
		if r.Store().Len() != 0 {
			t.Errorf("stray PSH+ACK created %d flows", r.Store().Len())
		}
		if n := len(r.Flowless()); n != 1 {
			t.Errorf("got %d flowless packets, want 1", n)
		}
	})

	t.Run("discontinuous sequence", func(t *testing.T) {
		r := load(t, handshake(), []*packet.Packet{c2s(9999, 8888, packettest.PSHACK, "x")})
		f := onlyFlow(t, r)
		if f.Len() != 3 {
			t.Errorf("flow has %d packets, want 3", f.Len())
		}
		if !f.Connected() || f.ActiveClose() || f.PassiveClose() {
			t.Error("stray PSH+ACK changed flow state")
		}
		fl := r.Flowless()
		if len(fl) != 1 || fl[0].Seq != 3 {
			t.Errorf("flowless = %+v, want the packet with seq 3", fl)
		}
	})
}

func TestReopenAfterStaleHalfClose(t *testing.T) {
	pkts := []*packet.Packet{
		c2s(101, 201, packettest.FINACK, ""),
		s2c(201, 102, packettest.FINACK, ""),
		// does not acknowledge the FIN but continues the stream
		s2c(201, 102, packettest.ACK, ""),
	}
	r := load(t, handshake(), pkts)

	f := onlyFlow(t, r)
	if f.Len() != 6 {
		t.Fatalf("flow has %d packets, want 6", f.Len())
	}
	if f.Connected() || f.ActiveClose() || f.PassiveClose() {
		t.Errorf("state = connected %v active %v passive %v, want all cleared",
			f.Connected(), f.ActiveClose(), f.PassiveClose())
	}

	// the tuple can go through a fresh handshake afterwards
	r.Load([]*packet.Packet{
		c2s(300, 0, packettest.SYN, ""),
		s2c(400, 301, packettest.SYNACK, ""),
		c2s(301, 401, packettest.ACK, ""),
	})
	if !f.Connected() || f.Len() != 9 {
		t.Errorf("after new handshake: connected %v, %d packets", f.Connected(), f.Len())
	}
}

func TestResetClosesConnection(t *testing.T) {
	r := load(t, handshake(), []*packet.Packet{c2s(101, 201, packettest.RSTACK, "")})
	f := onlyFlow(t, r)
	if f.Connected() {
		t.Error("flow connected after RST+ACK")
	}
	if f.Len() != 4 {
		t.Errorf("flow has %d packets, want 4", f.Len())
	}
}

func TestResetAnswersSyn(t *testing.T) {
	r := load(t, []*packet.Packet{
		c2s(100, 0, packettest.SYN, ""),
		s2c(0, 101, packettest.RSTACK, ""),
	})
	f := onlyFlow(t, r)
	if f.Len() != 2 || f.Connected() {
		t.Errorf("flow len %d connected %v, want 2 false", f.Len(), f.Connected())
	}
}

func TestSynRetransmission(t *testing.T) {
	r := load(t, []*packet.Packet{
		c2s(100, 0, packettest.SYN, ""),
		c2s(100, 0, packettest.SYN, ""),
		s2c(200, 101, packettest.SYNACK, ""),
	})
	f := onlyFlow(t, r)
	if f.Len() != 3 {
		t.Errorf("flow has %d packets, want 3", f.Len())
	}
}

func TestUnmatchedControlPackets(t *testing.T) {
	tests := []struct {
		name string
		pkts []*packet.Packet
		want int
	}{
		{"syn-ack without syn", []*packet.Packet{s2c(200, 101, packettest.SYNACK, "")}, 1},
		{"syn-ack with wrong ack", []*packet.Packet{c2s(100, 0, packettest.SYN, ""), s2c(200, 555, packettest.SYNACK, "")}, 1},
		{"bare rst", []*packet.Packet{c2s(100, 0, packettest.SYN, ""), s2c(0, 0, packettest.RST, "")}, 1},
		{"fin before connect", []*packet.Packet{c2s(100, 0, packettest.SYN, ""), c2s(101, 0, packettest.FINACK, "")}, 1},
		{"ack before syn-ack", []*packet.Packet{c2s(100, 0, packettest.SYN, ""), c2s(101, 201, packettest.ACK, "")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := load(t, tt.pkts)
			if n := len(r.Flowless()); n != tt.want {
				t.Errorf("got %d flowless packets, want %d", n, tt.want)
			}
		})
	}
}

func TestFinPushAckClose(t *testing.T) {
	r := load(t, handshake(), []*packet.Packet{s2c(201, 101, packettest.FINPSH, "bye")})
	f := onlyFlow(t, r)
	if !f.ActiveClose() || f.PassiveClose() {
		t.Errorf("close flags = active %v passive %v, want active only", f.ActiveClose(), f.PassiveClose())
	}
}

func TestClassifierSequenceNumbers(t *testing.T) {
	pkts := []*packet.Packet{
		c2s(1, 0, packettest.SYN, ""),
		packettest.UDP("10.0.0.1", 1000, "10.0.0.2", 53, []byte("q")),
		packettest.ICMPEcho("10.0.0.1", "10.0.0.2", 1, 1),
		packettest.ARP(packettest.ClientMAC, packettest.ServerMAC),
		c2s(1, 0, packettest.SYN, ""),
	}

	var c flow.Classifier
	b := c.Classify(pkts)

	wantLens := map[types.Protocol]int{types.TCP: 2, types.UDP: 1, types.ICMP: 1, types.Other: 1}
	seen := map[uint64]bool{}
	for _, p := range types.Protocols {
		if len(b[p]) != wantLens[p] {
			t.Errorf("bucket %v has %d packets, want %d", p, len(b[p]), wantLens[p])
		}
		var prev int64 = -1
		for _, e := range b[p] {
			if int64(e.Seq) <= prev {
				t.Errorf("bucket %v: seq %d not increasing", p, e.Seq)
			}
			if seen[e.Seq] {
				t.Errorf("seq %d assigned twice", e.Seq)
			}
			seen[e.Seq] = true
			prev = int64(e.Seq)
		}
	}
	if b[types.TCP][1].Seq != 4 {
		t.Errorf("second tcp packet seq = %d, want 4", b[types.TCP][1].Seq)
	}

	b = c.Classify(pkts[:1])
	if b[types.TCP][0].Seq != 5 {
		t.Errorf("counter did not continue: got %d, want 5", b[types.TCP][0].Seq)
	}
	c.Reset()
	if c.Next() != 0 {
		t.Errorf("Next() after Reset = %d", c.Next())
	}
}

func TestClassifyFlagsPriority(t *testing.T) {
	tests := []struct {
		flags packettest.Flags
		want  flow.FlagClass
	}{
		{packettest.FINPSH, flow.FlagFinPushAck},
		{packettest.PSHACK, flow.FlagPushAck},
		{packettest.FINACK, flow.FlagFinAck},
		{packettest.RSTACK, flow.FlagAckRst},
		{packettest.SYNACK, flow.FlagSynAck},
		{packettest.SYN, flow.FlagSyn},
		{packettest.ACK, flow.FlagAck},
		{packettest.RST, flow.FlagUnknown},
		{packettest.Flags{FIN: true}, flow.FlagUnknown},
		{packettest.Flags{SYN: true, ACK: true, RST: true}, flow.FlagAckRst},
	}
	for _, tt := range tests {
		tcp, _ := c2s(1, 1, tt.flags, "").TCP()
		if got := flow.ClassifyFlags(tcp); got != tt.want {
			t.Errorf("ClassifyFlags(%+v) = %v, want %v", tt.flags, got, tt.want)
		}
	}
}

func TestGenericFlows(t *testing.T) {
	pkts := []*packet.Packet{
		packettest.UDP("10.0.0.1", 1000, "10.0.0.2", 53, []byte("query")),
		packettest.UDP("10.0.0.2", 53, "10.0.0.1", 1000, []byte("answer")),
		packettest.UDP("10.0.0.1", 1001, "10.0.0.2", 53, []byte("query")),
		packettest.ICMPEcho("10.0.0.1", "10.0.0.2", 1, 1),
		packettest.ICMPEcho("10.0.0.2", "10.0.0.1", 1, 1),
		packettest.ARP(packettest.ClientMAC, packettest.ServerMAC),
	}
	r := flow.NewReconstructor()
	st := r.Load(pkts)

	if st.Flows != 4 {
		t.Errorf("Stats.Flows = %d, want 4", st.Flows)
	}
	udp := r.Store().Flows(types.UDP)
	if len(udp) != 2 {
		t.Fatalf("got %d udp flows, want 2", len(udp))
	}
	first := types.FlowKey{Protocol: types.UDP, A: types.Endpoint{Addr: "10.0.0.1", Port: 1000}, B: types.Endpoint{Addr: "10.0.0.2", Port: 53}}
	f, ok := udp[first]
	if !ok {
		t.Fatalf("udp flow not stored under first-seen key %v", first)
	}
	if f.Len() != 2 {
		t.Errorf("udp flow has %d packets, want 2", f.Len())
	}
	if icmp := r.Store().Flows(types.ICMP); len(icmp) != 1 {
		t.Errorf("got %d icmp flows, want 1", len(icmp))
	}
	if other := r.Store().Flows(types.Other); len(other) != 1 {
		t.Errorf("got %d other flows, want 1", len(other))
	}
}

func TestStoreLookupBothDirections(t *testing.T) {
	s := flow.NewStore()
	f := flow.NewFlow(clientKey)
	if !s.Insert(clientKey, f) {
		t.Fatal("Insert() = false")
	}
	if s.Insert(clientKey.Reverse(), flow.NewFlow(clientKey.Reverse())) {
		t.Error("Insert() accepted the reverse of an existing key")
	}
	for _, k := range []types.FlowKey{clientKey, clientKey.Reverse()} {
		got, ok := s.Lookup(k)
		if !ok || got != f {
			t.Errorf("Lookup(%v) = %v, %v", k, got, ok)
		}
	}
	other := clientKey
	other.Protocol = types.UDP
	if _, ok := s.Lookup(other); ok {
		t.Error("Lookup found a tcp flow under udp")
	}
	if all := s.All(); len(all[types.TCP]) != 1 || len(all) != types.NumProtocols {
		t.Errorf("All() = %v", all)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Errorf("Len() after Clear = %d", s.Len())
	}
}

func TestReconstructorClear(t *testing.T) {
	pkts := append(handshake(), c2s(9999, 1, packettest.PSHACK, "x"))

	r := flow.NewReconstructor()
	r.Load(pkts)
	if r.Store().Len() == 0 || len(r.Flowless()) == 0 || r.NextSeq() == 0 {
		t.Fatal("Load left no state to clear")
	}

	r.Clear()
	fresh := flow.NewReconstructor()
	if r.Store().Len() != fresh.Store().Len() || len(r.Flowless()) != 0 || r.NextSeq() != fresh.NextSeq() {
		t.Errorf("cleared state differs from a fresh reconstructor: flows %d flowless %d next %d",
			r.Store().Len(), len(r.Flowless()), r.NextSeq())
	}

	r.Load(pkts)
	fresh.Load(pkts)
	a, b := r.Flowless(), fresh.Flowless()
	if len(a) != len(b) || a[0].Seq != b[0].Seq {
		t.Errorf("reload after Clear numbered packets differently: %v vs %v", a, b)
	}
}

func TestReplayListSides(t *testing.T) {
	r := load(t, handshake())
	list := onlyFlow(t, r).ReplayList(packet.NetworkInfo{}, false)

	want := []types.Side{types.ClientSide, types.ServerSide, types.ClientSide}
	if len(list) != len(want) {
		t.Fatalf("ReplayList() has %d entries, want %d", len(list), len(want))
	}
	for i, e := range list {
		if e.Side != want[i] {
			t.Errorf("entry %d side = %v, want %v", i, e.Side, want[i])
		}
		if e.Seq != uint64(i) {
			t.Errorf("entry %d seq = %d", i, e.Seq)
		}
		if e.Err != nil {
			t.Errorf("entry %d error = %v", i, e.Err)
		}
	}
}

func TestLastTwo(t *testing.T) {
	f := flow.NewFlow(clientKey)
	if _, ok := f.Last(); ok {
		t.Error("Last() ok on empty flow")
	}
	pkts := handshake()
	for i, p := range pkts {
		f.Append(flow.Entry{Seq: uint64(i), Packet: p})
	}
	prev, last, ok := f.LastTwo()
	if !ok || prev.Seq != 1 || last.Seq != 2 {
		t.Errorf("LastTwo() = %d, %d, %v", prev.Seq, last.Seq, ok)
	}
	if f.FirstSeq() != 0 {
		t.Errorf("FirstSeq() = %d", f.FirstSeq())
	}
}
