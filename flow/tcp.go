package flow

import (
	"github.com/google/gopacket/layers"
)

// FlagClass is the TCP control-flag combination that drives reconstruction.
type FlagClass int

const (
	FlagUnknown FlagClass = iota
	FlagFinPushAck
	FlagPushAck
	FlagFinAck
	FlagAckRst
	FlagSynAck
	FlagSyn
	FlagAck
)

func (c FlagClass) String() string {
	switch c {
	case FlagFinPushAck:
		return "FIN+PSH+ACK"
	case FlagPushAck:
		return "PSH+ACK"
	case FlagFinAck:
		return "FIN+ACK"
	case FlagAckRst:
		return "ACK+RST"
	case FlagSynAck:
		return "SYN+ACK"
	case FlagSyn:
		return "SYN"
	case FlagAck:
		return "ACK"
	}
	return "unknown"
}

// ClassifyFlags picks the first class whose flags are all set, in priority
// order. The order matters: the combinations overlap.
func ClassifyFlags(tcp *layers.TCP) FlagClass {
	switch {
	case tcp.FIN && tcp.PSH && tcp.ACK:
		return FlagFinPushAck
	case tcp.PSH && tcp.ACK:
		return FlagPushAck
	case tcp.FIN && tcp.ACK:
		return FlagFinAck
	case tcp.ACK && tcp.RST:
		return FlagAckRst
	case tcp.SYN && tcp.ACK:
		return FlagSynAck
	case tcp.SYN:
		return FlagSyn
	case tcp.ACK:
		return FlagAck
	}
	return FlagUnknown
}

// segment is the part of a TCP header the heuristics compare against.
type segment struct {
	seq, ack uint32
	syn, fin bool
}

func segmentOf(e Entry) segment {
	tcp, ok := e.Packet.TCP()
	if !ok {
		return segment{}
	}
	return segment{seq: tcp.Seq, ack: tcp.Ack, syn: tcp.SYN, fin: tcp.FIN}
}

// TCPReconstructor assigns TCP packets to flows with a per-packet heuristic
// over the handshake, data transfer and teardown. Packets it cannot place
// are kept as flowless; it never fails.
type TCPReconstructor struct {
	store    *Store
	flowless []Entry
}

func NewTCPReconstructor(store *Store) *TCPReconstructor {
	return &TCPReconstructor{store: store}
}

// Assign must be called with entries in capture order.
func (r *TCPReconstructor) Assign(entries []Entry) {
	for _, e := range entries {
		if !r.place(e) {
			r.flowless = append(r.flowless, e)
		}
	}
}

func (r *TCPReconstructor) Flowless() []Entry {
	return append([]Entry(nil), r.flowless...)
}

func (r *TCPReconstructor) Reset() {
	r.flowless = nil
}

func (r *TCPReconstructor) place(e Entry) bool {
	tcp, ok := e.Packet.TCP()
	if !ok {
		return false
	}
	key := e.Packet.Key()
	f, found := r.store.Lookup(key)
	class := ClassifyFlags(tcp)

	if class == FlagSyn {
		if !found {
			f = NewFlow(key)
			r.store.Insert(key, f)
		}
		// a SYN for a known flow is a retransmission
		f.Append(e)
		return true
	}
	if !found {
		return false
	}

	last, ok := f.Last()
	if !ok {
		return false
	}
	ls := segmentOf(last)
	lastLen := uint32(f.LastPayloadLen())
	seq, ack := tcp.Seq, tcp.Ack

	switch class {
	case FlagFinPushAck:
		if !f.connected || seq != ls.ack {
			return false
		}
		f.Append(e)
		f.advanceTeardown()

	case FlagPushAck:
		if !f.connected || !continues(seq, ack, ls, lastLen) {
			return false
		}
		f.Append(e)

	case FlagFinAck:
		if !f.connected || !continues(seq, ack, ls, lastLen) {
			return false
		}
		f.Append(e)
		f.advanceTeardown()

	case FlagAckRst:
		if !(f.connected && ack == ls.ack) && ack != ls.seq+1 {
			return false
		}
		f.Append(e)
		f.connected = false

	case FlagSynAck:
		if !ls.syn || ack != ls.seq+1 {
			return false
		}
		f.Append(e)

	case FlagAck:
		return placeAck(f, e, seq, ack, ls, lastLen)

	default:
		return false
	}
	return true
}

func placeAck(f *Flow, e Entry, seq, ack uint32, ls segment, lastLen uint32) bool {
	if !f.connected {
		prev, _, ok := f.LastTwo()
		if !ok {
			return false
		}
		ps := segmentOf(prev)
		if seq != ps.seq+1 || ack != ls.seq+1 {
			return false
		}
		// third leg of the handshake
		f.Append(e)
		f.connected = true
		f.activeClose = false
		f.passiveClose = false
		return true
	}

	if f.activeClose && f.passiveClose && ls.fin && ack == ls.seq+1 {
		// acknowledges the second FIN
		f.Append(e)
		f.connected = false
		return true
	}

	if ack == ls.seq+lastLen ||
		(ack == ls.ack && seq == ls.seq+lastLen) ||
		seq == ls.ack ||
		seq == ls.seq {
		f.Append(e)
		if f.passiveClose {
			// Traffic resumed on a half-closed flow: back to the
			// pre-handshake state so the tuple can be reused.
			f.connected = false
			f.activeClose = false
			f.passiveClose = false
		}
		return true
	}
	return false
}

// continues reports whether a data or FIN segment follows the last packet
// of the flow in either direction.
func continues(seq, ack uint32, last segment, lastLen uint32) bool {
	return (seq == last.seq+lastLen && ack == last.ack) ||
		ack == last.seq+lastLen ||
		seq == last.seq ||
		seq == last.ack
}

func (f *Flow) advanceTeardown() {
	if !f.activeClose {
		f.activeClose = true
		return
	}
	f.passiveClose = true
}
