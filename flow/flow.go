// Package flow reconstructs conversations from capture-ordered packets.
package flow

import (
	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// Entry is a packet tagged with its capture-order sequence number.
type Entry struct {
	Seq    uint64
	Packet *packet.Packet
}

// Flow is the ordered packet history of one conversation plus the TCP
// connection state the reconstructor tracks for it. The key is the direction
// of the first packet seen.
type Flow struct {
	key     types.FlowKey
	entries []Entry

	// tail cache: last and second-to-last appended entries
	last Entry
	prev Entry

	connected    bool
	activeClose  bool
	passiveClose bool
}

func NewFlow(key types.FlowKey) *Flow {
	return &Flow{key: key}
}

func (f *Flow) Key() types.FlowKey { return f.key }

func (f *Flow) Protocol() types.Protocol { return f.key.Protocol }

func (f *Flow) Len() int { return len(f.entries) }

func (f *Flow) Connected() bool    { return f.connected }
func (f *Flow) ActiveClose() bool  { return f.activeClose }
func (f *Flow) PassiveClose() bool { return f.passiveClose }

// Entries returns a copy of the packet history in append order.
func (f *Flow) Entries() []Entry {
	return append([]Entry(nil), f.entries...)
}

func (f *Flow) Append(e Entry) {
	f.entries = append(f.entries, e)
	f.prev = f.last
	f.last = e
}

func (f *Flow) Last() (Entry, bool) {
	if len(f.entries) == 0 {
		return Entry{}, false
	}
	return f.last, true
}

// LastTwo returns the second-to-last and last entries.
func (f *Flow) LastTwo() (prev, last Entry, ok bool) {
	if len(f.entries) < 2 {
		return Entry{}, Entry{}, false
	}
	return f.prev, f.last, true
}

func (f *Flow) LastPayloadLen() int {
	if len(f.entries) == 0 {
		return 0
	}
	return f.last.Packet.PayloadLen()
}

// FirstSeq is the sequence number of the first packet, used to order flows.
func (f *Flow) FirstSeq() uint64 {
	if len(f.entries) == 0 {
		return 0
	}
	return f.entries[0].Seq
}

// ReplayEntry is one packet of a flow ready to be transmitted.
type ReplayEntry struct {
	Seq    uint64
	Packet *packet.Packet
	Data   []byte
	Side   types.Side
	// Err is set when the fix-up failed; Data then holds the captured bytes.
	Err error
}

// ReplayList rewrites every packet for replay. Packets travelling in the
// flow key's direction leave from the client side, the others from the
// server side.
func (f *Flow) ReplayList(ni packet.NetworkInfo, fixup bool) []ReplayEntry {
	out := make([]ReplayEntry, 0, len(f.entries))
	for _, e := range f.entries {
		side := types.ClientSide
		if k := e.Packet.Key(); k != f.key && k == f.key.Reverse() {
			side = types.ServerSide
		}

		re := ReplayEntry{Seq: e.Seq, Packet: e.Packet, Side: side}
		data, err := e.Packet.Rewrite(ni, side, fixup)
		if err != nil {
			re.Err = err
			data = append([]byte(nil), e.Packet.Data()...)
		}
		re.Data = data
		out = append(out, re)
	}
	return out
}
