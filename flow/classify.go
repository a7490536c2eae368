package flow

import (
	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// Buckets holds the classified packets of each protocol in capture order.
type Buckets [types.NumProtocols][]Entry

// Classifier splits packets by protocol and numbers them in the order they
// are presented. The counter continues across calls until Reset.
type Classifier struct {
	next uint64
}

func (c *Classifier) Classify(pkts []*packet.Packet) Buckets {
	var b Buckets
	for _, p := range pkts {
		proto := p.Protocol()
		b[proto] = append(b[proto], Entry{Seq: c.next, Packet: p})
		c.next++
	}
	return b
}

// Next is the sequence number the next packet will receive.
func (c *Classifier) Next() uint64 { return c.next }

func (c *Classifier) Reset() { c.next = 0 }
