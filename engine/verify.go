package engine

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/samaelod/reflow/netif"
	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// expectation is what the forwarded copy of a sent packet should look
// like on the receiving interface.
type expectation struct {
	src, dst net.IP
	vlan     int
	ttl      int // -1 when unknown
}

func (x expectation) filter() string {
	return fmt.Sprintf("host %s and host %s", x.src, x.dst)
}

// replyFilter matches the traffic between the endpoints of sent. IP
// packets use the same addresses as the verify filter.
func replyFilter(sent *packet.Packet, side types.Side, opts Options) string {
	if x, ok := expect(sent, side, opts); ok {
		return x.filter()
	}
	if src, dst, ok := sent.MACs(); ok {
		return fmt.Sprintf("ether host %s and ether host %s", src, dst)
	}
	return ""
}

// expect derives the expectation for sent. Non-IP packets cannot be
// verified and return false.
func expect(sent *packet.Packet, side types.Side, opts Options) (expectation, bool) {
	src, dst, ok := sent.IPs()
	if !ok {
		return expectation{}, false
	}
	x := expectation{src: src, dst: dst, vlan: opts.Network.VLANID, ttl: -1}

	cnat, snat := opts.Network.ClientNAT, opts.Network.ServerNAT
	if side == types.ClientSide {
		if snat.To != nil {
			x.dst = snat.To
		}
		if cnat.To != nil {
			x.src = cnat.To
		}
	} else {
		if snat.From != nil {
			x.src = snat.From
		}
		if cnat.From != nil {
			x.dst = cnat.From
		}
	}

	if ttl, ok := sent.TTL(); ok {
		x.ttl = int(ttl) - opts.Gateway
		if x.ttl < 0 {
			x.ttl = 0
		}
	}
	return x, true
}

// mismatch describes how got differs from x, or returns "".
func (x expectation) mismatch(got *packet.Packet) string {
	src, dst, ok := got.IPs()
	if !ok {
		return "not an IP packet"
	}
	if !src.Equal(x.src) || !dst.Equal(x.dst) {
		return fmt.Sprintf("addresses %s -> %s, want %s -> %s", src, dst, x.src, x.dst)
	}
	if x.vlan > 0 {
		q, ok := got.VLAN()
		if !ok || int(q.VLANIdentifier) != x.vlan {
			return fmt.Sprintf("vlan missing or not %d", x.vlan)
		}
	}
	if x.ttl >= 0 {
		if ttl, ok := got.TTL(); ok && int(ttl) != x.ttl {
			return fmt.Sprintf("ttl %d, want %d", ttl, x.ttl)
		}
	}
	return ""
}

func (e *Engine) verify(ctx context.Context, seq uint64, in netif.Interface, x expectation, opts Options, c *types.ReplayCounters) {
	got, err := in.ReadPacket(ctx, opts.VerifyTimeout)
	switch {
	case errors.Is(err, netif.ErrTimeout):
		c.Dropped++
		if opts.Verify.Verbose() {
			e.Log.Printf("#%d dropped: nothing on %s within %s", seq, in.Name(), opts.VerifyTimeout)
		}
		return
	case err != nil:
		// cancellation or a broken interface; the packet is unaccounted
		c.Dropped++
		if ctx.Err() == nil {
			e.Log.Printf("#%d verify read: %v", seq, err)
		}
		return
	}

	if why := x.mismatch(got); why != "" {
		c.Failed++
		if opts.Verify.Verbose() {
			e.Log.Printf("#%d failed: %s", seq, why)
		}
		return
	}
	c.Passed++
	if opts.Verify.Verbose() {
		e.Log.Printf("#%d passed", seq)
	}
}
