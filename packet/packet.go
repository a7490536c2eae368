// Package packet wraps decoded gopacket packets with the accessors the flow
// reconstructor and the replay engine need.
package packet

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/samaelod/reflow/types"
)

type Packet struct {
	gp gopacket.Packet
}

// New decodes raw link-layer bytes.
func New(data []byte, linkType layers.LinkType, ci gopacket.CaptureInfo) *Packet {
	gp := gopacket.NewPacket(data, linkType, gopacket.Default)
	gp.Metadata().CaptureInfo = ci
	return &Packet{gp: gp}
}

func Wrap(gp gopacket.Packet) *Packet {
	return &Packet{gp: gp}
}

// Reparse decodes data with the same link layer as p, keeping p's capture
// metadata. Used to inspect rewritten bytes.
func (p *Packet) Reparse(data []byte) *Packet {
	first := gopacket.LayerType(layers.LayerTypeEthernet)
	if ls := p.gp.Layers(); len(ls) > 0 {
		first = ls[0].LayerType()
	}
	gp := gopacket.NewPacket(data, first, gopacket.Default)
	ci := p.CaptureInfo()
	ci.CaptureLength, ci.Length = len(data), len(data)
	gp.Metadata().CaptureInfo = ci
	return &Packet{gp: gp}
}

func (p *Packet) Gopacket() gopacket.Packet { return p.gp }

func (p *Packet) Data() []byte { return p.gp.Data() }

func (p *Packet) CaptureInfo() gopacket.CaptureInfo { return p.gp.Metadata().CaptureInfo }

func (p *Packet) Timestamp() time.Time { return p.gp.Metadata().Timestamp }

// IPs returns the network-layer addresses of IPv4 and IPv6 packets.
func (p *Packet) IPs() (src, dst net.IP, ok bool) {
	switch ip := p.gp.NetworkLayer().(type) {
	case *layers.IPv4:
		return ip.SrcIP, ip.DstIP, true
	case *layers.IPv6:
		return ip.SrcIP, ip.DstIP, true
	}
	return nil, nil, false
}

func (p *Packet) IsIP() bool {
	_, _, ok := p.IPs()
	return ok
}

// Protocol is the reconstruction bucket of the packet. Anything that is not
// TCP, UDP or ICMP over IPv4/IPv6 is Other.
func (p *Packet) Protocol() types.Protocol {
	if !p.IsIP() {
		return types.Other
	}
	switch {
	case p.gp.Layer(layers.LayerTypeTCP) != nil:
		return types.TCP
	case p.gp.Layer(layers.LayerTypeUDP) != nil:
		return types.UDP
	case p.gp.Layer(layers.LayerTypeICMPv4) != nil, p.gp.Layer(layers.LayerTypeICMPv6) != nil:
		return types.ICMP
	}
	return types.Other
}

// Key derives the flow key in the direction the packet travels. IP packets
// key on addresses (and ports for TCP/UDP), other frames on link addresses.
func (p *Packet) Key() types.FlowKey {
	k := types.FlowKey{Protocol: p.Protocol()}

	if src, dst, ok := p.IPs(); ok {
		k.A.Addr = src.String()
		k.B.Addr = dst.String()
	} else if link := p.gp.LinkLayer(); link != nil {
		src, dst := link.LinkFlow().Endpoints()
		k.A.Addr = src.String()
		k.B.Addr = dst.String()
	}

	switch k.Protocol {
	case types.TCP:
		tcp, _ := p.TCP()
		k.A.Port = uint16(tcp.SrcPort)
		k.B.Port = uint16(tcp.DstPort)
	case types.UDP:
		udp := p.gp.Layer(layers.LayerTypeUDP).(*layers.UDP)
		k.A.Port = uint16(udp.SrcPort)
		k.B.Port = uint16(udp.DstPort)
	}
	return k
}

func (p *Packet) TCP() (*layers.TCP, bool) {
	l := p.gp.Layer(layers.LayerTypeTCP)
	if l == nil {
		return nil, false
	}
	tcp, ok := l.(*layers.TCP)
	return tcp, ok
}

// Payload is the transport payload, or the network payload when there is
// no transport layer. Application decoders (DNS on port 53 and the like)
// do not affect it.
func (p *Packet) Payload() []byte {
	if t := p.gp.TransportLayer(); t != nil {
		return t.LayerPayload()
	}
	if n := p.gp.NetworkLayer(); n != nil {
		return n.LayerPayload()
	}
	return nil
}

func (p *Packet) PayloadLen() int { return len(p.Payload()) }

// VLAN returns the first 802.1Q tag, if any.
func (p *Packet) VLAN() (*layers.Dot1Q, bool) {
	l := p.gp.Layer(layers.LayerTypeDot1Q)
	if l == nil {
		return nil, false
	}
	q, ok := l.(*layers.Dot1Q)
	return q, ok
}

func (p *Packet) MACs() (src, dst net.HardwareAddr, ok bool) {
	l := p.gp.Layer(layers.LayerTypeEthernet)
	if l == nil {
		return nil, nil, false
	}
	eth := l.(*layers.Ethernet)
	return eth.SrcMAC, eth.DstMAC, true
}

// TTL returns the IPv4 TTL or IPv6 hop limit.
func (p *Packet) TTL() (uint8, bool) {
	switch ip := p.gp.NetworkLayer().(type) {
	case *layers.IPv4:
		return ip.TTL, true
	case *layers.IPv6:
		return ip.HopLimit, true
	}
	return 0, false
}

// Flags renders the TCP control flags, e.g. "SYN,ACK".
func (p *Packet) Flags() string {
	tcp, ok := p.TCP()
	if !ok {
		return ""
	}
	var f []string
	if tcp.SYN {
		f = append(f, "SYN")
	}
	if tcp.FIN {
		f = append(f, "FIN")
	}
	if tcp.RST {
		f = append(f, "RST")
	}
	if tcp.PSH {
		f = append(f, "PSH")
	}
	if tcp.ACK {
		f = append(f, "ACK")
	}
	if tcp.URG {
		f = append(f, "URG")
	}
	return strings.Join(f, ",")
}

func (p *Packet) Summary() string {
	k := p.Key()
	s := fmt.Sprintf("%s %s -> %s", strings.ToUpper(k.Protocol.String()), k.A, k.B)
	if tcp, ok := p.TCP(); ok {
		s += fmt.Sprintf(" [%s] seq=%d ack=%d", p.Flags(), tcp.Seq, tcp.Ack)
	}
	return s + fmt.Sprintf(" len=%d", p.PayloadLen())
}
