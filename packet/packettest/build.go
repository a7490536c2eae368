// Package packettest builds Ethernet frames for tests.
package packettest

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/samaelod/reflow/packet"
)

var (
	ClientMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	ServerMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Flags lists the TCP control bits to set.
type Flags struct {
	SYN, ACK, FIN, RST, PSH bool
}

var (
	SYN    = Flags{SYN: true}
	SYNACK = Flags{SYN: true, ACK: true}
	ACK    = Flags{ACK: true}
	PSHACK = Flags{PSH: true, ACK: true}
	FINACK = Flags{FIN: true, ACK: true}
	FINPSH = Flags{FIN: true, PSH: true, ACK: true}
	RSTACK = Flags{RST: true, ACK: true}
	RST    = Flags{RST: true}
)

// TCP describes one TCP segment between two IPv4 endpoints.
type TCP struct {
	Src, Dst         string
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            Flags
	Payload          []byte
	VLAN             uint16
}

func (t TCP) Packet() *packet.Packet {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(t.Src).To4(),
		DstIP:    net.ParseIP(t.Dst).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(t.SrcPort),
		DstPort: layers.TCPPort(t.DstPort),
		Seq:     t.Seq,
		Ack:     t.Ack,
		SYN:     t.Flags.SYN,
		ACK:     t.Flags.ACK,
		FIN:     t.Flags.FIN,
		RST:     t.Flags.RST,
		PSH:     t.Flags.PSH,
		Window:  65535,
	}
	_ = tcp.SetNetworkLayerForChecksum(ip)
	return build(ethernet(layers.EthernetTypeIPv4, t.VLAN), t.VLAN, layers.EthernetTypeIPv4, ip, tcp, gopacket.Payload(t.Payload))
}

// UDP builds an IPv4 datagram.
func UDP(src string, srcPort uint16, dst string, dstPort uint16, payload []byte) *packet.Packet {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	_ = udp.SetNetworkLayerForChecksum(ip)
	return build(ethernet(layers.EthernetTypeIPv4, 0), 0, layers.EthernetTypeIPv4, ip, udp, gopacket.Payload(payload))
}

// ICMPEcho builds an IPv4 echo request.
func ICMPEcho(src, dst string, id, seq uint16) *packet.Packet {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       id,
		Seq:      seq,
	}
	return build(ethernet(layers.EthernetTypeIPv4, 0), 0, layers.EthernetTypeIPv4, ip, icmp, gopacket.Payload([]byte("ping")))
}

// ARP builds a non-IP frame that belongs in the other bucket.
func ARP(src, dst net.HardwareAddr) *packet.Packet {
	eth := &layers.Ethernet{SrcMAC: src, DstMAC: dst, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   src,
		SourceProtAddress: net.IPv4(10, 0, 0, 1).To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.IPv4(10, 0, 0, 2).To4(),
	}
	return serialize(eth, arp)
}

func ethernet(t layers.EthernetType, vlan uint16) *layers.Ethernet {
	eth := &layers.Ethernet{SrcMAC: ClientMAC, DstMAC: ServerMAC, EthernetType: t}
	if vlan != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
	}
	return eth
}

func build(eth *layers.Ethernet, vlan uint16, inner layers.EthernetType, ls ...gopacket.SerializableLayer) *packet.Packet {
	all := []gopacket.SerializableLayer{eth}
	if vlan != 0 {
		all = append(all, &layers.Dot1Q{VLANIdentifier: vlan, Type: inner})
	}
	return serialize(append(all, ls...)...)
}

func serialize(ls ...gopacket.SerializableLayer) *packet.Packet {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	data := append([]byte(nil), buf.Bytes()...)
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return packet.New(data, layers.LinkTypeEthernet, ci)
}
