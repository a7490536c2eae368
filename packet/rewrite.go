package packet

import (
	"bytes"
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/samaelod/reflow/types"
)

var broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// NAT maps an address as sent by one side to the address the other side sees.
type NAT struct {
	From net.IP
	To   net.IP
}

func (n NAT) Set() bool { return n.From != nil || n.To != nil }

// NetworkInfo holds the replay-side addressing written into packets.
// Nil fields keep the captured values.
type NetworkInfo struct {
	ClientIP4 net.IP
	ClientIP6 net.IP
	ServerIP4 net.IP
	ServerIP6 net.IP
	ClientMAC net.HardwareAddr
	ServerMAC net.HardwareAddr
	VLANID    int
	ClientNAT NAT
	ServerNAT NAT
}

func ParseNetworkInfo(n types.Network) (NetworkInfo, error) {
	var (
		ni  NetworkInfo
		err error
	)
	ip := func(field, s string, v6 bool) net.IP {
		if s == "" || err != nil {
			return nil
		}
		parsed := net.ParseIP(s)
		if parsed == nil || (parsed.To4() == nil) != v6 {
			err = fmt.Errorf("%s: invalid address %q", field, s)
			return nil
		}
		if !v6 {
			return parsed.To4()
		}
		return parsed
	}
	anyIP := func(field, s string) net.IP {
		if s == "" || err != nil {
			return nil
		}
		parsed := net.ParseIP(s)
		if parsed == nil {
			err = fmt.Errorf("%s: invalid address %q", field, s)
		}
		return parsed
	}
	mac := func(field, s string) net.HardwareAddr {
		if s == "" || err != nil {
			return nil
		}
		hw, perr := net.ParseMAC(s)
		if perr != nil {
			err = fmt.Errorf("%s: %w", field, perr)
		}
		return hw
	}

	ni.ClientIP4 = ip("client_ip4", n.ClientIP4, false)
	ni.ClientIP6 = ip("client_ip6", n.ClientIP6, true)
	ni.ServerIP4 = ip("server_ip4", n.ServerIP4, false)
	ni.ServerIP6 = ip("server_ip6", n.ServerIP6, true)
	ni.ClientMAC = mac("client_mac", n.ClientMAC)
	ni.ServerMAC = mac("server_mac", n.ServerMAC)
	ni.ClientNAT = NAT{From: anyIP("client_nat.from", n.ClientNAT.From), To: anyIP("client_nat.to", n.ClientNAT.To)}
	ni.ServerNAT = NAT{From: anyIP("server_nat.from", n.ServerNAT.From), To: anyIP("server_nat.to", n.ServerNAT.To)}
	if n.VLANID < 0 || n.VLANID > 4094 {
		return NetworkInfo{}, fmt.Errorf("vlan_id: %d out of range", n.VLANID)
	}
	ni.VLANID = n.VLANID

	if err != nil {
		return NetworkInfo{}, err
	}
	return ni, nil
}

// Rewrite returns the packet bytes to transmit from side. With fixup the
// link and network addresses are replaced from ni and lengths and checksums
// are recomputed; without it the captured bytes are returned.
func (p *Packet) Rewrite(ni NetworkInfo, side types.Side, fixup bool) ([]byte, error) {
	if !fixup {
		return append([]byte(nil), p.Data()...), nil
	}

	var (
		out []gopacket.SerializableLayer
		nl  gopacket.NetworkLayer
	)

	for _, l := range p.gp.Layers() {
		switch v := l.(type) {
		case *layers.Ethernet:
			eth := *v
			rewriteMACs(&eth, ni, side)
			out = append(out, &eth)
		case *layers.Dot1Q:
			q := *v
			if ni.VLANID > 0 {
				q.VLANIdentifier = uint16(ni.VLANID)
			}
			out = append(out, &q)
		case *layers.IPv4:
			ip := *v
			ip.SrcIP, ip.DstIP = rewriteIPs(ip.SrcIP, ip.DstIP, ni.ClientIP4, ni.ServerIP4, ni, side)
			nl = &ip
			out = append(out, &ip)
		case *layers.IPv6:
			ip := *v
			ip.SrcIP, ip.DstIP = rewriteIPs(ip.SrcIP, ip.DstIP, ni.ClientIP6, ni.ServerIP6, ni, side)
			nl = &ip
			out = append(out, &ip)
		case *layers.TCP:
			tcp := *v
			if nl != nil {
				if err := tcp.SetNetworkLayerForChecksum(nl); err != nil {
					return nil, err
				}
			}
			return serialize(append(out, &tcp, gopacket.Payload(v.Payload)))
		case *layers.UDP:
			udp := *v
			if nl != nil {
				if err := udp.SetNetworkLayerForChecksum(nl); err != nil {
					return nil, err
				}
			}
			return serialize(append(out, &udp, gopacket.Payload(v.Payload)))
		case *layers.ICMPv4:
			icmp := *v
			return serialize(append(out, &icmp, gopacket.Payload(v.Payload)))
		case *layers.ICMPv6:
			icmp := *v
			if nl != nil {
				if err := icmp.SetNetworkLayerForChecksum(nl); err != nil {
					return nil, err
				}
			}
			return serialize(append(out, &icmp, gopacket.Payload(v.Payload)))
		default:
			// Carry whatever follows verbatim.
			rest := append(append([]byte(nil), l.LayerContents()...), l.LayerPayload()...)
			return serialize(append(out, gopacket.Payload(rest)))
		}
	}
	return serialize(out)
}

func serialize(ls []gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	return buf.Bytes(), nil
}

func rewriteMACs(eth *layers.Ethernet, ni NetworkInfo, side types.Side) {
	src, dst := ni.ClientMAC, ni.ServerMAC
	if side == types.ServerSide {
		src, dst = ni.ServerMAC, ni.ClientMAC
	}
	if src != nil && !bytes.Equal(eth.SrcMAC, broadcastMAC) {
		eth.SrcMAC = src
	}
	if dst != nil && !bytes.Equal(eth.DstMAC, broadcastMAC) {
		eth.DstMAC = dst
	}
}

func rewriteIPs(src, dst, clientIP, serverIP net.IP, ni NetworkInfo, side types.Side) (net.IP, net.IP) {
	if side == types.ClientSide {
		if clientIP != nil {
			src = clientIP
		}
		if serverIP != nil {
			dst = serverIP
		}
		return src, dst
	}

	if serverIP != nil {
		src = serverIP
		if ni.ServerNAT.To != nil && sameFamily(ni.ServerNAT.To, serverIP) {
			src = ni.ServerNAT.To
		}
	}
	if clientIP != nil {
		dst = clientIP
		if ni.ClientNAT.To != nil && sameFamily(ni.ClientNAT.To, clientIP) {
			dst = ni.ClientNAT.To
		}
	}
	return src, dst
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() == nil) == (b.To4() == nil)
}
