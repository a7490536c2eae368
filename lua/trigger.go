package lua

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/gopacket/layers"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/reflow/engine"
	"github.com/samaelod/reflow/packet"
)

// Trigger is a trigger entry of a session file:
//
//	{ name = "...", when = "after", match = function(pkt) ... end,
//	  action = "stop", reply = function(pkt) return "<hex frame>" end }
//
// match is required; action and reply are optional.
type Trigger struct {
	name  string
	point engine.Point
	match *lua.LFunction
	reply *lua.LFunction
	stop  bool

	script *Script
}

func (s *Script) readTriggers(lv lua.LValue) ([]*Trigger, error) {
	if lv == lua.LNil {
		return nil, nil
	}
	list, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("triggers: expected a table, got %s", lv.Type())
	}

	var out []*Trigger
	var err error
	list.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		tbl, ok := v.(*lua.LTable)
		if !ok {
			err = fmt.Errorf("trigger %s: expected a table", k)
			return
		}
		t := &Trigger{script: s, name: lua.LVAsString(tbl.RawGetString("name"))}
		if t.name == "" {
			t.name = fmt.Sprintf("#%s", k)
		}

		switch when := strings.ToLower(lua.LVAsString(tbl.RawGetString("when"))); when {
		case "", "after":
			t.point = engine.AfterSend
		case "before":
			t.point = engine.BeforeSend
		default:
			err = fmt.Errorf("trigger %s: unknown when %q", t.name, when)
			return
		}

		fn, ok := tbl.RawGetString("match").(*lua.LFunction)
		if !ok {
			err = fmt.Errorf("trigger %s: match must be a function", t.name)
			return
		}
		t.match = fn

		if r := tbl.RawGetString("reply"); r != lua.LNil {
			fn, ok := r.(*lua.LFunction)
			if !ok {
				err = fmt.Errorf("trigger %s: reply must be a function", t.name)
				return
			}
			t.reply = fn
		}

		switch action := strings.ToLower(lua.LVAsString(tbl.RawGetString("action"))); action {
		case "", "continue":
		case "stop":
			t.stop = true
		default:
			err = fmt.Errorf("trigger %s: unknown action %q", t.name, action)
			return
		}
		out = append(out, t)
	})
	return out, err
}

func (t *Trigger) Name() string { return t.name }

func (t *Trigger) Point() engine.Point { return t.point }

// Test calls match with the packet. Lua errors count as no match.
func (t *Trigger) Test(p *packet.Packet) bool {
	ret, err := t.call(t.match, p)
	if err != nil {
		return false
	}
	return lua.LVAsBool(ret)
}

func (t *Trigger) Execute(p *packet.Packet) engine.TriggerResult {
	res := engine.TriggerResult{Stop: t.stop}
	if t.reply == nil {
		return res
	}

	ret, err := t.call(t.reply, p)
	if err != nil {
		return engine.TriggerResult{Err: err}
	}
	if ret == lua.LNil {
		return res
	}
	data, err := hex.DecodeString(strings.ReplaceAll(lua.LVAsString(ret), " ", ""))
	if err != nil {
		return engine.TriggerResult{Err: fmt.Errorf("reply: invalid hex: %w", err)}
	}
	res.Reply = data
	return res
}

func (t *Trigger) call(fn *lua.LFunction, p *packet.Packet) (lua.LValue, error) {
	s := t.script
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.L == nil {
		return lua.LNil, fmt.Errorf("trigger %s: session closed", t.name)
	}

	L := s.L
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, packetTable(L, p)); err != nil {
		return lua.LNil, fmt.Errorf("trigger %s: %w", t.name, err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// packetTable exposes the fields triggers usually match on.
func packetTable(L *lua.LState, p *packet.Packet) *lua.LTable {
	tbl := L.NewTable()
	k := p.Key()
	L.SetField(tbl, "protocol", lua.LString(k.Protocol.String()))
	L.SetField(tbl, "src", lua.LString(k.A.Addr))
	L.SetField(tbl, "dst", lua.LString(k.B.Addr))
	L.SetField(tbl, "sport", lua.LNumber(k.A.Port))
	L.SetField(tbl, "dport", lua.LNumber(k.B.Port))
	L.SetField(tbl, "len", lua.LNumber(p.PayloadLen()))
	L.SetField(tbl, "summary", lua.LString(p.Summary()))
	L.SetField(tbl, "data", lua.LString(hex.EncodeToString(p.Data())))

	L.SetField(tbl, "payload", lua.LString(hex.EncodeToString(p.Payload())))
	if ttl, ok := p.TTL(); ok {
		L.SetField(tbl, "ttl", lua.LNumber(ttl))
	}
	if tcp, ok := p.TCP(); ok {
		L.SetField(tbl, "syn", lua.LBool(tcp.SYN))
		L.SetField(tbl, "ack", lua.LBool(tcp.ACK))
		L.SetField(tbl, "fin", lua.LBool(tcp.FIN))
		L.SetField(tbl, "rst", lua.LBool(tcp.RST))
		L.SetField(tbl, "psh", lua.LBool(tcp.PSH))
		L.SetField(tbl, "seq", lua.LNumber(tcp.Seq))
		L.SetField(tbl, "ack_num", lua.LNumber(tcp.Ack))
		L.SetField(tbl, "flags", lua.LString(p.Flags()))
	}
	if l := p.Gopacket().Layer(layers.LayerTypeICMPv4); l != nil {
		icmp := l.(*layers.ICMPv4)
		L.SetField(tbl, "icmp_type", lua.LNumber(icmp.TypeCode.Type()))
		L.SetField(tbl, "icmp_code", lua.LNumber(icmp.TypeCode.Code()))
	}
	return tbl
}
