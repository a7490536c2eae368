package types_test

import (
	"testing"

	"github.com/samaelod/reflow/types"
)

func TestFlowKeyReverse(t *testing.T) {
	keys := []types.FlowKey{
		{Protocol: types.TCP, A: types.Endpoint{Addr: "1.2.3.4", Port: 10}, B: types.Endpoint{Addr: "5.6.7.8", Port: 20}},
		{Protocol: types.ICMP, A: types.Endpoint{Addr: "::1"}, B: types.Endpoint{Addr: "::2"}},
		{Protocol: types.Other, A: types.Endpoint{Addr: "02:00:00:00:00:01"}, B: types.Endpoint{Addr: "02:00:00:00:00:01"}},
	}
	for _, k := range keys {
		if k.Reverse().Reverse() != k {
			t.Errorf("%v: Reverse().Reverse() = %v", k, k.Reverse().Reverse())
		}
		if !k.Matches(k.Reverse()) {
			t.Errorf("%v does not match its reverse", k)
		}
	}
	if keys[0] == keys[0].Reverse() {
		t.Error("key equals its reverse")
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    types.Endpoint
		wantErr bool
	}{
		{"1.2.3.4:80", types.Endpoint{Addr: "1.2.3.4", Port: 80}, false},
		{"1.2.3.4", types.Endpoint{Addr: "1.2.3.4"}, false},
		{"[2001:db8::1]:443", types.Endpoint{Addr: "2001:db8::1", Port: 443}, false},
		{"2001:db8::1", types.Endpoint{Addr: "2001:db8::1"}, false},
		{"02:00:00:00:00:01", types.Endpoint{Addr: "02:00:00:00:00:01"}, false},
		{"1.2.3.4:99999", types.Endpoint{}, true},
		{"", types.Endpoint{}, true},
	}
	for _, tt := range tests {
		got, err := types.ParseEndpoint(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEndpoint(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEndpoint(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if !tt.wantErr {
			back, err := types.ParseEndpoint(got.String())
			if err != nil || back != got {
				t.Errorf("ParseEndpoint(%q.String()) = %+v, %v", tt.in, back, err)
			}
		}
	}
}

func TestSessionKeys(t *testing.T) {
	s := types.Session{Flows: []types.FlowSelector{
		{Protocol: "tcp", A: "1.2.3.4:10", B: "5.6.7.8:20"},
		{Protocol: "ICMP", A: "1.2.3.4", B: "5.6.7.8"},
	}}
	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if keys[0].A.Port != 10 || keys[1].Protocol != types.ICMP {
		t.Errorf("Keys() = %v", keys)
	}
	if sel := types.SelectorFor(keys[0]); sel != s.Flows[0] {
		t.Errorf("SelectorFor() = %+v, want %+v", sel, s.Flows[0])
	}

	s.Flows = append(s.Flows, types.FlowSelector{Protocol: "sctp", A: "1.2.3.4", B: "5.6.7.8"})
	if _, err := s.Keys(); err == nil {
		t.Error("Keys() accepted unknown protocol")
	}
}

func TestVerifyModes(t *testing.T) {
	for _, m := range []types.VerifyMode{types.VerifyNone, types.VerifyQuietFull, types.VerifyFull, types.VerifyQuietDropPass, types.VerifyDropPass} {
		got, err := types.ParseVerifyMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseVerifyMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if !types.VerifyFull.FailOnDrop() || types.VerifyDropPass.FailOnDrop() {
		t.Error("FailOnDrop mismatch")
	}
	if types.VerifyQuietFull.Verbose() || !types.VerifyDropPass.Verbose() {
		t.Error("Verbose mismatch")
	}
}
