package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/reflow/audit"
	"github.com/samaelod/reflow/config"
	"github.com/samaelod/reflow/engine"
	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/packet/packettest"
	"github.com/samaelod/reflow/pcapreader"
	"github.com/samaelod/reflow/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.RecentDir = filepath.Join(dir, "recent")
	cfg.LogsDir = filepath.Join(dir, "logs")
	cfg.AuditDB = filepath.Join(dir, "audit.db")
	cfg.ClientIface = netifDump(dir, "client.pcap")
	cfg.ServerIface = netifDump(dir, "server.pcap")
	return cfg
}

func netifDump(dir, name string) string {
	return "file:" + filepath.Join(dir, name)
}

func writeCapture(t *testing.T) string {
	t.Helper()
	pkts := []*packet.Packet{
		packettest.UDP("10.0.0.1", 5353, "10.0.0.2", 53, []byte("query")),
		packettest.UDP("10.0.0.2", 53, "10.0.0.1", 5353, []byte("answer")),
		packettest.ICMPEcho("10.0.0.1", "10.0.0.2", 7, 1),
	}

	path := filepath.Join(t.TempDir(), "dns.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	for _, p := range pkts {
		if err := w.WritePacket(p.CaptureInfo(), p.Data()); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestLoadCaptureGeneratesSession(t *testing.T) {
	cfg := testConfig(t)
	s, err := loadSource(cfg, sourcePCAP, writeCapture(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer s.Close()

	if filepath.Dir(s.path) != cfg.RecentDir || !strings.HasSuffix(s.path, "dns_1.lua") {
		t.Errorf("session path = %s", s.path)
	}
	if s.stats.Packets != 3 || s.stats.Flows != 2 {
		t.Errorf("stats = %+v", s.stats)
	}
	keys, err := s.script.Session.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0].Protocol != types.UDP || keys[1].Protocol != types.ICMP {
		t.Errorf("keys = %v", keys)
	}
	if s.script.Session.Network.ClientIface != cfg.ClientIface {
		t.Errorf("client iface = %q", s.script.Session.Network.ClientIface)
	}
	if !strings.Contains(summarize(s.stats), "udp=2 icmp=1") {
		t.Errorf("summary = %q", summarize(s.stats))
	}
}

func TestLoadSessionWithoutCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.lua")
	if err := os.WriteFile(path, []byte(`return { globals = { verify = "none" } }`), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := loadSource(testConfig(t), sourceLua, path)
	var se *types.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("expected SetupError, got %v", err)
	}
}

func TestSaveSelection(t *testing.T) {
	cfg := testConfig(t)
	s, err := loadSource(cfg, sourcePCAP, writeCapture(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer s.Close()

	keys, _ := s.script.Session.Keys()
	next, err := saveSelection(cfg, s, keys[:1])
	if err != nil {
		t.Fatalf("save selection: %v", err)
	}
	defer next.Close()

	if next.path == s.path || next.rec != s.rec {
		t.Errorf("unexpected session %+v", next)
	}
	got, _ := next.script.Session.Keys()
	if len(got) != 1 || got[0] != keys[0] {
		t.Errorf("keys = %v", got)
	}
}

func TestOpenInterfacesRequiresNames(t *testing.T) {
	cfg := config.Default()
	_, _, err := openInterfaces(cfg, types.Network{ClientIface: "file:" + filepath.Join(t.TempDir(), "c.pcap")})
	var se *types.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("expected SetupError, got %v", err)
	}
}

func TestRunReplayToDumps(t *testing.T) {
	cfg := testConfig(t)
	s, err := loadSource(cfg, sourcePCAP, writeCapture(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	defer s.Close()

	keys, _ := s.script.Session.Keys()
	e := engine.NewEngine(s.rec.Store(), nil, nil, nil)
	res, err := runReplay(cfg, e, s, keys)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Counters.Total != 3 || !res.OK() {
		t.Fatalf("result = %+v", res)
	}

	for name, want := range map[string]int{"client.pcap": 2, "server.pcap": 1} {
		pkts, err := pcapreader.ReadPCAP(strings.TrimPrefix(netifDump(filepath.Dir(cfg.AuditDB), name), "file:"))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if len(pkts) != want {
			t.Errorf("%s: %d packets, want %d", name, len(pkts), want)
		}
	}

	st, err := audit.Open(cfg.AuditDB)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, err := st.Replays(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Counters.Total != 3 {
		t.Errorf("replays = %+v", runs)
	}
}
