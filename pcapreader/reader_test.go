package pcapreader_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/packet/packettest"
	"github.com/samaelod/reflow/pcapreader"
	"github.com/samaelod/reflow/types"
)

func fixture() []*packet.Packet {
	return []*packet.Packet{
		packettest.TCP{Src: "10.0.0.1", SrcPort: 4000, Dst: "10.0.0.2", DstPort: 80, Seq: 1, Flags: packettest.SYN}.Packet(),
		packettest.UDP("10.0.0.1", 5353, "10.0.0.2", 53, []byte("query")),
		packettest.ARP(packettest.ClientMAC, packettest.ServerMAC),
	}
}

func writePcap(t *testing.T, pkts []*packet.Packet) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
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

func writePcapNG(t *testing.T, pkts []*packet.Packet) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcapng")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w, err := pcapgo.NewNgWriter(f, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range pkts {
		if err := w.WritePacket(p.CaptureInfo(), p.Data()); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadPCAP(t *testing.T) {
	tests := []struct {
		name       string
		write      func(*testing.T, []*packet.Packet) string
		wantFormat pcapreader.Format
	}{
		{"pcap_file", writePcap, pcapreader.FormatPcap},
		{"pcapng_file", writePcapNG, pcapreader.FormatPcapNG},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := fixture()
			path := tt.write(t, want)

			format, err := pcapreader.DetectFormat(path)
			if err != nil || format != tt.wantFormat {
				t.Errorf("DetectFormat() = %v, %v, want %v", format, err, tt.wantFormat)
			}

			got, err := pcapreader.ReadPCAP(path)
			if err != nil {
				t.Fatalf("ReadPCAP(%s) unexpected error: %v", path, err)
			}
			if len(got) != len(want) {
				t.Fatalf("ReadPCAP(%s) = %d packets, want %d", path, len(got), len(want))
			}
			for i := range want {
				if got[i].Key() != want[i].Key() {
					t.Errorf("packet %d key = %v, want %v", i, got[i].Key(), want[i].Key())
				}
				if got[i].Protocol() != want[i].Protocol() {
					t.Errorf("packet %d protocol = %v, want %v", i, got[i].Protocol(), want[i].Protocol())
				}
				if !got[i].Timestamp().Equal(want[i].Timestamp()) {
					t.Errorf("packet %d timestamp = %v, want %v", i, got[i].Timestamp(), want[i].Timestamp())
				}
			}
			if got[2].Protocol() != types.Other {
				t.Errorf("arp frame protocol = %v, want other", got[2].Protocol())
			}
		})
	}
}

func TestReadPCAPErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.pcapng")
	if err := os.WriteFile(empty, []byte{0x0A, 0x0D, 0x0D, 0x0A}, 0o644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.pcap"), empty} {
		_, err := pcapreader.ReadPCAP(path)
		var se *types.SetupError
		if !errors.As(err, &se) {
			t.Errorf("ReadPCAP(%s) error = %v, want SetupError", path, err)
			continue
		}
		if se.Path != path {
			t.Errorf("SetupError.Path = %q, want %q", se.Path, path)
		}
	}
}

func TestReadPCAPFixture(t *testing.T) {
	const path = "../testdata/test.pcap"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skipf("file not found: %s", path)
	}
	pkts, err := pcapreader.ReadPCAP(path)
	if err != nil {
		t.Fatalf("ReadPCAP(%s) unexpected error: %v", path, err)
	}
	t.Logf("%d packets", len(pkts))
	for i, p := range pkts {
		if i < 5 {
			t.Logf("packet %d: %s", i, p.Summary())
		}
	}
}
