package netif

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// Dump writes every sent frame to a pcap file. Nothing is ever received, so
// reads wait out their timeout.
type Dump struct {
	path string
	file *os.File
	w    *pcapgo.Writer

	mu      sync.Mutex
	written int
	filter  string
}

func OpenDump(path string, snapLen int) (*Dump, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, &types.SetupError{Op: "open dump", Path: path, Err: err}
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(uint32(snapLen), layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, &types.SetupError{Op: "write dump header", Path: path, Err: err}
	}
	return &Dump{path: path, file: f, w: w}, nil
}

func (d *Dump) Name() string { return DumpPrefix + d.path }

func (d *Dump) WritePacket(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := d.w.WritePacket(ci, data); err != nil {
		return fmt.Errorf("write %s: %w", d.path, err)
	}
	d.written++
	return nil
}

func (d *Dump) SetFilter(expr string) error {
	d.mu.Lock()
	d.filter = expr
	d.mu.Unlock()
	return nil
}

// Filter is the last expression passed to SetFilter.
func (d *Dump) Filter() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.filter
}

func (d *Dump) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

func (d *Dump) ReadPacket(ctx context.Context, timeout time.Duration) (*packet.Packet, error) {
	select {
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dump) Close() error {
	return d.file.Close()
}
