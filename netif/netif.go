// Package netif provides the interfaces replayed packets are written to and
// read back from.
package netif

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/samaelod/reflow/packet"
)

// ErrTimeout is returned by ReadPacket when nothing arrived in time.
var ErrTimeout = errors.New("read timeout")

// Interface sends raw frames and reads the frames that arrive on it.
type Interface interface {
	Name() string
	WritePacket(data []byte) error
	// SetFilter installs a BPF expression applied to subsequent reads.
	SetFilter(expr string) error
	// ReadPacket returns the next matching frame or ErrTimeout.
	ReadPacket(ctx context.Context, timeout time.Duration) (*packet.Packet, error)
	Close() error
}

// DumpPrefix selects a pcap file instead of a device in Open.
const DumpPrefix = "file:"

// Open returns a Dump for "file:<path>" and a Live device otherwise.
func Open(name string, snapLen int) (Interface, error) {
	if path, ok := strings.CutPrefix(name, DumpPrefix); ok {
		return OpenDump(path, snapLen)
	}
	return OpenLive(name, snapLen)
}
