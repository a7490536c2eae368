package netif

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/gopacket/pcap"

	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// pollInterval bounds how long a single libpcap read blocks, so deadlines
// and cancellation are honoured.
const pollInterval = 50 * time.Millisecond

// Live is a network device opened through libpcap.
type Live struct {
	name   string
	handle *pcap.Handle
	mu     sync.Mutex
}

// handleOptions is the part of pcap.InactiveHandle set before activation.
type handleOptions interface {
	SetSnapLen(int) error
	SetPromisc(bool) error
	SetTimeout(time.Duration) error
	SetImmediateMode(bool) error
}

// configure sets up a promiscuous handle whose reads return within
// pollInterval and deliver frames as soon as they arrive.
func configure(h handleOptions, snapLen int) error {
	if err := h.SetSnapLen(snapLen); err != nil {
		return fmt.Errorf("snaplen %d: %w", snapLen, err)
	}
	if err := h.SetPromisc(true); err != nil {
		return fmt.Errorf("promiscuous mode: %w", err)
	}
	if err := h.SetTimeout(pollInterval); err != nil {
		return fmt.Errorf("read timeout: %w", err)
	}
	if err := h.SetImmediateMode(true); err != nil {
		return fmt.Errorf("immediate mode: %w", err)
	}
	return nil
}

func OpenLive(name string, snapLen int) (*Live, error) {
	inactive, err := pcap.NewInactiveHandle(name)
	if err != nil {
		return nil, &types.SetupError{Op: "open interface", Path: name, Err: err}
	}
	defer inactive.CleanUp()

	if err := configure(inactive, snapLen); err != nil {
		return nil, &types.SetupError{Op: "configure interface", Path: name, Err: err}
	}

	h, err := inactive.Activate()
	if err != nil {
		return nil, &types.SetupError{Op: "activate interface", Path: name, Err: err}
	}
	// only frames arriving on the wire, not our own sends
	if err := h.SetDirection(pcap.DirectionIn); err != nil {
		h.Close()
		return nil, &types.SetupError{Op: "set direction", Path: name, Err: err}
	}
	return &Live{name: name, handle: h}, nil
}

func (l *Live) Name() string { return l.name }

func (l *Live) WritePacket(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.handle.WritePacketData(data); err != nil {
		return fmt.Errorf("write %s: %w", l.name, err)
	}
	return nil
}

func (l *Live) SetFilter(expr string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.handle.SetBPFFilter(expr); err != nil {
		return fmt.Errorf("filter %q on %s: %w", expr, l.name, err)
	}
	return nil
}

func (l *Live) ReadPacket(ctx context.Context, timeout time.Duration) (*packet.Packet, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, ci, err := l.handle.ReadPacketData()
		switch {
		case err == nil:
			return packet.New(data, l.handle.LinkType(), ci), nil
		case errors.Is(err, pcap.NextErrorTimeoutExpired):
		default:
			return nil, fmt.Errorf("read %s: %w", l.name, err)
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
	}
}

func (l *Live) Close() error {
	l.handle.Close()
	return nil
}
