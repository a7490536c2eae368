package engine

import (
	"fmt"
	"time"

	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

const defaultVerifyTimeout = time.Second

// Options controls one replay.
type Options struct {
	Delay         time.Duration
	Verify        types.VerifyMode
	VerifyTimeout time.Duration
	// Fixup rewrites addresses from Network; without it captured bytes are sent.
	Fixup bool
	// Gateway is the number of routers between the interfaces.
	Gateway     int
	ListPackets bool
	Network     packet.NetworkInfo
	Triggers    []Trigger
}

// OptionsFromSession converts the globals and network of a session file.
func OptionsFromSession(s *types.Session) (Options, error) {
	mode, err := types.ParseVerifyMode(s.Globals.Verify)
	if err != nil {
		return Options{}, err
	}
	ni, err := packet.ParseNetworkInfo(s.Network)
	if err != nil {
		return Options{}, fmt.Errorf("network: %w", err)
	}
	if s.Globals.Delay < 0 {
		return Options{}, fmt.Errorf("delay: %d is negative", s.Globals.Delay)
	}
	if s.Globals.Gateway < 0 {
		return Options{}, fmt.Errorf("gateway: %d is negative", s.Globals.Gateway)
	}

	opts := Options{
		Delay:         time.Duration(s.Globals.Delay) * time.Millisecond,
		Verify:        mode,
		VerifyTimeout: time.Duration(s.Globals.VerifyTimeout) * time.Millisecond,
		Fixup:         !s.Globals.Raw,
		Gateway:       s.Globals.Gateway,
		ListPackets:   s.Globals.ListPackets,
		Network:       ni,
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaultVerifyTimeout
	}
	return opts, nil
}
