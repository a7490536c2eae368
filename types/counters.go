package types

import (
	"fmt"
	"strings"
)

// VerifyMode selects how replayed packets are checked on the receiving side.
type VerifyMode int

const (
	VerifyNone VerifyMode = iota
	// VerifyQuietFull fails on drops and mismatches without per-packet logging.
	VerifyQuietFull
	// VerifyFull fails on drops and mismatches and logs every verdict.
	VerifyFull
	// VerifyQuietDropPass fails on mismatches only, drops are tolerated.
	VerifyQuietDropPass
	// VerifyDropPass fails on mismatches only and logs every verdict.
	VerifyDropPass
)

func (v VerifyMode) Enabled() bool { return v != VerifyNone }

// Verbose is true for the modes that log each packet verdict.
func (v VerifyMode) Verbose() bool { return v == VerifyFull || v == VerifyDropPass }

// FailOnDrop is true for the modes where an unanswered packet is a failure.
func (v VerifyMode) FailOnDrop() bool { return v == VerifyFull || v == VerifyQuietFull }

func (v VerifyMode) String() string {
	switch v {
	case VerifyNone:
		return "none"
	case VerifyQuietFull:
		return "quiet-full"
	case VerifyFull:
		return "full"
	case VerifyQuietDropPass:
		return "quiet-drop-pass"
	case VerifyDropPass:
		return "drop-pass"
	}
	return fmt.Sprintf("verify(%d)", int(v))
}

func ParseVerifyMode(s string) (VerifyMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return VerifyNone, nil
	case "quiet-full", "quiet_full":
		return VerifyQuietFull, nil
	case "full":
		return VerifyFull, nil
	case "quiet-drop-pass", "quiet_drop_pass":
		return VerifyQuietDropPass, nil
	case "drop-pass", "drop_pass":
		return VerifyDropPass, nil
	}
	return VerifyNone, fmt.Errorf("unknown verify mode %q", s)
}

// ReplayCounters aggregates the outcome of one replay. Only Total is
// meaningful when verification is disabled.
type ReplayCounters struct {
	Total   int
	Passed  int
	Failed  int
	Dropped int
	Skipped int
}

func (c ReplayCounters) String() string {
	return fmt.Sprintf("%d packets sent : %d verified, %d verify skipped, %d verify failed, %d dropped",
		c.Total, c.Passed, c.Skipped, c.Failed, c.Dropped)
}

// Side is the interface a replayed packet leaves from.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	if s == ServerSide {
		return "server"
	}
	return "client"
}
