package engine

import "github.com/samaelod/reflow/packet"

// Point is where in the send cycle a trigger is evaluated.
type Point int

const (
	// AfterSend triggers are tested against the reply read back on the
	// sending interface.
	AfterSend Point = iota
	// BeforeSend triggers are tested against the packet about to be sent.
	BeforeSend
)

func (p Point) String() string {
	if p == BeforeSend {
		return "before"
	}
	return "after"
}

// Trigger is a predicate plus an action run during replay.
type Trigger interface {
	Name() string
	Point() Point
	Test(p *packet.Packet) bool
	Execute(p *packet.Packet) TriggerResult
}

// TriggerResult is what an executed trigger asks the engine to do. Reply is
// written to the sending interface when non-empty.
type TriggerResult struct {
	Reply []byte
	Stop  bool
	Err   error
}
