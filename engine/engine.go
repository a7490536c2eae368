// Package engine replays reconstructed flows onto a pair of interfaces.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samaelod/reflow/flow"
	"github.com/samaelod/reflow/netif"
	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// ErrBusy is returned when Replay is called while another replay runs.
var ErrBusy = errors.New("replay already running")

// Result is the outcome of one replay. Missing lists the selected keys
// that matched no flow; each also counts as skipped.
type Result struct {
	Counters  types.ReplayCounters
	Missing   []types.FlowKey
	Mode      types.VerifyMode
	Stopped   bool
	StoppedBy string
	Elapsed   time.Duration
}

// OK reports whether verification found no failures. Drops only count
// against the full verify modes.
func (r Result) OK() bool {
	if r.Counters.Failed > 0 {
		return false
	}
	return !r.Mode.FailOnDrop() || r.Counters.Dropped == 0
}

// Engine replays flows from Store. Client sends the packets travelling in
// a flow key's direction, Server the others.
type Engine struct {
	Store  *flow.Store
	Client netif.Interface
	Server netif.Interface
	Log    *Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	status  types.ReplayStatus
	last    Result
}

func NewEngine(store *flow.Store, client, server netif.Interface, log *Logger) *Engine {
	return &Engine{Store: store, Client: client, Server: server, Log: log}
}

func (e *Engine) Status() types.ReplayStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Last returns the result of the most recent finished replay.
func (e *Engine) Last() Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Stop cancels a running replay. Packets not yet sent are not sent.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	e.running = true
	e.cancel = cancel
	e.status = types.StatusRunning
	return ctx, nil
}

func (e *Engine) finish(res Result, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.running = false
	e.cancel = nil
	e.last = res
	e.status = types.StatusCompleted
	if err != nil {
		e.status = types.StatusError
	}
}

// Replay sends the packets of the selected flows in capture order, one at
// a time, waiting opts.Delay between sends. Only setup problems are
// returned as errors; per-packet outcomes are in the counters.
func (e *Engine) Replay(ctx context.Context, keys []types.FlowKey, opts Options) (res Result, err error) {
	if e.Store == nil {
		return Result{}, &types.SetupError{Op: "replay", Err: errors.New("no flow store")}
	}
	if e.Client == nil || e.Server == nil {
		return Result{}, &types.SetupError{Op: "replay", Err: errors.New("client and server interfaces are required")}
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = defaultVerifyTimeout
	}

	ctx, err = e.begin(ctx)
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	defer func() {
		res.Elapsed = time.Since(start)
		e.finish(res, err)
	}()

	sched, missing := BuildSchedule(e.Store, keys, opts.Network, opts.Fixup)
	res = Result{Missing: missing, Mode: opts.Verify}
	for _, k := range missing {
		e.Log.Printf("No flow for %s, skipped", k)
		res.Counters.Skipped++
	}
	e.Log.Printf("Replaying %d packets from %d flows (verify %s, delay %s)",
		len(sched), len(keys)-len(missing), opts.Verify, opts.Delay)

	for i, s := range sched {
		if ctx.Err() != nil {
			e.stopped(&res, "cancelled")
			break
		}
		if i > 0 && opts.Delay > 0 {
			select {
			case <-time.After(opts.Delay):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				e.stopped(&res, "cancelled")
				break
			}
		}

		if name, stop := e.runTriggers(BeforeSend, s.Packet, e.sender(s.Side), opts.Triggers); stop {
			e.stopped(&res, name)
			break
		}
		if name, stop := e.send(ctx, s, opts, &res.Counters); stop {
			e.stopped(&res, name)
			break
		}
	}

	e.Log.Printf("Replay finished: %s", res.Counters)
	return res, nil
}

func (e *Engine) stopped(res *Result, by string) {
	res.Stopped = true
	res.StoppedBy = by
	e.Log.Printf("Replay stopped by %s", by)
}

func (e *Engine) sender(side types.Side) netif.Interface {
	if side == types.ServerSide {
		return e.Server
	}
	return e.Client
}

func (e *Engine) receiver(side types.Side) netif.Interface {
	if side == types.ServerSide {
		return e.Client
	}
	return e.Server
}

// send transmits one scheduled packet, verifies it and runs the after-send
// triggers. It reports the trigger that asked to stop, if any.
func (e *Engine) send(ctx context.Context, s Scheduled, opts Options, c *types.ReplayCounters) (string, bool) {
	out, in := e.sender(s.Side), e.receiver(s.Side)
	sent := s.Packet
	if opts.Fixup && s.Err == nil {
		sent = s.Packet.Reparse(s.Data)
	}

	if opts.ListPackets {
		e.Log.Printf("#%d %s via %s: %s", s.Seq, s.Side, out.Name(), sent.Summary())
	}
	if s.Err != nil {
		e.Log.Printf("#%d fix-up failed, sending captured bytes: %v", s.Seq, s.Err)
	}

	var exp expectation
	verify := opts.Verify.Enabled()
	if verify {
		exp, verify = expect(sent, s.Side, opts)
		if !verify {
			c.Skipped++
		} else if err := in.SetFilter(exp.filter()); err != nil {
			e.Log.Printf("#%d verify filter: %v", s.Seq, err)
			c.Skipped++
			verify = false
		}
	}

	awaitReply := hasPoint(opts.Triggers, AfterSend)
	if awaitReply {
		if err := out.SetFilter(replyFilter(sent, s.Side, opts)); err != nil {
			e.Log.Printf("#%d trigger filter: %v", s.Seq, err)
			awaitReply = false
		}
	}

	c.Total++
	if err := out.WritePacket(s.Data); err != nil {
		e.Log.Printf("#%d send failed: %v", s.Seq, err)
		c.Failed++
		return "", false
	}

	if verify {
		e.verify(ctx, s.Seq, in, exp, opts, c)
	}

	if awaitReply {
		reply, err := out.ReadPacket(ctx, opts.VerifyTimeout)
		if err == nil {
			return e.runTriggers(AfterSend, reply, out, opts.Triggers)
		}
		if !errors.Is(err, netif.ErrTimeout) && ctx.Err() == nil {
			e.Log.Printf("#%d trigger read: %v", s.Seq, err)
		}
	}
	return "", false
}

func hasPoint(ts []Trigger, p Point) bool {
	for _, t := range ts {
		if t.Point() == p {
			return true
		}
	}
	return false
}

// runTriggers executes every trigger at point whose test matches p.
func (e *Engine) runTriggers(point Point, p *packet.Packet, out netif.Interface, ts []Trigger) (string, bool) {
	for _, t := range ts {
		if t.Point() != point || !t.Test(p) {
			continue
		}
		r := t.Execute(p)
		if r.Err != nil {
			e.Log.Printf("Trigger %s: %v", t.Name(), r.Err)
			continue
		}
		e.Log.Printf("Trigger %s fired on %s", t.Name(), p.Summary())
		if len(r.Reply) > 0 {
			if err := out.WritePacket(r.Reply); err != nil {
				e.Log.Printf("Trigger %s reply: %v", t.Name(), err)
			}
		}
		if r.Stop {
			return fmt.Sprintf("trigger %s", t.Name()), true
		}
	}
	return "", false
}
