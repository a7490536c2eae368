package flow

import (
	"sync"

	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// Stats summarises one Load.
type Stats struct {
	Packets  int
	Buckets  [types.NumProtocols]int
	Flows    int
	Flowless int
}

// Reconstructor owns the classifier, the flow store and the flowless list
// of one reconstruction session.
type Reconstructor struct {
	classifier Classifier
	store      *Store
	tcp        *TCPReconstructor
}

func NewReconstructor() *Reconstructor {
	store := NewStore()
	return &Reconstructor{
		store: store,
		tcp:   NewTCPReconstructor(store),
	}
}

// Load classifies pkts and assigns them to flows. TCP and each non-TCP
// bucket run concurrently; every bucket is processed in capture order.
func (r *Reconstructor) Load(pkts []*packet.Packet) Stats {
	buckets := r.classifier.Classify(pkts)
	before := len(r.tcp.flowless)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.tcp.Assign(buckets[types.TCP])
	}()
	for _, p := range []types.Protocol{types.UDP, types.ICMP, types.Other} {
		entries := buckets[p]
		if len(entries) == 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			NewGenericAssigner(r.store).Assign(entries)
		}()
	}
	wg.Wait()

	st := Stats{
		Packets:  len(pkts),
		Flows:    r.store.Len(),
		Flowless: len(r.tcp.flowless) - before,
	}
	for i, b := range buckets {
		st.Buckets[i] = len(b)
	}
	return st
}

func (r *Reconstructor) Store() *Store { return r.store }

// Flowless returns the TCP packets no flow could claim, in capture order.
func (r *Reconstructor) Flowless() []Entry { return r.tcp.Flowless() }

// NextSeq is the sequence number the next loaded packet will receive.
func (r *Reconstructor) NextSeq() uint64 { return r.classifier.Next() }

func (r *Reconstructor) Clear() {
	r.store.Clear()
	r.tcp.Reset()
	r.classifier.Reset()
}
