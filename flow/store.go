package flow

import (
	"sort"

	"github.com/samaelod/reflow/types"
)

// Store maps flow keys to flows, one map per protocol. A flow is stored
// under a single direction of its key, so lookups try both.
type Store struct {
	flows [types.NumProtocols]map[types.FlowKey]*Flow
}

func NewStore() *Store {
	s := &Store{}
	s.Clear()
	return s
}

func (s *Store) Lookup(key types.FlowKey) (*Flow, bool) {
	if !key.Protocol.Valid() {
		return nil, false
	}
	m := s.flows[key.Protocol]
	if f, ok := m[key]; ok {
		return f, true
	}
	if f, ok := m[key.Reverse()]; ok {
		return f, true
	}
	return nil, false
}

// Insert adds f under key. It refuses keys already present in either direction.
func (s *Store) Insert(key types.FlowKey, f *Flow) bool {
	if !key.Protocol.Valid() {
		return false
	}
	if _, exists := s.Lookup(key); exists {
		return false
	}
	s.flows[key.Protocol][key] = f
	return true
}

// Flows returns a copy of the flows of one protocol.
func (s *Store) Flows(p types.Protocol) map[types.FlowKey]*Flow {
	out := make(map[types.FlowKey]*Flow)
	if !p.Valid() {
		return out
	}
	for k, f := range s.flows[p] {
		out[k] = f
	}
	return out
}

func (s *Store) All() map[types.Protocol]map[types.FlowKey]*Flow {
	out := make(map[types.Protocol]map[types.FlowKey]*Flow, types.NumProtocols)
	for _, p := range types.Protocols {
		out[p] = s.Flows(p)
	}
	return out
}

// Keys returns the keys of one protocol ordered by first capture sequence.
func (s *Store) Keys(p types.Protocol) []types.FlowKey {
	if !p.Valid() {
		return nil
	}
	m := s.flows[p]
	keys := make([]types.FlowKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m[keys[i]].FirstSeq() < m[keys[j]].FirstSeq()
	})
	return keys
}

func (s *Store) Len() int {
	n := 0
	for _, m := range s.flows {
		n += len(m)
	}
	return n
}

func (s *Store) Clear() {
	for i := range s.flows {
		s.flows[i] = make(map[types.FlowKey]*Flow)
	}
}
