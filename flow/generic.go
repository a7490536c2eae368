package flow

// GenericAssigner buckets non-TCP packets by key alone. The first packet's
// direction becomes the flow key.
type GenericAssigner struct {
	store *Store
}

func NewGenericAssigner(store *Store) *GenericAssigner {
	return &GenericAssigner{store: store}
}

func (g *GenericAssigner) Assign(entries []Entry) {
	for _, e := range entries {
		key := e.Packet.Key()
		f, ok := g.store.Lookup(key)
		if !ok {
			f = NewFlow(key)
			g.store.Insert(key, f)
		}
		f.Append(e)
	}
}
