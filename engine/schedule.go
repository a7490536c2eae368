package engine

import (
	"sort"

	"github.com/samaelod/reflow/flow"
	"github.com/samaelod/reflow/packet"
	"github.com/samaelod/reflow/types"
)

// Scheduled is one packet of the merged replay schedule.
type Scheduled struct {
	flow.ReplayEntry
	Flow types.FlowKey
}

// BuildSchedule merges the replay lists of the selected flows in capture
// order. Keys with no flow are returned as missing. A flow selected twice,
// in either direction, is scheduled once.
func BuildSchedule(store *flow.Store, keys []types.FlowKey, ni packet.NetworkInfo, fixup bool) (sched []Scheduled, missing []types.FlowKey) {
	seen := make(map[*flow.Flow]bool, len(keys))
	for _, k := range keys {
		f, ok := store.Lookup(k)
		if !ok {
			missing = append(missing, k)
			continue
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		for _, re := range f.ReplayList(ni, fixup) {
			sched = append(sched, Scheduled{ReplayEntry: re, Flow: f.Key()})
		}
	}
	sort.SliceStable(sched, func(i, j int) bool {
		return sched[i].Seq < sched[j].Seq
	})
	return sched, missing
}
