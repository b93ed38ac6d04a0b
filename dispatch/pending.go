package dispatch

import (
	"sort"

	"github.com/0xmhha/job-indexer/job"
)

// parked is an event waiting for its predecessor
type parked struct {
	ev       *job.Event
	attempts int
}

// pendingQueue holds one lane's parked events, grouped by job id and kept in
// emission order within each id. It is owned by the lane goroutine.
type pendingQueue struct {
	byID map[uint64][]*parked
	size int
	max  int
}

func newPendingQueue(max int) *pendingQueue {
	return &pendingQueue{byID: make(map[uint64][]*parked), max: max}
}

func (p *pendingQueue) has(id uint64) bool {
	return len(p.byID[id]) > 0
}

func (p *pendingQueue) full() bool {
	return p.size >= p.max
}

// contains reports whether the same delivery is already parked
func (p *pendingQueue) contains(ev *job.Event) bool {
	for _, pe := range p.byID[ev.JobID] {
		if pe.ev.Type == ev.Type && pe.ev.Position == ev.Position {
			return true
		}
	}
	return false
}

// add inserts ev behind every parked event of the same id emitted before it
func (p *pendingQueue) add(ev *job.Event) {
	list := p.byID[ev.JobID]
	i := sort.Search(len(list), func(i int) bool {
		return ev.Position.Before(list[i].ev.Position)
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &parked{ev: ev}
	p.byID[ev.JobID] = list
	p.size++
}

func (p *pendingQueue) head(id uint64) *parked {
	list := p.byID[id]
	if len(list) == 0 {
		return nil
	}
	return list[0]
}

func (p *pendingQueue) popHead(id uint64) {
	list := p.byID[id]
	if len(list) == 0 {
		return
	}
	list[0] = nil
	if len(list) == 1 {
		delete(p.byID, id)
	} else {
		p.byID[id] = list[1:]
	}
	p.size--
}

// ids returns the parked job ids in ascending order
func (p *pendingQueue) ids() []uint64 {
	out := make([]uint64, 0, len(p.byID))
	for id := range p.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
