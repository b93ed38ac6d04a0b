package indexer

import "sync"

// Watermark tracks which blocks are safe to record in the cursor.
//
// A block is safe once every event dispatched from it, and from every block
// below it, is resolved, and a scan has covered it.
type Watermark struct {
	mu         sync.Mutex
	inflight   map[uint64]int
	covered    uint64
	hasCovered bool
}

// NewWatermark creates an empty Watermark
func NewWatermark() *Watermark {
	return &Watermark{inflight: make(map[uint64]int)}
}

// Track records an unresolved event at block
func (w *Watermark) Track(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[block]++
}

// Resolve marks one tracked event at block as resolved
func (w *Watermark) Resolve(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, ok := w.inflight[block]
	if !ok {
		return
	}
	if n <= 1 {
		delete(w.inflight, block)
	} else {
		w.inflight[block] = n - 1
	}
}

// Cover records that every event at or below block has been tracked.
// Lower values are ignored.
func (w *Watermark) Cover(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasCovered || block > w.covered {
		w.covered = block
		w.hasCovered = true
	}
}

// Covered returns the highest covered block
func (w *Watermark) Covered() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.covered, w.hasCovered
}

// Value returns min(lowest unresolved block - 1, highest covered block).
// It reports false when no block is safe yet.
func (w *Watermark) Value() (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.hasCovered {
		return 0, false
	}
	value := w.covered
	for block := range w.inflight {
		if block == 0 {
			return 0, false
		}
		if block-1 < value {
			value = block - 1
		}
	}
	return value, true
}

// Unresolved returns the number of tracked events not yet resolved
func (w *Watermark) Unresolved() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := 0
	for _, n := range w.inflight {
		total += n
	}
	return total
}
