package pipeline

import "sync"

// defaultDedupCap bounds the seen-set. When full, the older half is dropped;
// exact dedup only matters for recent redeliveries.
const defaultDedupCap = 1000

// Deduper remembers recently seen message ids to drop channel redeliveries.
type Deduper struct {
	mu    sync.Mutex
	seen  map[string]int64
	order int64
	cap   int
}

// NewDeduper creates a deduper holding up to capacity ids. Zero means the
// default of 1000.
func NewDeduper(capacity int) *Deduper {
	if capacity <= 0 {
		capacity = defaultDedupCap
	}
	return &Deduper{seen: map[string]int64{}, cap: capacity}
}

// Seen records the id and reports whether it was already present
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[id]; ok {
		return true
	}
	d.order++
	d.seen[id] = d.order

	if len(d.seen) > d.cap {
		cutoff := d.order - int64(d.cap/2)
		for k, v := range d.seen {
			if v < cutoff {
				delete(d.seen, k)
			}
		}
	}
	return false
}
