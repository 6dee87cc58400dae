package trading

// DefaultDedupCapacity is the number of fill ids remembered for duplicate detection.
const DefaultDedupCapacity = 10000

// FillDedup is a bounded set of recently applied fill ids. When full, the
// oldest id is forgotten first. It is not safe for concurrent use.
type FillDedup struct {
	capacity int
	ids      []string
	start    int
	seen     map[string]struct{}
}

// NewFillDedup creates a dedup set holding at most capacity ids.
func NewFillDedup(capacity int) *FillDedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &FillDedup{
		capacity: capacity,
		ids:      make([]string, 0, min(capacity, 1024)),
		seen:     make(map[string]struct{}),
	}
}

// Seen reports whether id was recorded and not yet evicted.
func (d *FillDedup) Seen(id string) bool {
	_, ok := d.seen[id]
	return ok
}

// Add records id, evicting the oldest id when at capacity.
func (d *FillDedup) Add(id string) {
	if d.Seen(id) {
		return
	}
	if len(d.ids) < d.capacity {
		d.ids = append(d.ids, id)
	} else {
		delete(d.seen, d.ids[d.start])
		d.ids[d.start] = id
		d.start = (d.start + 1) % d.capacity
	}
	d.seen[id] = struct{}{}
}

// Len returns the number of ids held.
func (d *FillDedup) Len() int {
	return len(d.ids)
}

// IDs returns the held ids, oldest first.
func (d *FillDedup) IDs() []string {
	out := make([]string, 0, len(d.ids))
	for i := 0; i < len(d.ids); i++ {
		out = append(out, d.ids[(d.start+i)%len(d.ids)])
	}
	return out
}

// Reset replaces the contents with ids, oldest first. Only the newest
// capacity ids are kept.
func (d *FillDedup) Reset(ids []string) {
	d.ids = d.ids[:0]
	d.start = 0
	d.seen = make(map[string]struct{}, len(ids))
	if len(ids) > d.capacity {
		ids = ids[len(ids)-d.capacity:]
	}
	for _, id := range ids {
		d.Add(id)
	}
}
