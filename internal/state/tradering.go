package state

// tradeRing is a fixed-capacity FIFO set of trade IDs. Insertion evicts the
// oldest member once capacity is reached; membership tests are O(1).
type tradeRing struct {
	ids      []string
	next     int // slot the next insertion overwrites, once full
	capacity int
	set      map[string]struct{}
}

func newTradeRing(capacity int) *tradeRing {
	if capacity < 1 {
		capacity = 1
	}
	return &tradeRing{
		ids:      make([]string, 0, capacity),
		capacity: capacity,
		set:      make(map[string]struct{}, capacity),
	}
}

func (r *tradeRing) has(id string) bool {
	_, ok := r.set[id]
	return ok
}

// add inserts the ID, evicting the oldest entry when full. Known IDs are a
// no-op so repeated adds never evict anything extra.
func (r *tradeRing) add(id string) {
	if r.has(id) {
		return
	}
	if len(r.ids) < r.capacity {
		r.ids = append(r.ids, id)
	} else {
		delete(r.set, r.ids[r.next])
		r.ids[r.next] = id
		r.next = (r.next + 1) % r.capacity
	}
	r.set[id] = struct{}{}
}

// ordered returns the IDs oldest first, for persistence.
func (r *tradeRing) ordered() []string {
	out := make([]string, 0, len(r.ids))
	if len(r.ids) < r.capacity {
		return append(out, r.ids...)
	}
	out = append(out, r.ids[r.next:]...)
	return append(out, r.ids[:r.next]...)
}
