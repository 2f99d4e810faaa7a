package cache

// recencyIndex is a fixed-capacity ring of recently inserted keys. It only
// bounds tracking metadata: dropping a key from the ring does not remove the
// tile itself. Not safe for concurrent use; the owning store serializes access.
type recencyIndex struct {
	keys []TileKey
	next int
	size int
}

func newRecencyIndex(capacity int) *recencyIndex {
	if capacity <= 0 {
		capacity = DefaultRecencyCapacity
	}
	return &recencyIndex{keys: make([]TileKey, capacity)}
}

// Add records a key, overwriting the oldest entry once the ring is full.
func (r *recencyIndex) Add(key TileKey) {
	r.keys[r.next] = key
	r.next = (r.next + 1) % len(r.keys)
	if r.size < len(r.keys) {
		r.size++
	}
}

// Contains reports whether key is still tracked.
func (r *recencyIndex) Contains(key TileKey) bool {
	for i := 0; i < r.size; i++ {
		if r.keys[i] == key {
			return true
		}
	}
	return false
}

// Len returns the number of tracked keys.
func (r *recencyIndex) Len() int {
	return r.size
}

// Keys returns the tracked keys, oldest first.
func (r *recencyIndex) Keys() []TileKey {
	out := make([]TileKey, 0, r.size)
	start := 0
	if r.size == len(r.keys) {
		start = r.next
	}
	for i := 0; i < r.size; i++ {
		out = append(out, r.keys[(start+i)%len(r.keys)])
	}
	return out
}
