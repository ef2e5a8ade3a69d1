package issuer

// ring is a bounded buffer of history entries. When full, the oldest entry is
// dropped to make room. Not safe for concurrent use; the Issuer's lock guards
// all access.
type ring struct {
	entries  []HistoryEntry
	head     int // next write position
	tail     int // next read position
	count    int
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{
		entries:  make([]HistoryEntry, capacity),
		capacity: capacity,
	}
}

func (r *ring) append(entry HistoryEntry) {
	if r.count >= r.capacity {
		r.tail = (r.tail + 1) % r.capacity
		r.count--
	}
	r.entries[r.head] = entry
	r.head = (r.head + 1) % r.capacity
	r.count++
}

// markActive transitions every active entry to the given status. Used on
// rotation (expired) and stop (stopped).
func (r *ring) markActive(status EntryStatus) {
	for n, idx := 0, r.tail; n < r.count; n, idx = n+1, (idx+1)%r.capacity {
		if r.entries[idx].Status == StatusActive {
			r.entries[idx].Status = status
		}
	}
}

// snapshot returns the entries oldest first.
func (r *ring) snapshot() []HistoryEntry {
	out := make([]HistoryEntry, 0, r.count)
	for n, idx := 0, r.tail; n < r.count; n, idx = n+1, (idx+1)%r.capacity {
		out = append(out, r.entries[idx])
	}
	return out
}

func (r *ring) len() int { return r.count }
