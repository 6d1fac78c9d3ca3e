package host

import (
	"sync"
)

// Handle is an opaque fixed-size reference to a host-owned object, used by
// the proxy strategy. Handle 0 is reserved and always invalid. The low 32
// bits index the table, the high 32 bits carry the slot's generation so a
// reused slot never validates a handle minted for its previous occupant.
type Handle uint64

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index))
}

func (h Handle) index() uint32 { return uint32(h) }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

type tableEntry struct {
	value Object
	class string
	gen   uint32
	valid bool
}

// Table maps proxy handles to host objects. It holds no ownership: the
// host invalidates a handle when it reclaims or moves the referent, and
// any later access through that handle misses instead of reading reused
// memory.
type Table struct {
	entries  []tableEntry
	freeList []uint32
	mu       sync.RWMutex
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{
		entries:  make([]tableEntry, 0, 64),
		freeList: make([]uint32, 0, 16),
	}
}

// Insert registers a host object and returns its handle.
func (t *Table) Insert(className string, value Object) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := tableEntry{
		value: value,
		class: className,
		valid: true,
	}

	if len(t.freeList) > 0 {
		idx := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		e.gen = t.entries[idx-1].gen + 1
		t.entries[idx-1] = e
		return makeHandle(idx, e.gen)
	}

	t.entries = append(t.entries, e)
	return makeHandle(uint32(len(t.entries)), 0)
}

// Get retrieves the referent, or reports false for an invalid or stale
// handle.
func (t *Table) Get(h Handle) (Object, bool) {
	if h == 0 {
		return nil, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := h.index()
	if idx == 0 || int(idx) > len(t.entries) {
		return nil, false
	}

	e := t.entries[idx-1]
	if !e.valid || e.gen != h.gen() {
		return nil, false
	}
	return e.value, true
}

// Class returns the class name the handle was inserted under.
func (t *Table) Class(h Handle) (string, bool) {
	if h == 0 {
		return "", false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := h.index()
	if idx == 0 || int(idx) > len(t.entries) {
		return "", false
	}

	e := t.entries[idx-1]
	if !e.valid || e.gen != h.gen() {
		return "", false
	}
	return e.class, true
}

// Invalidate severs the handle from its referent. The host calls this when
// it reclaims or moves the object. Invalidating an already-stale handle is
// a no-op.
func (t *Table) Invalidate(h Handle) {
	if h == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := h.index()
	if idx == 0 || int(idx) > len(t.entries) {
		return
	}

	e := &t.entries[idx-1]
	if !e.valid || e.gen != h.gen() {
		return
	}
	e.valid = false
	e.value = nil
	t.freeList = append(t.freeList, idx)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, e := range t.entries {
		if e.valid {
			n++
		}
	}
	return n
}

// Clear invalidates every live handle.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].valid {
			t.entries[i].valid = false
			t.entries[i].value = nil
			t.freeList = append(t.freeList, uint32(i+1))
		}
	}
}
