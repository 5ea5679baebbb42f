package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// ErrDependency is returned for malformed flush-dependency operations:
// duplicate edges, unknown edges, or cycles at flush time.
var ErrDependency = errs.Class("flush dependency")

// cleanEntries bounds the LRU of clean images.
const cleanEntries = 64

// Memory is an in-memory metadata cache over a Store. It implements the
// Protect/Unprotect checkout protocol and tracks flush dependencies
// between entries. Safe for concurrent use, though callers serialize
// per-header access themselves.
type Memory struct {
	mu    sync.Mutex
	store Store
	log   *zap.Logger

	dirty map[uint64][]byte
	clean *lru.Cache[uint64, []byte]

	// parents maps a child address to the set of entries that must not
	// be written before it.
	parents map[uint64]map[uint64]bool

	stats CacheStats
}

// CacheStats counts cache traffic, mostly for tests asserting flush
// behavior.
type CacheStats struct {
	Protects     uint64
	StoreReads   uint64
	DirtyWrites  uint64 // dirty unprotects accepted
	StoreWrites  uint64 // entries written out by FlushAll
	CleanEvicted uint64
}

// NewMemory creates a cache over the given store.
func NewMemory(store Store, log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	clean, _ := lru.New[uint64, []byte](cleanEntries)
	return &Memory{
		store:   store,
		log:     log,
		dirty:   make(map[uint64][]byte),
		clean:   clean,
		parents: make(map[uint64]map[uint64]bool),
	}
}

// Protect returns the image at addr. Dirty entries win over clean ones;
// misses go to the store. The returned bytes must be treated as read-only.
func (m *Memory) Protect(addr, size uint64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Protects++

	if img, ok := m.dirty[addr]; ok {
		return img, nil
	}
	if img, ok := m.clean.Get(addr); ok && (size == 0 || uint64(len(img)) >= size) {
		return img, nil
	}
	img, err := m.store.ReadAt(addr, int(size))
	if err != nil {
		return nil, err
	}
	m.stats.StoreReads++
	if m.clean.Add(addr, img) {
		m.stats.CleanEvicted++
	}
	return img, nil
}

// Unprotect releases a checkout. With dirty set, image becomes the pending
// content of addr and stays in the cache until FlushAll writes it out.
func (m *Memory) Unprotect(addr uint64, image []byte, dirty bool) error {
	if !dirty {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty[addr] = append([]byte(nil), image...)
	m.clean.Remove(addr)
	m.stats.DirtyWrites++
	return nil
}

// Depend registers child as a flush dependency of parent: child must reach
// the store before parent. Registering an existing edge is an error;
// callers keep their own idempotence.
func (m *Memory) Depend(parent, child uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.parents[child][parent] {
		return ErrDependency.New("edge 0x%X -> 0x%X already registered", parent, child)
	}
	if m.parents[child] == nil {
		m.parents[child] = make(map[uint64]bool, 1)
	}
	m.parents[child][parent] = true
	return nil
}

// Undepend removes an edge added with Depend.
func (m *Memory) Undepend(parent, child uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.parents[child][parent] {
		return ErrDependency.New("edge 0x%X -> 0x%X not registered", parent, child)
	}
	delete(m.parents[child], parent)
	if len(m.parents[child]) == 0 {
		delete(m.parents, child)
	}
	return nil
}

// Edges returns every registered (parent, child) pair.
func (m *Memory) Edges() [][2]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][2]uint64
	for child, ps := range m.parents {
		for parent := range ps {
			out = append(out, [2]uint64{parent, child})
		}
	}
	return out
}

// FlushAll writes every dirty entry to the store, children before their
// parents. A dependency cycle among dirty entries is an error.
func (m *Memory) FlushAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.dirty) > 0 {
		wrote := false
		for addr, img := range m.dirty {
			if m.hasDirtyChildLocked(addr) {
				continue
			}
			if err := m.store.WriteAt(addr, img); err != nil {
				return errs.Wrap(err)
			}
			delete(m.dirty, addr)
			m.clean.Add(addr, img)
			m.stats.StoreWrites++
			wrote = true
		}
		if !wrote {
			return ErrDependency.New("cycle among %d dirty entries", len(m.dirty))
		}
	}
	return nil
}

// hasDirtyChildLocked reports whether any dirty entry names addr as a
// flush parent.
func (m *Memory) hasDirtyChildLocked(addr uint64) bool {
	for child, ps := range m.parents {
		if !ps[addr] {
			continue
		}
		if _, dirty := m.dirty[child]; dirty {
			return true
		}
	}
	return false
}

// DirtyCount returns the number of entries awaiting writeback.
func (m *Memory) DirtyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dirty)
}

// Stats returns a copy of the traffic counters.
func (m *Memory) Stats() CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
