package cache

import (
	"io"
	"sync"

	"github.com/zeebo/errs"
)

// ErrNotFound is returned when a store has no bytes at the requested
// address.
var ErrNotFound = errs.Class("address not in store")

// speculativeReadSize is how many bytes a speculative read returns when the
// caller does not know the entry size yet. Large enough for any header
// prefix.
const speculativeReadSize = 512

// Store is the backing byte store under a cache. ReadAt with size zero is
// a speculative read: the store returns whatever it has at addr, up to
// speculativeReadSize bytes.
type Store interface {
	ReadAt(addr uint64, size int) ([]byte, error)
	WriteAt(addr uint64, data []byte) error
}

// MemStore is a Store over an in-memory extent map, for tests and tools
// that assemble files by hand.
type MemStore struct {
	mu      sync.Mutex
	extents map[uint64][]byte
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{extents: make(map[uint64][]byte)}
}

// Seed places bytes at addr, as if they had been written earlier.
func (s *MemStore) Seed(addr uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extents[addr] = append([]byte(nil), data...)
}

// Bytes returns a copy of the extent at addr, or nil.
func (s *MemStore) Bytes(addr uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.extents[addr]...)
}

// ReadAt implements Store. Reads must start at an extent boundary.
func (s *MemStore) ReadAt(addr uint64, size int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.extents[addr]
	if !ok {
		return nil, ErrNotFound.New("0x%X", addr)
	}
	if size == 0 {
		if len(b) > speculativeReadSize {
			b = b[:speculativeReadSize]
		}
		return append([]byte(nil), b...), nil
	}
	if size > len(b) {
		return nil, ErrNotFound.New("0x%X: have %d of %d bytes", addr, len(b), size)
	}
	return append([]byte(nil), b[:size]...), nil
}

// WriteAt implements Store.
func (s *MemStore) WriteAt(addr uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extents[addr] = append([]byte(nil), data...)
	return nil
}

// ReaderStore adapts an io.ReaderAt (typically an open file) into a
// read-only Store for inspection tools.
type ReaderStore struct {
	r    io.ReaderAt
	size int64
}

// NewReaderStore wraps r, which holds size bytes.
func NewReaderStore(r io.ReaderAt, size int64) *ReaderStore {
	return &ReaderStore{r: r, size: size}
}

// ReadAt implements Store.
func (s *ReaderStore) ReadAt(addr uint64, size int) ([]byte, error) {
	if int64(addr) >= s.size {
		return nil, ErrNotFound.New("0x%X past end of file", addr)
	}
	n := size
	if n == 0 {
		n = speculativeReadSize
	}
	if int64(addr)+int64(n) > s.size {
		if size != 0 {
			return nil, ErrNotFound.New("0x%X: %d bytes past end of file", addr, size)
		}
		n = int(s.size - int64(addr))
	}
	buf := make([]byte, n)
	if _, err := s.r.ReadAt(buf, int64(addr)); err != nil {
		return nil, errs.Wrap(err)
	}
	return buf, nil
}

// WriteAt implements Store. ReaderStore is read-only.
func (s *ReaderStore) WriteAt(addr uint64, data []byte) error {
	return errs.New("store is read-only")
}
