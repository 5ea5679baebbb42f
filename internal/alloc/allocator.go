package alloc

import (
	"sync"

	"github.com/zeebo/errs"
)

// Error classes.
var (
	// ErrExhausted is returned when an allocation does not fit the
	// configured capacity.
	ErrExhausted = errs.Class("file space exhausted")

	// ErrBadFree is returned when a freed block was never allocated or
	// overlaps live space.
	ErrBadFree = errs.Class("bad free")
)

// Allocator manages file-space offsets. Freed blocks are reused best-fit;
// otherwise allocations append at the end-of-file address. Safe for
// concurrent use.
type Allocator struct {
	mu sync.Mutex

	// eofAddr is the next append address.
	eofAddr uint64

	// baseAddr is the lowest allocatable address.
	baseAddr uint64

	// limitAddr caps file growth; zero means unlimited.
	limitAddr uint64

	// live tracks every outstanding allocation, for Validate.
	live []block

	// freeBlocks holds reusable space, kept address-sorted and merged.
	freeBlocks []block

	stats Stats
}

type block struct {
	Addr uint64
	Size uint64
}

// Stats contains allocation statistics.
type Stats struct {
	TotalAllocations uint64
	TotalBytesAlloc  uint64
	TotalBytesFreed  uint64
	ReusedBlocks     uint64
	LargestAlloc     uint64
}

// New creates an Allocator starting at the given base address with
// unlimited capacity.
func New(baseAddr uint64) *Allocator {
	return &Allocator{eofAddr: baseAddr, baseAddr: baseAddr}
}

// NewLimited creates an Allocator that refuses to grow past limit bytes of
// total file space above base.
func NewLimited(baseAddr, limit uint64) *Allocator {
	return &Allocator{eofAddr: baseAddr, baseAddr: baseAddr, limitAddr: baseAddr + limit}
}

// Allocate returns the address of a block of the given size.
func (a *Allocator) Allocate(size uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		return a.eofAddr, nil
	}

	// Best-fit over the free list.
	best := -1
	for i, f := range a.freeBlocks {
		if f.Size < size {
			continue
		}
		if best < 0 || f.Size < a.freeBlocks[best].Size {
			best = i
		}
	}
	var addr uint64
	if best >= 0 {
		f := &a.freeBlocks[best]
		addr = f.Addr
		f.Addr += size
		f.Size -= size
		if f.Size == 0 {
			a.freeBlocks = append(a.freeBlocks[:best], a.freeBlocks[best+1:]...)
		}
		a.stats.ReusedBlocks++
	} else {
		if a.limitAddr != 0 && a.eofAddr+size > a.limitAddr {
			return 0, ErrExhausted.New("need %d bytes, %d available", size, a.limitAddr-a.eofAddr)
		}
		addr = a.eofAddr
		a.eofAddr += size
	}

	a.live = append(a.live, block{Addr: addr, Size: size})
	a.stats.TotalAllocations++
	a.stats.TotalBytesAlloc += size
	if size > a.stats.LargestAlloc {
		a.stats.LargestAlloc = size
	}
	return addr, nil
}

// Free returns a block to the allocator. Partial frees of a tail are
// allowed: a chunk that shrinks in place frees only the bytes past its new
// size.
func (a *Allocator) Free(addr, size uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if size == 0 {
		return nil
	}
	if addr < a.baseAddr || addr+size > a.eofAddr {
		return ErrBadFree.New("[0x%X, 0x%X) outside allocated space", addr, addr+size)
	}
	if !a.shrinkLive(addr, size) {
		return ErrBadFree.New("[0x%X, 0x%X) does not match an allocation", addr, addr+size)
	}

	a.freeBlocks = append(a.freeBlocks, block{Addr: addr, Size: size})
	a.mergeFree()
	a.stats.TotalBytesFreed += size
	return nil
}

// shrinkLive removes [addr, addr+size) from the live set. The range must
// be the whole of one live block, or a prefix or suffix of one.
func (a *Allocator) shrinkLive(addr, size uint64) bool {
	for i := range a.live {
		b := &a.live[i]
		if addr < b.Addr || addr+size > b.Addr+b.Size {
			continue
		}
		switch {
		case addr == b.Addr && size == b.Size:
			a.live = append(a.live[:i], a.live[i+1:]...)
		case addr == b.Addr:
			b.Addr += size
			b.Size -= size
		case addr+size == b.Addr+b.Size:
			b.Size -= size
		default:
			// Freeing the middle splits the block.
			tail := block{Addr: addr + size, Size: b.Addr + b.Size - (addr + size)}
			b.Size = addr - b.Addr
			a.live = append(a.live, tail)
		}
		return true
	}
	return false
}

// mergeFree keeps the free list address-sorted with adjacent blocks merged,
// and lets free space at the end of the file shrink it.
func (a *Allocator) mergeFree() {
	for i := 0; i < len(a.freeBlocks); i++ {
		for j := i + 1; j < len(a.freeBlocks); j++ {
			if a.freeBlocks[j].Addr < a.freeBlocks[i].Addr {
				a.freeBlocks[i], a.freeBlocks[j] = a.freeBlocks[j], a.freeBlocks[i]
			}
		}
	}
	out := a.freeBlocks[:0]
	for _, f := range a.freeBlocks {
		if n := len(out); n > 0 && out[n-1].Addr+out[n-1].Size == f.Addr {
			out[n-1].Size += f.Size
			continue
		}
		out = append(out, f)
	}
	if n := len(out); n > 0 && out[n-1].Addr+out[n-1].Size == a.eofAddr {
		a.eofAddr = out[n-1].Addr
		out = out[:n-1]
	}
	a.freeBlocks = out
}

// EOFAddr returns the current end-of-file address.
func (a *Allocator) EOFAddr() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eofAddr
}

// BaseAddr returns the start of allocatable space.
func (a *Allocator) BaseAddr() uint64 { return a.baseAddr }

// Stats returns a copy of the allocation statistics.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// FreeBytes returns the total reusable space on the free list.
func (a *Allocator) FreeBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var n uint64
	for _, f := range a.freeBlocks {
		n += f.Size
	}
	return n
}

// Validate checks that live allocations are within bounds and do not
// overlap each other or the free list.
func (a *Allocator) Validate() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, b := range a.live {
		if b.Addr < a.baseAddr {
			return errs.New("allocation at 0x%X is before base address 0x%X", b.Addr, a.baseAddr)
		}
		if b.Addr+b.Size > a.eofAddr {
			return errs.New("allocation at 0x%X size %d extends past EOF 0x%X", b.Addr, b.Size, a.eofAddr)
		}
	}
	overlap := func(x, y block) bool {
		return x.Addr < y.Addr+y.Size && y.Addr < x.Addr+x.Size
	}
	for i := 0; i < len(a.live); i++ {
		for j := i + 1; j < len(a.live); j++ {
			if overlap(a.live[i], a.live[j]) {
				return errs.New("overlapping allocations at 0x%X and 0x%X", a.live[i].Addr, a.live[j].Addr)
			}
		}
		for _, f := range a.freeBlocks {
			if overlap(a.live[i], f) {
				return errs.New("allocation at 0x%X overlaps free block at 0x%X", a.live[i].Addr, f.Addr)
			}
		}
	}
	return nil
}
