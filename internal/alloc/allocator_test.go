package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorAppends(t *testing.T) {
	a := New(1024)

	addr1, err := a.Allocate(100)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), addr1)

	addr2, err := a.Allocate(200)
	require.NoError(t, err)
	require.Equal(t, uint64(1124), addr2)

	require.Equal(t, uint64(1324), a.EOFAddr())
	require.NoError(t, a.Validate())
}

func TestAllocatorReusesFreedBlocks(t *testing.T) {
	a := New(0)

	addr1, err := a.Allocate(64)
	require.NoError(t, err)
	_, err = a.Allocate(64)
	require.NoError(t, err)

	require.NoError(t, a.Free(addr1, 64))

	// A fitting allocation lands in the hole, not at EOF.
	addr3, err := a.Allocate(48)
	require.NoError(t, err)
	require.Equal(t, addr1, addr3)
	require.NoError(t, a.Validate())
	require.Equal(t, uint64(1), a.Stats().ReusedBlocks)
}

func TestAllocatorBestFit(t *testing.T) {
	a := New(0)

	big, err := a.Allocate(128)
	require.NoError(t, err)
	keep, err := a.Allocate(16)
	require.NoError(t, err)
	small, err := a.Allocate(32)
	require.NoError(t, err)
	_, err = a.Allocate(16)
	require.NoError(t, err)
	_ = keep

	require.NoError(t, a.Free(big, 128))
	require.NoError(t, a.Free(small, 32))

	// 32-byte hole wins over the 128-byte one.
	got, err := a.Allocate(24)
	require.NoError(t, err)
	require.Equal(t, small, got)
}

func TestAllocatorTailFree(t *testing.T) {
	a := New(0)

	addr, err := a.Allocate(100)
	require.NoError(t, err)

	// A chunk shrinking in place frees only its tail.
	require.NoError(t, a.Free(addr+60, 40))
	require.NoError(t, a.Validate())

	got, err := a.Allocate(40)
	require.NoError(t, err)
	require.Equal(t, addr+60, got)
}

func TestAllocatorLimit(t *testing.T) {
	a := NewLimited(0, 128)

	addr, err := a.Allocate(100)
	require.NoError(t, err)

	_, err = a.Allocate(64)
	require.True(t, ErrExhausted.Has(err))

	// Freed space is still reusable under the limit.
	require.NoError(t, a.Free(addr, 100))
	_, err = a.Allocate(64)
	require.NoError(t, err)
}

func TestAllocatorBadFree(t *testing.T) {
	a := New(0)

	_, err := a.Allocate(32)
	require.NoError(t, err)

	require.True(t, ErrBadFree.Has(a.Free(1000, 8)))
	require.True(t, ErrBadFree.Has(a.Free(0, 64)))
}

func TestAllocatorMergesAdjacentFrees(t *testing.T) {
	a := New(0)

	addr1, err := a.Allocate(32)
	require.NoError(t, err)
	addr2, err := a.Allocate(32)
	require.NoError(t, err)
	_, err = a.Allocate(32)
	require.NoError(t, err)

	require.NoError(t, a.Free(addr1, 32))
	require.NoError(t, a.Free(addr2, 32))

	// The two holes merge; a 64-byte allocation fits.
	got, err := a.Allocate(64)
	require.NoError(t, err)
	require.Equal(t, addr1, got)
}

func TestAllocatorFreeAtEOFShrinksFile(t *testing.T) {
	a := New(0)

	_, err := a.Allocate(32)
	require.NoError(t, err)
	addr2, err := a.Allocate(32)
	require.NoError(t, err)

	require.NoError(t, a.Free(addr2, 32))
	require.Equal(t, uint64(32), a.EOFAddr())
}
