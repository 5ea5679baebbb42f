package ohdr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-ohdr/message"
)

func TestAppendRejectsBadArguments(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	_, err := h.Append(message.Type(0x0123), 0, ds(1))
	require.True(t, ErrInvalidOp.Has(err), "unregistered type")

	_, err = h.Append(message.TypeNIL, 0, ds(1))
	require.True(t, ErrInvalidOp.Has(err), "null messages are internal")

	_, err = h.Append(message.TypeContinuation, 0, &message.Continuation{})
	require.True(t, ErrInvalidOp.Has(err), "continuations are internal")

	_, err = h.Append(message.TypeDataspace, 0, nil)
	require.True(t, ErrInvalidOp.Has(err), "nil value")

	_, err = h.Append(message.TypeDataspace, 0, &message.ModTime{})
	require.True(t, ErrInvalidOp.Has(err), "type mismatch")

	_, err = h.Append(message.TypeObjectModTime, message.FlagShareable, &message.ModTime{Seconds: 1})
	require.True(t, ErrInvalidOp.Has(err), "mod time messages are not shareable")

	_, err = h.Append(message.TypeAttribute, message.FlagShareable, &message.Attribute{Name: "a"})
	require.True(t, ErrInvalidOp.Has(err), "incomplete attribute vetoed by its codec")

	require.Equal(t, 0, h.NumMessages())
}

func TestWriteMessageInPlace(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 96)
	idx, err := h.Append(message.TypeDataspace, 0, ds(5, 6))
	require.NoError(t, err)

	before, err := h.Info(idx)
	require.NoError(t, err)

	require.NoError(t, h.WriteMessage(idx, ds(7, 8)))
	after, err := h.Info(idx)
	require.NoError(t, err)
	require.Equal(t, before.RawSize, after.RawSize)
	require.Equal(t, before.CreationIndex, after.CreationIndex)
	require.True(t, after.Dirty)

	n, ok, err := h.First(message.TypeDataspace)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []uint64{7, 8}, n.(*message.Dataspace).Dimensions)
}

func TestWriteMessageRelocatesAndKeepsCreationOrder(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 96)
	idxA, err := h.Append(message.TypeDataspace, 0, ds(5))
	require.NoError(t, err)
	_, err = h.Append(message.TypeDataspace, 0, ds(5, 6))
	require.NoError(t, err)

	// Growing the first message does not fit its slot, so it moves to a
	// fresh slot behind the second one.
	require.NoError(t, h.WriteMessage(idxA, ds(1, 2, 3)))
	require.Equal(t, 1, h.NumChunks())

	var tableOrder, creationOrder [][]uint64
	collect := func(dst *[][]uint64) func(int, message.Native) (bool, error) {
		return func(idx int, n message.Native) (bool, error) {
			*dst = append(*dst, n.(*message.Dataspace).Dimensions)
			return false, nil
		}
	}
	require.NoError(t, h.Iterate(message.TypeDataspace, collect(&tableOrder)))
	require.NoError(t, h.IterateCreationOrder(message.TypeDataspace, collect(&creationOrder)))
	require.Equal(t, [][]uint64{{5, 6}, {1, 2, 3}}, tableOrder)
	require.Equal(t, [][]uint64{{1, 2, 3}, {5, 6}}, creationOrder)
}

func TestWriteMessageMakesSharedValuePrivate(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 96)
	idx, err := h.Append(message.TypeDataspace, message.FlagShared, ds(5, 6))
	require.NoError(t, err)

	// In place: same encoded size, shared state dropped through the codec.
	repl := ds(7, 8)
	repl.Sharing = message.Shared{Where: message.ShareInHeader, Index: 2}
	require.NoError(t, h.WriteMessage(idx, repl))
	info, err := h.Info(idx)
	require.NoError(t, err)
	require.Zero(t, info.Flags&message.FlagShared)
	require.Zero(t, repl.Sharing)

	idx2, err := h.Append(message.TypeDataspace, message.FlagShared, ds(1))
	require.NoError(t, err)

	// Relocation path: the bigger value moves to a new slot, still private.
	big := ds(1, 2, 3)
	big.Sharing = message.Shared{Where: message.ShareInHeader, Index: 4}
	require.NoError(t, h.WriteMessage(idx2, big))
	require.Zero(t, big.Sharing)
	found := false
	require.NoError(t, h.Iterate(message.TypeDataspace, func(i int, nv message.Native) (bool, error) {
		if dsm := nv.(*message.Dataspace); len(dsm.Dimensions) == 3 {
			mi, err := h.Info(i)
			require.NoError(t, err)
			require.Zero(t, mi.Flags&message.FlagShared)
			found = true
		}
		return false, nil
	}))
	require.True(t, found)
}

func TestWriteMessageRejectsConstant(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)
	idx, err := h.Append(message.TypeObjectModTime, message.FlagConstant, &message.ModTime{Seconds: 1})
	require.NoError(t, err)

	err = h.WriteMessage(idx, &message.ModTime{Seconds: 2})
	require.True(t, ErrInvalidOp.Has(err))
}

func TestRemoveBySequence(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 96)
	for secs := uint32(1); secs <= 3; secs++ {
		_, err := h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: secs})
		require.NoError(t, err)
	}

	require.NoError(t, h.Remove(message.TypeObjectModTime, 1, nil, false))
	require.Equal(t, 2, h.Count(message.TypeObjectModTime))

	var left []uint32
	err := h.Iterate(message.TypeObjectModTime, func(idx int, n message.Native) (bool, error) {
		left = append(left, n.(*message.ModTime).Seconds)
		return false, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{1, 3}, left)
}

func TestRemoveByPredicate(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 96)
	for secs := uint32(1); secs <= 3; secs++ {
		_, err := h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: secs})
		require.NoError(t, err)
	}

	err := h.Remove(message.TypeObjectModTime, AllSequences, func(n message.Native, seq int) bool {
		return n.(*message.ModTime).Seconds == 2
	}, false)
	require.NoError(t, err)
	require.Equal(t, 2, h.Count(message.TypeObjectModTime))
}

func TestRemoveAllSequences(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 96)
	for secs := uint32(1); secs <= 3; secs++ {
		_, err := h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: secs})
		require.NoError(t, err)
	}

	require.NoError(t, h.Remove(message.TypeObjectModTime, AllSequences, nil, false))
	require.Equal(t, 0, h.Count(message.TypeObjectModTime))

	// Removing from an empty set is not an error.
	require.NoError(t, h.Remove(message.TypeObjectModTime, 0, nil, false))
}

func TestReleaseByIndex(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 96)

	// The fresh header holds only its initial null slot.
	require.True(t, ErrInvalidOp.Has(h.Release(0, false)))

	idx, err := h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: 1})
	require.NoError(t, err)
	_, err = h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: 2})
	require.NoError(t, err)

	require.NoError(t, h.Release(idx, false))
	require.Equal(t, 1, h.Count(message.TypeObjectModTime))
	require.True(t, ErrInvalidOp.Has(h.Release(99, false)))
}

func TestRemoveRejectsInternalTypes(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)
	require.True(t, ErrInvalidOp.Has(h.Remove(message.TypeNIL, 0, nil, false)))
	require.True(t, ErrInvalidOp.Has(h.Remove(message.TypeContinuation, AllSequences, nil, false)))
}

func TestLockedMessageCannotBeRemoved(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)
	idx, err := h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: 1})
	require.NoError(t, err)
	require.NoError(t, h.Lock(idx))

	err = h.Remove(message.TypeObjectModTime, 0, nil, false)
	require.True(t, ErrInvalidOp.Has(err))

	require.NoError(t, h.Unlock(idx))
	require.NoError(t, h.Remove(message.TypeObjectModTime, 0, nil, false))
	require.Equal(t, 0, h.Count(message.TypeObjectModTime))
}

func TestFirstMissingType(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)
	n, ok, err := h.First(message.TypeAttribute)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, n)
}
