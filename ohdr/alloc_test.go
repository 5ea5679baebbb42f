package ohdr

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/robert-malhotra/go-ohdr/internal/alloc"
	"github.com/robert-malhotra/go-ohdr/internal/cache"
	"github.com/robert-malhotra/go-ohdr/message"
)

func newTestHeader(t *testing.T, e *env, sizeHint int) *Header {
	h, err := New(e.c, e.a, Config{SizeHint: sizeHint, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return h
}

func TestAppendSplitsNullMessage(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	idx, err := h.Append(message.TypeDataspace, 0, ds(3, 4))
	require.NoError(t, err)
	require.Equal(t, 20, h.mesgs[idx].rawSize)

	// The 60-byte null was carved into the message plus a 36-byte null.
	require.Len(t, h.mesgs, 2)
	require.Equal(t, 36, h.mesgs[1].rawSize)
	require.True(t, h.mesgs[1].isNull())
	require.Equal(t, 1, h.NumChunks())
	require.NoError(t, h.Validate())
}

func TestAppendExactFitAbsorbsRemainder(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	// 58 bytes leaves 2 free, too small for a message header: the message
	// absorbs it as padding.
	att := &message.Attribute{Name: "a", Data: make([]byte, 58-11)}
	need := h.alignRaw(message.Lookup(message.TypeAttribute).RawSize(att, h.format()))
	require.Equal(t, 58, need)

	idx, err := h.Append(message.TypeAttribute, 0, att)
	require.NoError(t, err)
	require.Equal(t, 60, h.mesgs[idx].rawSize)
	require.Len(t, h.mesgs, 1)
	require.NoError(t, h.Validate())
}

func TestAppendAllocatesContinuationChunk(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	_, err := h.Append(message.TypeDataspace, 0, ds(3, 4))
	require.NoError(t, err)

	// Rank 5 needs 44 bytes; the remaining 36-byte null cannot hold it,
	// but can home the continuation message.
	idx, err := h.Append(message.TypeDataspace, 0, ds(1, 2, 3, 4, 5))
	require.NoError(t, err)

	require.Equal(t, 2, h.NumChunks())
	require.Equal(t, 1, h.mesgs[idx].chunkno)
	require.Equal(t, 1, h.Count(message.TypeContinuation))

	cn, ok, err := h.First(message.TypeContinuation)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 1, cn.(*message.Continuation).Chunk)
	require.Equal(t, 0, h.mesgs[h.findType(message.TypeContinuation, 0)].chunkno)
	require.Equal(t, uint64(h.ChunkSize(1)), cn.(*message.Continuation).Length)
	require.NoError(t, h.Validate())
	require.NoError(t, e.a.Validate())
}

func TestAppendRelocatesMessageForContinuation(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	// Fill chunk 0 so no null can home a continuation message.
	first, err := h.Append(message.TypeDataspace, 0, ds(1, 2, 3, 4, 5)) // 44 bytes
	require.NoError(t, err)
	_, err = h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: 1}) // 8 bytes, null now 0
	require.NoError(t, err)

	idx, err := h.Append(message.TypeDataspace, 0, ds(9, 9, 9)) // 28 bytes
	require.NoError(t, err)

	// The large dataspace moved to the new chunk; its old span in chunk 0
	// now holds the continuation message.
	require.Equal(t, 2, h.NumChunks())
	require.Equal(t, 1, h.mesgs[first].chunkno)
	require.Equal(t, 1, h.mesgs[idx].chunkno)
	require.Equal(t, 0, h.mesgs[h.findType(message.TypeContinuation, 0)].chunkno)
	require.NoError(t, h.Validate())
}

func TestRemoveLastMessageInChunkDropsChunk(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	_, err := h.Append(message.TypeDataspace, 0, ds(3, 4))
	require.NoError(t, err)
	_, err = h.Append(message.TypeDataspace, 0, ds(1, 2, 3, 4, 5))
	require.NoError(t, err)
	require.Equal(t, 2, h.NumChunks())
	eofBefore := e.a.EOFAddr()

	// Removing the only live message in chunk 1 removes the chunk, nulls
	// the continuation message, and merges the nulls around it.
	require.NoError(t, h.Remove(message.TypeDataspace, 1, nil, false))

	require.Equal(t, 1, h.NumChunks())
	require.Equal(t, 0, h.Count(message.TypeContinuation))
	require.Len(t, h.mesgs, 2) // dataspace plus one merged null
	require.NoError(t, h.Validate())
	require.NoError(t, e.a.Validate())
	require.Less(t, e.a.EOFAddr(), eofBefore)
}

func TestOutOfSpaceLeavesHeaderUnchanged(t *testing.T) {
	store := cache.NewMemStore()
	e := &env{
		store: store,
		c:     cache.NewMemory(store, zaptest.NewLogger(t)),
		a:     alloc.NewLimited(0, 128),
	}
	h, err := New(e.c, e.a, Config{SizeHint: 64, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	_, err = h.Append(message.TypeDataspace, 0, ds(1, 2, 3, 4, 5))
	require.NoError(t, err)

	before := snapshot(h)
	_, err = h.Append(message.TypeDataspace, 0, ds(5, 4, 3, 2, 1))
	require.True(t, ErrOutOfSpace.Has(err))
	require.Equal(t, before, snapshot(h))
	require.Equal(t, 1, h.NumChunks())
	require.NoError(t, h.Validate())
}

func TestCondenseCompactsAndShrinks(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	_, err := h.Append(message.TypeDataspace, 0, ds(3, 4))
	require.NoError(t, err)
	_, err = h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: 1})
	require.NoError(t, err)
	_, err = h.Append(message.TypeDataspace, 0, ds(7, 8))
	require.NoError(t, err)
	require.NoError(t, h.Remove(message.TypeObjectModTime, 0, nil, false))

	sizeBefore := h.ChunkSize(0)
	require.NoError(t, h.Condense())

	require.Equal(t, 0, h.NullCount())
	for i := range h.mesgs {
		require.False(t, h.mesgs[i].isNull())
	}
	require.Less(t, h.ChunkSize(0), sizeBefore)
	require.Equal(t, 0, h.chunks[0].gap)
	require.NoError(t, h.Validate())
	require.NoError(t, e.a.Validate())

	// A second pass has nothing left to do.
	sizeAfter := h.ChunkSize(0)
	require.NoError(t, h.Condense())
	require.Equal(t, sizeAfter, h.ChunkSize(0))
}

func TestCondenseRemovesEmptiedChunks(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	_, err := h.Append(message.TypeDataspace, 0, ds(3, 4))
	require.NoError(t, err)
	idx, err := h.Append(message.TypeDataspace, 0, ds(1, 2, 3, 4, 5))
	require.NoError(t, err)
	require.Equal(t, 2, h.NumChunks())

	// Null the chunk 1 message without triggering the release-time sweep,
	// then let Condense find and remove the empty chunk.
	h.mesgs[idx].id = message.TypeNIL
	h.mesgs[idx].class = message.Lookup(message.TypeNIL)
	h.mesgs[idx].native = nil
	h.mesgs[idx].dirty = true

	require.NoError(t, h.Condense())
	require.Equal(t, 1, h.NumChunks())
	require.Equal(t, 0, h.Count(message.TypeContinuation))
	require.NoError(t, h.Validate())
}

func TestCondenseRespectsLockedMessages(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	_, err := h.Append(message.TypeDataspace, 0, ds(3, 4))
	require.NoError(t, err)
	_, err = h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: 1})
	require.NoError(t, err)
	locked, err := h.Append(message.TypeDataspace, 0, ds(7, 8))
	require.NoError(t, err)
	require.NoError(t, h.Lock(locked))
	require.NoError(t, h.Remove(message.TypeObjectModTime, 0, nil, false))

	rawBefore := h.mesgs[locked].raw
	require.NoError(t, h.Condense())

	// The null before the locked message cannot be squeezed out.
	require.Equal(t, rawBefore, h.mesgs[locked].raw)
	require.Equal(t, 1, h.NullCount())
	require.NoError(t, h.Validate())

	require.NoError(t, h.Unlock(locked))
	require.NoError(t, h.Condense())
	require.Equal(t, 0, h.NullCount())
}

func TestCreationIndexExhaustion(t *testing.T) {
	e := newEnv(t)
	h := newTestHeader(t, e, 64)

	h.nextCrtIdx = maxCreationIndex + 1
	_, err := h.Append(message.TypeObjectModTime, 0, &message.ModTime{Seconds: 1})
	require.True(t, ErrInvalidOp.Has(err))
}
