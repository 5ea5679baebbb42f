package ohdr

import (
	"encoding/binary"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/robert-malhotra/go-ohdr/internal/alloc"
	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
	"github.com/robert-malhotra/go-ohdr/internal/cache"
	"github.com/robert-malhotra/go-ohdr/message"
)

// env bundles a backing store, a cache over it, and an allocator.
type env struct {
	store *cache.MemStore
	c     *cache.Memory
	a     *alloc.Allocator
}

func newEnv(t *testing.T) *env {
	store := cache.NewMemStore()
	return &env{
		store: store,
		c:     cache.NewMemory(store, zaptest.NewLogger(t)),
		a:     alloc.New(0),
	}
}

func testConfig(t *testing.T) Config {
	return Config{Logger: zaptest.NewLogger(t)}
}

// rawMsg is a message for hand-built chunk images.
type rawMsg struct {
	typ   message.Type
	flags uint8
	body  []byte
}

// buildV2 assembles a version 2 chunk 0 image: no times, no phase-change
// values, 2-byte size field, plus gap bytes of trailing space.
func buildV2(msgs []rawMsg, gap int) []byte {
	var body []byte
	for _, m := range msgs {
		hdr := make([]byte, 4)
		hdr[0] = byte(m.typ)
		binary.LittleEndian.PutUint16(hdr[1:3], uint16(len(m.body)))
		hdr[3] = m.flags
		body = append(body, hdr...)
		body = append(body, m.body...)
	}
	body = append(body, make([]byte, gap)...)

	img := []byte{'O', 'H', 'D', 'R', 2, 0x01}
	var sz [2]byte
	binary.LittleEndian.PutUint16(sz[:], uint16(len(body)))
	img = append(img, sz[:]...)
	img = append(img, body...)
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], binpkg.Lookup3(img))
	return append(img, sum[:]...)
}

// buildOCHK assembles a version 2 continuation chunk image.
func buildOCHK(msgs []rawMsg, gap int) []byte {
	img := []byte{'O', 'C', 'H', 'K'}
	for _, m := range msgs {
		hdr := make([]byte, 4)
		hdr[0] = byte(m.typ)
		binary.LittleEndian.PutUint16(hdr[1:3], uint16(len(m.body)))
		hdr[3] = m.flags
		img = append(img, hdr...)
		img = append(img, m.body...)
	}
	img = append(img, make([]byte, gap)...)
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], binpkg.Lookup3(img))
	return append(img, sum[:]...)
}

// buildV1 assembles a version 1 header image. Message bodies must already
// be 8-byte multiples.
func buildV1(declared int, nlink uint32, msgs []rawMsg) []byte {
	var body []byte
	for _, m := range msgs {
		hdr := make([]byte, 8)
		binary.LittleEndian.PutUint16(hdr[0:2], uint16(m.typ))
		binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(m.body)))
		hdr[4] = m.flags
		body = append(body, hdr...)
		body = append(body, m.body...)
	}
	img := make([]byte, v1PrefixSize)
	img[0] = 1
	binary.LittleEndian.PutUint16(img[2:4], uint16(declared))
	binary.LittleEndian.PutUint32(img[4:8], nlink)
	binary.LittleEndian.PutUint32(img[8:12], uint32(len(body)))
	return append(img, body...)
}

func checksumOf(data []byte) []byte {
	var sum [4]byte
	binary.LittleEndian.PutUint32(sum[:], binpkg.Lookup3(data))
	return sum[:]
}

// dsBody encodes a version 2 simple dataspace body for the given dims, or
// a scalar one with none.
func dsBody(dims ...uint64) []byte {
	body := []byte{2, byte(len(dims)), 0, 0}
	if len(dims) > 0 {
		body[3] = byte(message.DataspaceSimple)
	}
	for _, d := range dims {
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], d)
		body = append(body, b[:]...)
	}
	return body
}

// modTimeBody encodes a modification time body.
func modTimeBody(secs uint32) []byte {
	body := make([]byte, 8)
	body[0] = 1
	binary.LittleEndian.PutUint32(body[4:], secs)
	return body
}

// contBody encodes a continuation body with 8-byte offsets and lengths.
func contBody(addr, length uint64) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint64(body[0:8], addr)
	binary.LittleEndian.PutUint64(body[8:16], length)
	return body
}

func ds(dims ...uint64) *message.Dataspace {
	m := &message.Dataspace{SpaceType: message.DataspaceScalar}
	if len(dims) > 0 {
		m.SpaceType = message.DataspaceSimple
		m.Dimensions = append([]uint64(nil), dims...)
	}
	return m
}

// slotView is the comparable shape of a message slot, for asserting that a
// failed operation left the table untouched.
type slotView struct {
	ID      message.Type
	Chunk   int
	Raw     int
	RawSize int
}

func snapshot(h *Header) []slotView {
	out := make([]slotView, len(h.mesgs))
	for i := range h.mesgs {
		m := &h.mesgs[i]
		out[i] = slotView{ID: m.id, Chunk: m.chunkno, Raw: m.raw, RawSize: m.rawSize}
	}
	return out
}
