// Package binary provides low-level binary I/O over in-memory chunk images,
// with variable-width offset and length fields.
package binary

import (
	"encoding/binary"
	"errors"
)

// ErrShortImage is returned when a read or write would run past the end of
// the image.
var ErrShortImage = errors.New("read/write past end of image")

// Config holds the field widths and byte order used throughout one file.
type Config struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int // 2, 4, or 8 bytes
	LengthSize int // 2, 4, or 8 bytes
}

// DefaultConfig returns the configuration used by newly created files:
// little-endian byte order and 8-byte offsets/lengths.
func DefaultConfig() Config {
	return Config{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: 8,
		LengthSize: 8,
	}
}

// Reader decodes fields from a byte image. The image is not copied; the
// reader only holds a cursor into it.
type Reader struct {
	img []byte
	cfg Config
	pos int
}

// NewReader creates a reader over the given image.
func NewReader(img []byte, cfg Config) *Reader {
	return &Reader{img: img, cfg: cfg}
}

// At returns a new reader over the same image positioned at off.
func (r *Reader) At(off int) *Reader {
	return &Reader{img: r.img, cfg: r.cfg, pos: off}
}

// Pos returns the current read position.
func (r *Reader) Pos() int { return r.pos }

// Remaining returns the number of bytes left in the image.
func (r *Reader) Remaining() int { return len(r.img) - r.pos }

// Bytes reads exactly n bytes. The returned slice aliases the image.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.img) {
		return nil, ErrShortImage
	}
	b := r.img[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Peek returns the next n bytes without advancing the position.
func (r *Reader) Peek(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.img) {
		return nil, ErrShortImage
	}
	return r.img[r.pos : r.pos+n], nil
}

// Uint8 reads an unsigned 8-bit integer.
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads an unsigned 16-bit integer.
func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return r.cfg.ByteOrder.Uint16(b), nil
}

// Uint32 reads an unsigned 32-bit integer.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return r.cfg.ByteOrder.Uint32(b), nil
}

// Uint64 reads an unsigned 64-bit integer.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return r.cfg.ByteOrder.Uint64(b), nil
}

// UintN reads an unsigned integer of n bytes.
func (r *Reader) UintN(n int) (uint64, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return 0, err
	}
	return DecodeUint(b, n, r.cfg.ByteOrder), nil
}

// Offset reads a file offset using the configured offset size.
func (r *Reader) Offset() (uint64, error) {
	return r.UintN(r.cfg.OffsetSize)
}

// Length reads a length value using the configured length size.
func (r *Reader) Length() (uint64, error) {
	return r.UintN(r.cfg.LengthSize)
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) { r.pos += n }

// Align advances the position to the next multiple of alignment.
func (r *Reader) Align(alignment int) {
	if alignment <= 1 {
		return
	}
	if rem := r.pos % alignment; rem != 0 {
		r.pos += alignment - rem
	}
}

// Config returns the reader's field-width configuration.
func (r *Reader) Config() Config { return r.cfg }

// Writer encodes fields into a fixed-size byte image.
type Writer struct {
	img []byte
	cfg Config
	pos int
}

// NewWriter creates a writer over the given image. The image is written in
// place; the writer never grows it.
func NewWriter(img []byte, cfg Config) *Writer {
	return &Writer{img: img, cfg: cfg}
}

// At returns a new writer over the same image positioned at off.
func (w *Writer) At(off int) *Writer {
	return &Writer{img: w.img, cfg: w.cfg, pos: off}
}

// Pos returns the current write position.
func (w *Writer) Pos() int { return w.pos }

// PutBytes writes the given bytes at the current position.
func (w *Writer) PutBytes(b []byte) error {
	if w.pos+len(b) > len(w.img) {
		return ErrShortImage
	}
	copy(w.img[w.pos:], b)
	w.pos += len(b)
	return nil
}

// PutUint8 writes an unsigned 8-bit integer.
func (w *Writer) PutUint8(v uint8) error {
	return w.PutBytes([]byte{v})
}

// PutUint16 writes an unsigned 16-bit integer.
func (w *Writer) PutUint16(v uint16) error {
	var b [2]byte
	w.cfg.ByteOrder.PutUint16(b[:], v)
	return w.PutBytes(b[:])
}

// PutUint32 writes an unsigned 32-bit integer.
func (w *Writer) PutUint32(v uint32) error {
	var b [4]byte
	w.cfg.ByteOrder.PutUint32(b[:], v)
	return w.PutBytes(b[:])
}

// PutUint64 writes an unsigned 64-bit integer.
func (w *Writer) PutUint64(v uint64) error {
	var b [8]byte
	w.cfg.ByteOrder.PutUint64(b[:], v)
	return w.PutBytes(b[:])
}

// PutUintN writes an unsigned integer of n bytes.
func (w *Writer) PutUintN(v uint64, n int) error {
	b := make([]byte, n)
	EncodeUint(b, v, n, w.cfg.ByteOrder)
	return w.PutBytes(b)
}

// PutOffset writes a file offset using the configured offset size.
func (w *Writer) PutOffset(v uint64) error {
	return w.PutUintN(v, w.cfg.OffsetSize)
}

// PutLength writes a length value using the configured length size.
func (w *Writer) PutLength(v uint64) error {
	return w.PutUintN(v, w.cfg.LengthSize)
}

// PutZeros writes n zero bytes.
func (w *Writer) PutZeros(n int) error {
	if w.pos+n > len(w.img) {
		return ErrShortImage
	}
	for i := 0; i < n; i++ {
		w.img[w.pos+i] = 0
	}
	w.pos += n
	return nil
}

// Config returns the writer's field-width configuration.
func (w *Writer) Config() Config { return w.cfg }

// DecodeUint decodes a variable-width unsigned integer.
func DecodeUint(b []byte, size int, order binary.ByteOrder) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	default:
		// Non-standard widths are assumed little-endian.
		var v uint64
		for i := size - 1; i >= 0; i-- {
			v = (v << 8) | uint64(b[i])
		}
		return v
	}
}

// EncodeUint encodes a variable-width unsigned integer.
func EncodeUint(b []byte, v uint64, size int, order binary.ByteOrder) {
	switch size {
	case 1:
		b[0] = uint8(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	default:
		for i := 0; i < size; i++ {
			b[i] = byte(v >> (8 * i))
		}
	}
}

// UndefinedValue returns the "undefined" sentinel (all 1-bits) for a field
// of the given width.
func UndefinedValue(size int) uint64 {
	if size >= 8 {
		return 0xFFFFFFFFFFFFFFFF
	}
	return uint64(1<<(size*8)) - 1
}
