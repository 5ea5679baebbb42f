// Package message defines the typed records stored inside object headers
// and the codec registry used to decode and encode them.
package message

import (
	"encoding/binary"
)

// Type represents a header message type ID as stored on disk.
type Type uint16

// Header message types
const (
	TypeNIL                Type = 0x0000
	TypeDataspace          Type = 0x0001
	TypeLinkInfo           Type = 0x0002
	TypeDatatype           Type = 0x0003
	TypeFillValueOld       Type = 0x0004
	TypeFillValue          Type = 0x0005
	TypeLink               Type = 0x0006
	TypeExternalDataFiles  Type = 0x0007
	TypeDataLayout         Type = 0x0008
	TypeBogus              Type = 0x0009
	TypeGroupInfo          Type = 0x000A
	TypeFilterPipeline     Type = 0x000B
	TypeAttribute          Type = 0x000C
	TypeObjectComment      Type = 0x000D
	TypeObjectModTimeOld   Type = 0x000E
	TypeSharedMessageTable Type = 0x000F
	TypeContinuation       Type = 0x0010
	TypeSymbolTable        Type = 0x0011
	TypeObjectModTime      Type = 0x0012
	TypeBTreeKValues       Type = 0x0013
	TypeDriverInfo         Type = 0x0014
	TypeAttributeInfo      Type = 0x0015
	TypeObjectRefCount     Type = 0x0016
)

// Message wire flags (the flags byte in each message header).
const (
	FlagConstant            uint8 = 0x01 // message may not be modified
	FlagShared              uint8 = 0x02 // message body is a shared-message pointer
	FlagDontShare           uint8 = 0x04 // message must never be shared
	FlagFailIfUnknownWrite  uint8 = 0x08 // fail on unknown type when file is writable
	FlagMarkIfUnknown       uint8 = 0x10 // mark message if type is unknown
	FlagWasUnknown          uint8 = 0x20 // message type was unknown to an earlier writer
	FlagShareable           uint8 = 0x40 // message may be moved to the shared table
	FlagFailIfUnknownAlways uint8 = 0x80 // fail on unknown type unconditionally
)

// Native is the decoded, in-memory value of a header message. A Native is
// exclusively owned by the message slot holding it.
type Native interface {
	Type() Type
}

// Format carries the field widths and byte order the codecs need to decode
// and encode file offsets and lengths.
type Format struct {
	ByteOrder  binary.ByteOrder
	OffsetSize int
	LengthSize int
}

// DefaultFormat returns the format used by newly created files:
// little-endian with 8-byte offsets and lengths.
func DefaultFormat() Format {
	return Format{
		ByteOrder:  binary.LittleEndian,
		OffsetSize: 8,
		LengthSize: 8,
	}
}

// UndefinedAddress is the sentinel for an absent file address (all 1-bits at
// 8-byte width).
const UndefinedAddress = ^uint64(0)
