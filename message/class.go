package message

import (
	"fmt"
	"io"
)

// Message sharability settings for a class.
const (
	ShareNone     uint8 = 0x00
	ShareIsShared uint8 = 0x01 // values of this class may live in the shared table
	ShareInHeader uint8 = 0x02 // shared values may also be stored in a header
)

// Shared describes where a shared message value lives. It is managed by the
// shared-message table, which is external to this module; the codecs only
// record it.
type Shared struct {
	Where uint8
	Addr  uint64
	Index uint16
}

// Class describes one message type's codec capabilities. Absent capabilities
// are nil and treated as no-ops by the engine. The set of classes is
// data-driven so new message types can be added without touching the engine.
type Class struct {
	ID         Type
	Name       string
	ShareFlags uint8

	// Decode produces the native value from raw message bytes. The second
	// result reports whether decoding normalized an older encoding; such
	// messages must be re-encoded on the next flush even if never modified.
	Decode func(data []byte, flags uint8, f Format) (Native, bool, error)

	// Encode produces the raw message bytes for a native value.
	Encode func(n Native, f Format) ([]byte, error)

	// RawSize returns the encoded size of a native value, without any
	// message-header overhead or alignment padding.
	RawSize func(n Native, f Format) int

	// Copy returns a deep copy of a native value.
	Copy func(n Native) Native

	// Reset releases resources nested inside a native value.
	Reset func(n Native)

	// Delete releases file space referenced by a native value.
	Delete func(n Native) error

	// Link increments link counts of objects referenced by a native value.
	Link func(n Native) error

	CanShare func(n Native) bool
	SetShare func(n Native, s Shared) error

	GetCreationIndex func(n Native) (uint16, bool)
	SetCreationIndex func(n Native, idx uint16)

	// Debug dumps a native value for diagnostic tools.
	Debug func(n Native, w io.Writer)
}

// classes is the full codec table. Order does not matter; lookup goes
// through the map built in init.
var classes = []*Class{
	nilClass,
	dataspaceClass,
	linkInfoClass,
	linkClass,
	groupInfoClass,
	attributeClass,
	modTimeClass,
	continuationClass,
	refCountClass,
}

var classByID map[Type]*Class

func init() {
	classByID = make(map[Type]*Class, len(classes))
	for _, c := range classes {
		if _, dup := classByID[c.ID]; dup {
			panic(fmt.Sprintf("duplicate message class 0x%04X", uint16(c.ID)))
		}
		classByID[c.ID] = c
	}
}

// Lookup returns the codec class for a message type, or nil if the type is
// not registered. Callers handle nil as an opaque unknown message.
func Lookup(t Type) *Class {
	return classByID[t]
}

// Registered returns all registered codec classes.
func Registered() []*Class {
	out := make([]*Class, len(classes))
	copy(out, classes)
	return out
}
