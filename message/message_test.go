package message

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Round trip every registered codec through encode and decode; equality is
// semantic, on the native value, since encoding may canonicalize padding.
func TestRoundTrip(t *testing.T) {
	f := DefaultFormat()

	tests := []struct {
		name   string
		native Native
	}{
		{"nil", &Nil{}},
		{"dataspace scalar", &Dataspace{SpaceType: DataspaceScalar}},
		{"dataspace simple", &Dataspace{
			SpaceType:  DataspaceSimple,
			Dimensions: []uint64{10, 20},
			MaxDims:    []uint64{10, UndefinedAddress},
		}},
		{"link info", &LinkInfo{
			Flags:              linkInfoTrackCorder,
			MaxCreationIndex:   41,
			FractalHeapAddr:    UndefinedAddress,
			NameIndexBTreeAddr: UndefinedAddress,
		}},
		{"group info", &GroupInfo{
			Flags:           groupInfoStorePhaseChange,
			MaxCompactLinks: 8,
			MinDenseLinks:   6,
		}},
		{"hard link", &Link{
			LinkType:      LinkTypeHard,
			Name:          "dset1",
			ObjectAddress: 0x1234,
			HasCorder:     true,
			CreationOrder: 7,
		}},
		{"soft link", &Link{
			LinkType:   LinkTypeSoft,
			Name:       "alias",
			SoftTarget: "/group/dset1",
		}},
		{"external link", &Link{
			LinkType:     LinkTypeExternal,
			Name:         "remote",
			ExternalFile: "other.h5",
			ExternalPath: "/group/dset2",
		}},
		{"attribute", &Attribute{
			Name:      "units",
			Datatype:  []byte{0x13, 0x00, 0x00, 0x00},
			Dataspace: []byte{0x02, 0x00, 0x00, 0x00},
			Data:      []byte("meters"),
		}},
		{"mod time", &ModTime{Seconds: 1700000000}},
		{"continuation", &Continuation{Addr: 0x2000, Length: 256}},
		{"ref count", &RefCount{Count: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class := Lookup(tt.native.Type())
			require.NotNil(t, class)

			raw, err := class.Encode(tt.native, f)
			require.NoError(t, err)
			require.Len(t, raw, class.RawSize(tt.native, f))

			got, dirtied, err := class.Decode(raw, 0, f)
			require.NoError(t, err)
			require.False(t, dirtied, "round trip of a current encoding must not dirty")
			require.Equal(t, tt.native, got)
		})
	}
}

func TestLookupUnregistered(t *testing.T) {
	require.Nil(t, Lookup(TypeBogus))
	require.NotNil(t, Lookup(TypeNIL))
	require.NotNil(t, Lookup(TypeContinuation))
}

func TestCopyIsDeep(t *testing.T) {
	orig := &Dataspace{SpaceType: DataspaceSimple, Dimensions: []uint64{4}}
	dup := Lookup(TypeDataspace).Copy(orig).(*Dataspace)
	dup.Dimensions[0] = 99
	require.Equal(t, uint64(4), orig.Dimensions[0])
}

func TestDataspaceV1Normalizes(t *testing.T) {
	f := DefaultFormat()
	// Version 1, rank 1, no max dims, 4 reserved bytes, one 8-byte dim.
	raw := []byte{
		1, 1, 0, 0,
		0, 0, 0, 0,
		5, 0, 0, 0, 0, 0, 0, 0,
	}
	got, dirtied, err := Lookup(TypeDataspace).Decode(raw, 0, f)
	require.NoError(t, err)
	require.True(t, dirtied, "version-1 decode must dirty for re-encode")
	ds := got.(*Dataspace)
	require.Equal(t, DataspaceSimple, ds.SpaceType)
	require.Equal(t, []uint64{5}, ds.Dimensions)
}

func TestAttributeV1Normalizes(t *testing.T) {
	f := DefaultFormat()
	// Version 1: name "ab" (3 bytes with NUL, padded to 8), 2-byte datatype
	// blob (padded to 8), 2-byte dataspace blob (padded to 8), 1 value byte.
	raw := []byte{
		1, 0, 3, 0, 2, 0, 2, 0,
		'a', 'b', 0, 0, 0, 0, 0, 0,
		0x11, 0x22, 0, 0, 0, 0, 0, 0,
		0x33, 0x44, 0, 0, 0, 0, 0, 0,
		0x55,
	}
	got, dirtied, err := Lookup(TypeAttribute).Decode(raw, 0, f)
	require.NoError(t, err)
	require.True(t, dirtied)
	attr := got.(*Attribute)
	require.Equal(t, "ab", attr.Name)
	require.Equal(t, []byte{0x11, 0x22}, attr.Datatype)
	require.Equal(t, []byte{0x33, 0x44}, attr.Dataspace)
	require.Equal(t, []byte{0x55}, attr.Data)
}

func TestContinuationTruncated(t *testing.T) {
	_, _, err := Lookup(TypeContinuation).Decode([]byte{1, 2, 3}, 0, DefaultFormat())
	require.Error(t, err)
}

func TestUnknownRoundTripsByteIdentical(t *testing.T) {
	f := DefaultFormat()
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	got, dirtied, err := UnknownClass.Decode(raw, 0, f)
	require.NoError(t, err)
	require.False(t, dirtied)

	out, err := UnknownClass.Encode(got, f)
	require.NoError(t, err)
	require.Equal(t, raw, out)
}

func TestAttributeShareHooks(t *testing.T) {
	class := Lookup(TypeAttribute)
	att := &Attribute{Name: "a", Datatype: []byte{1}, Dataspace: []byte{2}}
	require.True(t, class.CanShare(att))

	// Missing components cannot stand alone in the shared table.
	require.False(t, class.CanShare(&Attribute{Name: "b"}))

	loc := Shared{Where: ShareInHeader, Addr: 0x100, Index: 3}
	require.NoError(t, class.SetShare(att, loc))
	require.Equal(t, loc, att.Sharing)
	require.NoError(t, class.SetShare(att, Shared{}))
	require.Zero(t, att.Sharing)
}

// Link creation order lives in the message body and is owned by the
// group layer, so the link class must not expose creation-index hooks.
func TestLinkClassHasNoCreationIndexHooks(t *testing.T) {
	class := Lookup(TypeLink)
	require.Nil(t, class.SetCreationIndex)
	require.Nil(t, class.GetCreationIndex)

	class = Lookup(TypeAttribute)
	require.NotNil(t, class.SetCreationIndex)
	require.NotNil(t, class.GetCreationIndex)
}
