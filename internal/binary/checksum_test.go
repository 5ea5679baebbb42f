package binary

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookup3Deterministic(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x00}},
		{"hello", []byte("hello")},
		{"12 bytes exactly", []byte("Hello World!")},
		{"13 bytes", []byte("Hello World!!")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, Lookup3(tt.input), Lookup3(tt.input))
		})
	}
}

func TestLookup3LengthVariations(t *testing.T) {
	// Every length from 0 to 24 crosses a different branch of the trailing
	// switch; all should produce distinct checksums for this input.
	checksums := make(map[uint32]int)
	for length := 0; length <= 24; length++ {
		data := make([]byte, length)
		for i := range data {
			data[i] = byte(i)
		}
		checksums[Lookup3(data)] = length
	}
	require.Len(t, checksums, 25)
}

func TestVerifyLookup3(t *testing.T) {
	data := []byte("test data for verification")
	sum := Lookup3(data)
	require.True(t, VerifyLookup3(data, sum))
	require.False(t, VerifyLookup3(data, sum+1))
}

func BenchmarkLookup3(b *testing.B) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Lookup3(data)
	}
}
