package message

import (
	"fmt"
	"io"
	"time"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
)

// ModTime represents an object modification time message (type 0x0012):
// seconds since the Unix epoch.
type ModTime struct {
	Seconds uint32
}

func (*ModTime) Type() Type { return TypeObjectModTime }

// Time returns the modification time as a time.Time.
func (m *ModTime) Time() time.Time { return time.Unix(int64(m.Seconds), 0) }

var modTimeClass = &Class{
	ID:   TypeObjectModTime,
	Name: "object modification time",
	Decode: func(data []byte, flags uint8, f Format) (Native, bool, error) {
		r := binpkg.NewReader(data, binpkg.Config(f))
		version, err := r.Uint8()
		if err != nil {
			return nil, false, fmt.Errorf("mod time message too short")
		}
		if version != 1 {
			return nil, false, fmt.Errorf("unsupported mod time version %d", version)
		}
		r.Skip(3) // reserved
		secs, err := r.Uint32()
		if err != nil {
			return nil, false, fmt.Errorf("mod time message too short")
		}
		return &ModTime{Seconds: secs}, false, nil
	},
	Encode: func(n Native, f Format) ([]byte, error) {
		m := n.(*ModTime)
		buf := make([]byte, 8)
		w := binpkg.NewWriter(buf, binpkg.Config(f))
		w.PutUint8(1) // version
		w.PutZeros(3)
		if err := w.PutUint32(m.Seconds); err != nil {
			return nil, err
		}
		return buf, nil
	},
	RawSize: func(n Native, f Format) int { return 8 },
	Copy: func(n Native) Native {
		m := *n.(*ModTime)
		return &m
	},
	Debug: func(n Native, w io.Writer) {
		fmt.Fprintf(w, "mod time: %s\n", n.(*ModTime).Time().UTC().Format(time.RFC3339))
	},
}
