package ohdr

import (
	"fmt"
	"io"
)

// Dump writes a human-readable description of the header to w: the prefix
// fields, the chunk table, and each message with its codec's debug output.
// Messages are decoded on demand; a message whose codec fails is reported
// in place without aborting the dump.
func (h *Header) Dump(w io.Writer) {
	fmt.Fprintf(w, "object header v%d, flags 0x%02X, %d links\n",
		h.version, h.flags, h.nlink)
	if h.flags&flagStoreTimes != 0 {
		_, mtime, _, btime := h.Times()
		fmt.Fprintf(w, "  born %s, modified %s\n",
			btime.UTC().Format("2006-01-02 15:04:05"),
			mtime.UTC().Format("2006-01-02 15:04:05"))
	}
	for i := range h.chunks {
		c := &h.chunks[i]
		fmt.Fprintf(w, "chunk %d: addr 0x%X, %d bytes", i, c.addr, c.size)
		if c.gap > 0 {
			fmt.Fprintf(w, ", gap %d", c.gap)
		}
		fmt.Fprintln(w)
	}
	for i := range h.mesgs {
		m := &h.mesgs[i]
		name := "?"
		if m.class != nil {
			name = m.class.Name
		}
		fmt.Fprintf(w, "message %d: %s (0x%04X), chunk %d, %d bytes, flags 0x%02X\n",
			i, name, uint16(m.id), m.chunkno, m.rawSize, m.flags)
		if m.isNull() {
			continue
		}
		n, err := h.loadNative(i)
		if err != nil {
			fmt.Fprintf(w, "  undecodable: %v\n", err)
			continue
		}
		if m.class.Debug != nil {
			fmt.Fprint(w, "  ")
			m.class.Debug(n, w)
		}
	}
}
