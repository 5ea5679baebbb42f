package ohdr

import (
	stdbin "encoding/binary"

	"go.uber.org/zap"

	binpkg "github.com/robert-malhotra/go-ohdr/internal/binary"
	"github.com/robert-malhotra/go-ohdr/message"
)

// Config carries the file-format parameters and access intent for one
// header. The zero value is usable; withDefaults fills in the blanks.
type Config struct {
	// ByteOrder, OffsetSize, and LengthSize describe the enclosing file.
	ByteOrder  stdbin.ByteOrder
	OffsetSize int
	LengthSize int

	// Version selects the header version for New. Decode ignores it and
	// autodetects from the prefix.
	Version uint8

	// WriteIntent declares the file open for writing. It drives the
	// unknown-message flag checks at decode time.
	WriteIntent bool

	// SWMRWrite enables flush-dependency registration between chunk
	// proxies. It implies WriteIntent.
	SWMRWrite bool

	// SizeHint is the desired initial body size of chunk 0, in bytes.
	SizeHint int

	// TrackTimes stores access/modification/change/birth timestamps in
	// version 2 headers.
	TrackTimes bool

	// TrackAttrOrder stores a creation index after each message header
	// in version 2 headers.
	TrackAttrOrder bool

	// MaxCompact and MinDense are the attribute storage phase-change
	// thresholds. Both zero means use the defaults and do not store them.
	MaxCompact uint16
	MinDense   uint16

	Logger *zap.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.ByteOrder == nil {
		cfg.ByteOrder = stdbin.LittleEndian
	}
	if cfg.OffsetSize == 0 {
		cfg.OffsetSize = 8
	}
	if cfg.LengthSize == 0 {
		cfg.LengthSize = 8
	}
	if cfg.Version == 0 {
		cfg.Version = 2
	}
	if cfg.SWMRWrite {
		cfg.WriteIntent = true
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

func (cfg Config) format() message.Format {
	return message.Format{
		ByteOrder:  cfg.ByteOrder,
		OffsetSize: cfg.OffsetSize,
		LengthSize: cfg.LengthSize,
	}
}

func (cfg Config) binConfig() binpkg.Config {
	return binpkg.Config{
		ByteOrder:  cfg.ByteOrder,
		OffsetSize: cfg.OffsetSize,
		LengthSize: cfg.LengthSize,
	}
}
