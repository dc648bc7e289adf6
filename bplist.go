package plist

import (
	"bytes"
	"encoding/binary"
)

const (
	bplistMagic      = "bplist"
	bplistHeaderSize = 8
	bplistTrailerLen = 32
)

type bplistTrailer struct {
	Unused            [5]uint8
	SortVersion       uint8
	OffsetIntSize     uint8
	ObjectRefSize     uint8
	NumObjects        uint64
	TopObject         uint64
	OffsetTableOffset uint64
}

const (
	bpTagNull        uint8 = 0x00
	bpTagBoolFalse   uint8 = 0x08
	bpTagBoolTrue    uint8 = 0x09
	bpTagFill        uint8 = 0x0F
	bpTagInteger     uint8 = 0x10
	bpTagReal        uint8 = 0x20
	bpTagDate        uint8 = 0x30
	bpTagData        uint8 = 0x40
	bpTagASCIIString uint8 = 0x50
	bpTagUTF16String uint8 = 0x60
	bpTagUID         uint8 = 0x80
	bpTagArray       uint8 = 0xA0
	bpTagSet         uint8 = 0xC0
	bpTagDictionary  uint8 = 0xD0
)

// cfAbsoluteTimeEpoch is 2001-01-01T00:00:00Z in Unix seconds.
const cfAbsoluteTimeEpoch = 978307200

// parseHeader checks the magic and returns the two-character version.
func parseHeader(buf []byte) (string, error) {
	if len(buf) < bplistHeaderSize {
		return "", structuralf("binary", "not enough data for header (%d bytes)", len(buf))
	}
	if !bytes.Equal(buf[:len(bplistMagic)], []byte(bplistMagic)) {
		return "", structuralf("binary", "incomprehensible magic %q", buf[:len(bplistMagic)])
	}
	return string(buf[len(bplistMagic):bplistHeaderSize]), nil
}

// parseTrailer reads the fixed footer of buf and returns it with the offset
// at which it starts.
func parseTrailer(buf []byte) (bplistTrailer, uint64, error) {
	var t bplistTrailer
	if len(buf) < bplistTrailerLen {
		return t, 0, structuralf("binary", "not enough data for trailer (%d bytes)", len(buf))
	}
	off := uint64(len(buf) - bplistTrailerLen)
	tb := buf[off:]
	copy(t.Unused[:], tb[:5])
	t.SortVersion = tb[5]
	t.OffsetIntSize = tb[6]
	t.ObjectRefSize = tb[7]
	t.NumObjects = binary.BigEndian.Uint64(tb[8:])
	t.TopObject = binary.BigEndian.Uint64(tb[16:])
	t.OffsetTableOffset = binary.BigEndian.Uint64(tb[24:])
	return t, off, nil
}

func validIntSize(n uint8) bool {
	return n == 1 || n == 2 || n == 4
}

// validate checks the trailer fields the later stages rely on.
func (t *bplistTrailer) validate(trailerOffset uint64) error {
	if !validIntSize(t.OffsetIntSize) {
		return structuralf("binary", "unsupported offset size %d", t.OffsetIntSize)
	}
	if !validIntSize(t.ObjectRefSize) {
		return structuralf("binary", "unsupported object reference size %d", t.ObjectRefSize)
	}
	if t.OffsetTableOffset < bplistHeaderSize {
		return structuralf("binary", "offset table begins inside header (0x%x)", t.OffsetTableOffset)
	}
	if t.OffsetTableOffset > trailerOffset {
		return structuralf("binary", "offset table beyond beginning of trailer (0x%x, trailer@0x%x)", t.OffsetTableOffset, trailerOffset)
	}
	return nil
}
