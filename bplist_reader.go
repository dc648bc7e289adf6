package plist

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf16"

	"go.uber.org/zap"
)

type bplistParser struct {
	buffer []byte

	version       string
	trailer       bplistTrailer
	trailerOffset uint64

	strict bool
	log    *zap.Logger
}

func newBplistParser(buf []byte, opts DecoderOptions) *bplistParser {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &bplistParser{buffer: buf, strict: opts.Strict, log: log}
}

// signedWide reports whether 8 and 16-byte integers are two's complement.
// Only version "00" defines that; other versions read everything unsigned.
func (p *bplistParser) signedWide() bool {
	return p.version == "00"
}

// need panics unless n bytes starting at off lie before the trailer.
func (p *bplistParser) need(off, n uint64, what string) {
	if off > p.trailerOffset || n > p.trailerOffset-off {
		panic(&RangeError{What: what + " end", Index: off + n, Limit: p.trailerOffset})
	}
}

// readSizedInteger reads an nbytes wide big-endian integer at off.
func (p *bplistParser) readSizedInteger(off uint64, nbytes uint64) Integer {
	p.need(off, nbytes, "integer")
	b := p.buffer[off:]
	switch nbytes {
	case 1:
		return Integer{Value: uint64(b[0])}
	case 2:
		return Integer{Value: uint64(binary.BigEndian.Uint16(b))}
	case 4:
		return Integer{Value: uint64(binary.BigEndian.Uint32(b))}
	case 8:
		return Integer{Signed: p.signedWide(), Value: binary.BigEndian.Uint64(b)}
	case 16:
		// The high half only contributes the sign. A zero high half holds
		// unsigned values above math.MaxInt64.
		high := binary.BigEndian.Uint64(b)
		return Integer{Signed: p.signedWide() && high>>63 == 1, Value: binary.BigEndian.Uint64(b[8:])}
	}
	panic(&RangeError{What: "integer width", Index: nbytes, Limit: 16})
}

// readDynamicInteger reads a complete integer entry (marker included) at off.
func (p *bplistParser) readDynamicInteger(off uint64) (Integer, uint64) {
	p.need(off, 1, "integer marker")
	marker := p.buffer[off]
	if marker&0xF0 != bpTagInteger {
		panic(structuralf("binary", "expected integer marker at 0x%x, found 0x%02x", off, marker))
	}
	nbytes := uint64(1) << (marker & 0x0F)
	return p.readSizedInteger(off+1, nbytes), off + 1 + nbytes
}

// readCount decodes the size nibble of the marker at off, following an
// inline integer when the nibble is 0xF. It returns the count and the offset
// of the payload.
func (p *bplistParser) readCount(off uint64) (uint64, uint64) {
	cnt := uint64(p.buffer[off] & 0x0F)
	if cnt != 0x0F {
		return cnt, off + 1
	}
	n, next := p.readDynamicInteger(off + 1)
	if n.Signed && n.Int64() < 0 {
		panic(structuralf("binary", "negative count %d at 0x%x", n.Int64(), off))
	}
	return n.Value, next
}

func (p *bplistParser) readReal(off uint64, nbytes uint64) float64 {
	p.need(off, nbytes, "real")
	switch nbytes {
	case 4:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(p.buffer[off:])))
	case 8:
		return math.Float64frombits(binary.BigEndian.Uint64(p.buffer[off:]))
	}
	panic(&RangeError{What: "real width", Index: nbytes, Limit: 8})
}

func (p *bplistParser) readDate(off uint64, nbytes uint64) Date {
	if nbytes != 8 {
		p.log.Warn("date entry is not 8 bytes wide",
			zap.Uint64("offset", off-1),
			zap.Uint64("width", nbytes))
	}
	return cfDate(p.readReal(off, nbytes))
}

func cfDate(secs float64) Date {
	return Date(CFAbsoluteTime(secs))
}

// CFAbsoluteTime converts seconds since 2001-01-01T00:00:00Z to a UTC time.
// Whole and fractional seconds are converted separately, so the full range
// of NSDate (distantPast to distantFuture) is representable.
func CFAbsoluteTime(secs float64) time.Time {
	sec, frac := math.Modf(secs)
	return time.Unix(int64(sec)+cfAbsoluteTimeEpoch, int64(frac*float64(time.Second))).In(time.UTC)
}

func (p *bplistParser) readData(off uint64, n uint64) Data {
	p.need(off, n, "data")
	return Data(p.buffer[off : off+n : off+n])
}

// readASCII maps each byte to one code point.
func (p *bplistParser) readASCII(off uint64, n uint64) String {
	p.need(off, n, "ascii string")
	runes := make([]rune, n)
	for i, b := range p.buffer[off : off+n] {
		runes[i] = rune(b)
	}
	return String(runes)
}

// readUTF16 reads n big-endian UTF-16 code units.
func (p *bplistParser) readUTF16(off uint64, n uint64) String {
	if n > math.MaxUint64/2 {
		panic(&RangeError{What: "utf16 string length", Index: n, Limit: math.MaxUint64 / 2})
	}
	p.need(off, n*2, "utf16 string")
	units := make([]uint16, n)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(p.buffer[off+uint64(i)*2:])
	}
	return String(utf16.Decode(units))
}

func (p *bplistParser) readUID(off uint64, nbytes uint64) UID {
	switch nbytes {
	case 1, 2, 4, 8:
	default:
		panic(&RangeError{What: "UID width", Index: nbytes, Limit: 8})
	}
	p.need(off, nbytes, "UID")
	var v uint64
	for _, b := range p.buffer[off : off+nbytes] {
		v = v<<8 | uint64(b)
	}
	return UID(v)
}

// readRefs reads count object references of the trailer's ObjectRefSize.
func (p *bplistParser) readRefs(off uint64, count uint64) []uint64 {
	size := uint64(p.trailer.ObjectRefSize)
	if count > p.trailerOffset/size {
		panic(&RangeError{What: "reference count", Index: count, Limit: p.trailerOffset / size})
	}
	p.need(off, count*size, "reference list")
	refs := make([]uint64, count)
	for i := range refs {
		refs[i] = p.readSizedUnsigned(off+uint64(i)*size, size)
	}
	return refs
}

// readSizedUnsigned reads a 1, 2 or 4-byte unsigned integer.
func (p *bplistParser) readSizedUnsigned(off uint64, nbytes uint64) uint64 {
	switch nbytes {
	case 1:
		return uint64(p.buffer[off])
	case 2:
		return uint64(binary.BigEndian.Uint16(p.buffer[off:]))
	case 4:
		return uint64(binary.BigEndian.Uint32(p.buffer[off:]))
	}
	panic(fmt.Errorf("illegal reference size %d", nbytes))
}
