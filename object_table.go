package plist

import (
	"fmt"

	"go.uber.org/zap"
)

// A tableEntry is one decoded object table entry: a scalar Value, a
// fillEntry, or a composite holding references to its children.
type tableEntry interface{}

type fillEntry struct{}

type refCollection struct {
	set  bool
	refs []uint64
}

// refDictionary holds the key block and the value block of a dictionary.
type refDictionary struct {
	keys   []uint64
	values []uint64
}

// objectTable indexes entries by the offset at which they start.
type objectTable map[uint64]tableEntry

// parseObjectTable scans every entry between the header and the offset
// table. Bytes that are not a known marker are skipped one at a time.
func (p *bplistParser) parseObjectTable() objectTable {
	end := p.trailer.OffsetTableOffset
	table := make(objectTable)

	off := uint64(bplistHeaderSize)
	for off < end {
		entry, next, ok := p.parseEntry(off)
		if !ok {
			p.log.Warn("unknown marker byte",
				zap.Uint64("offset", off),
				zap.String("marker", fmt.Sprintf("0x%02x", p.buffer[off])))
			off++
			continue
		}
		table[off] = entry
		off = next
	}

	if off != end {
		p.log.Warn("object table does not end at offset table",
			zap.Uint64("expected", end),
			zap.Uint64("actual", off))
	}
	p.log.Debug("parsed object table", zap.Int("entries", len(table)))
	return table
}

// parseEntry decodes the entry starting at off and returns it with the
// offset just past it. ok is false when the marker is unknown.
func (p *bplistParser) parseEntry(off uint64) (entry tableEntry, next uint64, ok bool) {
	marker := p.buffer[off]
	low := uint64(marker & 0x0F)

	if marker&0xF0 == 0 {
		switch marker {
		case bpTagNull:
			return Null{}, off + 1, true
		case bpTagBoolFalse:
			return Boolean(false), off + 1, true
		case bpTagBoolTrue:
			return Boolean(true), off + 1, true
		case bpTagFill:
			return fillEntry{}, off + 1, true
		}
		return nil, 0, false
	}

	switch marker & 0xF0 {
	case bpTagInteger:
		n, next := p.readDynamicInteger(off)
		return n, next, true
	case bpTagReal:
		nbytes := uint64(1) << low
		return Real(p.readReal(off+1, nbytes)), off + 1 + nbytes, true
	case bpTagDate:
		nbytes := uint64(1) << low
		return p.readDate(off+1, nbytes), off + 1 + nbytes, true
	case bpTagData:
		n, start := p.readCount(off)
		return p.readData(start, n), start + n, true
	case bpTagASCIIString:
		n, start := p.readCount(off)
		return p.readASCII(start, n), start + n, true
	case bpTagUTF16String:
		n, start := p.readCount(off)
		return p.readUTF16(start, n), start + n*2, true
	case bpTagUID:
		// Unlike integers, the low nibble is nbytes-1.
		nbytes := low + 1
		return p.readUID(off+1, nbytes), off + 1 + nbytes, true
	case bpTagArray, bpTagSet:
		n, start := p.readCount(off)
		refs := p.readRefs(start, n)
		coll := &refCollection{set: marker&0xF0 == bpTagSet, refs: refs}
		return coll, start + n*uint64(p.trailer.ObjectRefSize), true
	case bpTagDictionary:
		n, start := p.readCount(off)
		if n > p.trailerOffset {
			panic(&RangeError{What: "dictionary size", Index: n, Limit: p.trailerOffset})
		}
		refs := p.readRefs(start, n*2)
		dict := &refDictionary{keys: refs[:n:n], values: refs[n:]}
		return dict, start + n*2*uint64(p.trailer.ObjectRefSize), true
	}
	return nil, 0, false
}
