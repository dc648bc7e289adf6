package plist

import "go.uber.org/zap"

// offsetTable maps object references to absolute offsets of object table
// entries.
type offsetTable []uint64

func (p *bplistParser) parseOffsetTable() offsetTable {
	start := p.trailer.OffsetTableOffset
	size := uint64(p.trailer.OffsetIntSize)
	length := p.trailerOffset - start
	if length%size != 0 {
		panic(structuralf("binary", "offset table length %d is not a multiple of offset size %d", length, size))
	}

	table := make(offsetTable, length/size)
	for i := range table {
		table[i] = p.readSizedUnsigned(start+uint64(i)*size, size)
	}

	if uint64(len(table)) != p.trailer.NumObjects {
		p.log.Warn("offset table length does not match object count",
			zap.Int("entries", len(table)),
			zap.Uint64("objects", p.trailer.NumObjects))
	}
	return table
}

// lookup returns the object table offset of ref.
func (t offsetTable) lookup(ref uint64) uint64 {
	if ref >= uint64(len(t)) {
		panic(&RangeError{What: "object reference", Index: ref, Limit: uint64(len(t))})
	}
	return t[ref]
}
