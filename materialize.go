package plist

import (
	"fmt"

	"go.uber.org/zap"
)

// materializer links object table entries into a Value graph. Composite
// nodes are memoized by offset before their children are resolved, and are
// filled from an explicit work stack, so shared and self-referential
// structures terminate without recursion.
type materializer struct {
	p       *bplistParser
	offsets offsetTable
	table   objectTable

	memo    map[uint64]Value
	pending []pendingNode
}

type pendingNode struct {
	offset uint64
	entry  tableEntry
	node   Value
}

func newMaterializer(p *bplistParser, offsets offsetTable, table objectTable) *materializer {
	return &materializer{
		p:       p,
		offsets: offsets,
		table:   table,
		memo:    make(map[uint64]Value),
	}
}

// materialize builds the graph rooted at object reference top.
func (m *materializer) materialize(top uint64) (Value, bool) {
	root, ok := m.resolveRef(top)
	for len(m.pending) > 0 {
		n := m.pending[len(m.pending)-1]
		m.pending = m.pending[:len(m.pending)-1]
		m.fill(n)
	}
	return root, ok
}

func (m *materializer) resolveRef(ref uint64) (Value, bool) {
	return m.resolveOffset(m.offsets.lookup(ref))
}

// resolveOffset returns the node for the entry at off. Composite nodes come
// back empty and are queued for filling. ok is false for absent entries.
func (m *materializer) resolveOffset(off uint64) (Value, bool) {
	if v, ok := m.memo[off]; ok {
		return v, true
	}

	entry, ok := m.table[off]
	if !ok {
		m.p.log.Warn("no object table entry at offset", zap.Uint64("offset", off))
		return nil, false
	}

	var v Value
	switch e := entry.(type) {
	case fillEntry:
		return nil, false
	case *refCollection:
		if e.set {
			v = &Set{values: make([]Value, 0, len(e.refs))}
		} else {
			v = &Array{values: make([]Value, 0, len(e.refs))}
		}
		m.pending = append(m.pending, pendingNode{offset: off, entry: e, node: v})
	case *refDictionary:
		v = &Dictionary{values: make(map[string]Value, len(e.keys))}
		m.pending = append(m.pending, pendingNode{offset: off, entry: e, node: v})
	case Value:
		v = e
	default:
		panic(fmt.Errorf("unexpected table entry %T at 0x%x", entry, off))
	}

	m.memo[off] = v
	return v, true
}

func (m *materializer) fill(n pendingNode) {
	switch e := n.entry.(type) {
	case *refCollection:
		values := make([]Value, 0, len(e.refs))
		for _, ref := range e.refs {
			child, ok := m.resolveRef(ref)
			if !ok {
				m.dropped(n.offset, ref)
				continue
			}
			values = append(values, child)
		}
		switch node := n.node.(type) {
		case *Array:
			node.values = values
		case *Set:
			node.values = values
		}
	case *refDictionary:
		dict := n.node.(*Dictionary)
		for i := range e.keys {
			key, kok := m.resolveRef(e.keys[i])
			value, vok := m.resolveRef(e.values[i])
			if !kok || !vok {
				m.dropped(n.offset, e.keys[i])
				continue
			}
			dict.set(m.keyString(n.offset, key), value)
		}
	}
}

// dropped records a child reference that did not resolve.
func (m *materializer) dropped(parent uint64, ref uint64) {
	if m.p.strict {
		panic(structuralf("binary", "collection@0x%x references object #%d which does not resolve", parent, ref))
	}
	m.p.log.Debug("dropping unresolved child",
		zap.Uint64("offset", parent),
		zap.Uint64("ref", ref))
}

func (m *materializer) keyString(parent uint64, key Value) string {
	if s, ok := key.(String); ok {
		return string(s)
	}
	m.p.log.Warn("non-string dictionary key",
		zap.Uint64("offset", parent),
		zap.String("type", key.TypeName()))
	switch k := key.(type) {
	case fmt.Stringer:
		return k.String()
	case Boolean, Real:
		return fmt.Sprint(k)
	}
	return "<" + key.TypeName() + ">"
}
