package archiver

import (
	"fmt"
	"strings"

	"github.com/zdypro888/plist"
)

const maxPrintDepth = 256

// Print renders the archive's root graph without any coders: references
// are followed and instances are labelled with their class name. An
// instance reached again through a cycle prints as <cycle UID(n)>; one
// shared by several parents is rendered in full once and then as
// <ref UID(n)>.
func (a *Archive) Print() string {
	builder := &strings.Builder{}
	p := &printer{
		objects: a.Objects,
		builder: builder,
		onPath:  make(map[plist.UID]bool),
		printed: make(map[plist.UID]bool),
		shown:   make(map[plist.Value]bool),
	}
	p.printRef(a.Root, 0)
	return builder.String()
}

type printer struct {
	objects *Objects
	builder *strings.Builder
	onPath  map[plist.UID]bool
	printed map[plist.UID]bool
	// shown holds containers already rendered, however they were reached.
	shown map[plist.Value]bool
}

func (p *printer) indent(depth int) {
	p.builder.WriteString(strings.Repeat("\t", depth))
}

func (p *printer) printRef(uid plist.UID, depth int) {
	if p.onPath[uid] {
		fmt.Fprintf(p.builder, "<cycle %s>", uid)
		return
	}
	v, err := p.objects.Get(uid)
	if err != nil {
		fmt.Fprintf(p.builder, "<%v>", err)
		return
	}
	if isLeaf(v) {
		p.printObject(v, depth)
		return
	}
	if p.printed[uid] || p.shown[v] {
		fmt.Fprintf(p.builder, "<ref %s>", uid)
		return
	}
	p.printed[uid] = true
	p.onPath[uid] = true
	p.printObject(v, depth)
	delete(p.onPath, uid)
}

func (p *printer) printObject(v plist.Value, depth int) {
	if depth > maxPrintDepth {
		p.builder.WriteString("...")
		return
	}
	switch v.(type) {
	case *plist.Array, *plist.Set, *plist.Dictionary:
		if p.shown[v] {
			fmt.Fprintf(p.builder, "<ref %s>", v.TypeName())
			return
		}
		p.shown[v] = true
	}
	switch pval := v.(type) {
	case nil, plist.Null:
		p.builder.WriteString("nil")
	case plist.String:
		fmt.Fprintf(p.builder, "string(%s)", string(pval))
	case plist.Integer:
		fmt.Fprintf(p.builder, "integer(%s)", pval)
	case plist.Real:
		fmt.Fprintf(p.builder, "real(%v)", float64(pval))
	case plist.Boolean:
		fmt.Fprintf(p.builder, "bool(%v)", bool(pval))
	case plist.Data:
		fmt.Fprintf(p.builder, "[]byte(%x)", []byte(pval))
	case plist.Date:
		fmt.Fprintf(p.builder, "time(%s)", pval)
	case plist.UID:
		p.printRef(pval, depth)
	case *plist.Array:
		p.printList("array", pval.Values(), depth)
	case *plist.Set:
		p.printList("set", pval.Values(), depth)
	case *plist.Dictionary:
		name := "dict"
		if _, ok := pval.Get("$class"); ok {
			if cls, err := p.objects.Class(pval); err == nil {
				name = cls.Name
			} else {
				name = "?"
			}
		}
		p.builder.WriteString(name + "{\n")
		for _, k := range pval.Keys() {
			if k == "$class" {
				continue
			}
			e, _ := pval.Get(k)
			p.indent(depth + 1)
			fmt.Fprintf(p.builder, "[%s]: ", k)
			p.printObject(e, depth+1)
			p.builder.WriteString("\n")
		}
		p.indent(depth)
		p.builder.WriteString("}")
	default:
		fmt.Fprintf(p.builder, "unknown(%v)", pval)
	}
}

func (p *printer) printList(name string, values []plist.Value, depth int) {
	p.builder.WriteString(name + "{\n")
	for i, e := range values {
		p.indent(depth + 1)
		fmt.Fprintf(p.builder, "[%d]: ", i)
		p.printObject(e, depth+1)
		p.builder.WriteString("\n")
	}
	p.indent(depth)
	p.builder.WriteString("}")
}
