package plist

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/pkg/errors"
)

const maxBindDepth = 512

var (
	valueType = reflect.TypeOf((*Value)(nil)).Elem()
	uidType   = reflect.TypeOf(UID(0))
	timeType  = reflect.TypeOf(time.Time{})
)

// Unmarshal binds a decoded value into the Go value pointed to by v.
//
// Dictionaries bind into structs (fields named by `plist:"key"` tags) and
// string-keyed maps, arrays and sets into slices, and scalars into the
// matching Go kinds. A field of type Value receives the decoded node
// unchanged, and interface{} receives the result of Plain.
func Unmarshal(pval Value, v interface{}) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return errors.Errorf("plist: Unmarshal needs a non-nil pointer, got %T", v)
	}
	return unmarshal(pval, val.Elem(), 0)
}

func unmarshal(pval Value, val reflect.Value, depth int) error {
	if depth > maxBindDepth {
		return errors.Errorf("plist: value nested deeper than %d", maxBindDepth)
	}
	if pval == nil {
		return nil
	}
	if val.Type() == valueType {
		val.Set(reflect.ValueOf(pval))
		return nil
	}
	if val.Kind() == reflect.Interface && val.NumMethod() == 0 {
		if p := Plain(pval); p != nil {
			val.Set(reflect.ValueOf(p))
		}
		return nil
	}
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			val.Set(reflect.New(val.Type().Elem()))
		}
		val = val.Elem()
	}

	switch p := pval.(type) {
	case Null:
		return nil
	case String:
		if val.Kind() == reflect.String {
			val.SetString(string(p))
			return nil
		}
	case Integer:
		switch val.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n := int64(p.Value)
			if (!p.Signed && p.Value > 1<<63-1) || val.OverflowInt(n) {
				return errors.Errorf("plist: integer %v overflows %v", p, val.Type())
			}
			val.SetInt(n)
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			if (p.Signed && p.Int64() < 0) || val.OverflowUint(p.Value) {
				return errors.Errorf("plist: integer %v overflows %v", p, val.Type())
			}
			val.SetUint(p.Value)
			return nil
		case reflect.Float32, reflect.Float64:
			if p.Signed {
				val.SetFloat(float64(p.Int64()))
			} else {
				val.SetFloat(float64(p.Value))
			}
			return nil
		}
	case Real:
		if val.Kind() == reflect.Float32 || val.Kind() == reflect.Float64 {
			val.SetFloat(float64(p))
			return nil
		}
	case Boolean:
		if val.Kind() == reflect.Bool {
			val.SetBool(bool(p))
			return nil
		}
	case Data:
		if val.Kind() == reflect.Slice && val.Type().Elem().Kind() == reflect.Uint8 {
			val.SetBytes(append([]byte(nil), p...))
			return nil
		}
	case Date:
		if val.Type() == timeType {
			val.Set(reflect.ValueOf(time.Time(p)))
			return nil
		}
	case UID:
		switch val.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			val.SetInt(int64(p))
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			if val.Type() == uidType || val.Kind() == reflect.Uint64 {
				val.SetUint(uint64(p))
				return nil
			}
		}
	case *Array:
		if val.Kind() == reflect.Slice {
			return unmarshalSlice(p.values, val, depth)
		}
	case *Set:
		if val.Kind() == reflect.Slice {
			return unmarshalSlice(p.values, val, depth)
		}
	case *Dictionary:
		switch val.Kind() {
		case reflect.Map:
			return unmarshalMap(p, val, depth)
		case reflect.Struct:
			return unmarshalStruct(p, val, depth)
		}
	}
	return errors.Errorf("plist: cannot bind %s into %v", pval.TypeName(), val.Type())
}

func unmarshalSlice(values []Value, val reflect.Value, depth int) error {
	slice := reflect.MakeSlice(val.Type(), len(values), len(values))
	for i, v := range values {
		if err := unmarshal(v, slice.Index(i), depth+1); err != nil {
			return err
		}
	}
	val.Set(slice)
	return nil
}

func unmarshalMap(dict *Dictionary, val reflect.Value, depth int) error {
	typ := val.Type()
	if typ.Key().Kind() != reflect.String {
		return errors.Errorf("plist: cannot bind dictionary into %v", typ)
	}
	m := reflect.MakeMapWithSize(typ, dict.Len())
	for _, k := range dict.keys {
		elem := reflect.New(typ.Elem()).Elem()
		if err := unmarshal(dict.values[k], elem, depth+1); err != nil {
			return errors.Wrapf(err, "key %q", k)
		}
		m.SetMapIndex(reflect.ValueOf(k).Convert(typ.Key()), elem)
	}
	val.Set(m)
	return nil
}

func unmarshalStruct(dict *Dictionary, val reflect.Value, depth int) error {
	tinfo := getTypeInfo(val.Type())
	for i := range tinfo.fields {
		finfo := &tinfo.fields[i]
		dval, ok := dict.Get(finfo.name)
		if !ok {
			if finfo.required {
				return errors.Errorf("plist: missing required key %q", finfo.name)
			}
			continue
		}
		if err := unmarshal(dval, finfo.value(val), depth+1); err != nil {
			return errors.Wrapf(err, "key %q", finfo.name)
		}
	}
	return nil
}

// Plain converts v into plain Go values: nil, bool, int64, uint64, float64,
// time.Time, []byte, string, []interface{} and map[string]interface{}.
// UIDs become {"CF$UID": n}. A container reached again through a cycle is
// rendered as the string "<cycle>". A container shared by several parents
// is converted once and the result is reused.
func Plain(v Value) interface{} {
	p := &plainer{onPath: make(map[Value]bool), done: make(map[Value]interface{})}
	return p.plain(v)
}

// plainer converts each container once; shared nodes reuse the converted
// result.
type plainer struct {
	onPath map[Value]bool
	done   map[Value]interface{}
}

func (pl *plainer) plain(v Value) interface{} {
	switch p := v.(type) {
	case nil, Null:
		return nil
	case Boolean:
		return bool(p)
	case Integer:
		if p.Signed {
			return p.Int64()
		}
		return p.Value
	case Real:
		return float64(p)
	case Date:
		return time.Time(p)
	case Data:
		return []byte(p)
	case String:
		return string(p)
	case UID:
		return map[string]interface{}{"CF$UID": uint64(p)}
	}

	if pl.onPath[v] {
		return "<cycle>"
	}
	if out, ok := pl.done[v]; ok {
		return out
	}
	pl.onPath[v] = true
	defer delete(pl.onPath, v)

	var out interface{}
	switch p := v.(type) {
	case *Array:
		out = pl.slice(p.values)
	case *Set:
		out = pl.slice(p.values)
	case *Dictionary:
		m := make(map[string]interface{}, p.Len())
		for _, k := range p.keys {
			m[k] = pl.plain(p.values[k])
		}
		out = m
	}
	pl.done[v] = out
	return out
}

func (pl *plainer) slice(values []Value) []interface{} {
	out := make([]interface{}, len(values))
	for i, e := range values {
		out[i] = pl.plain(e)
	}
	return out
}

// ConvertToJSON decodes a property list and renders it as JSON.
func ConvertToJSON(data []byte) ([]byte, error) {
	v, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Plain(v))
}
