package plist

import (
	"reflect"
	"strings"
	"sync"
)

// typeInfo holds details for the plist representation of a type.
type typeInfo struct {
	fields []fieldInfo
}

// fieldInfo holds details for the plist representation of a single field.
type fieldInfo struct {
	idx      []int
	name     string
	required bool
}

var tinfoMap = &sync.Map{} // map[reflect.Type]*typeInfo

// getTypeInfo returns the typeInfo structure with details necessary
// for binding values into typ.
//
// Fields are named by the `plist:"name"` tag, falling back to the Go field
// name. The "required" flag makes a missing key an error.
func getTypeInfo(typ reflect.Type) *typeInfo {
	if ltinfo, ok := tinfoMap.Load(typ); ok {
		return ltinfo.(*typeInfo)
	}
	tinfo := &typeInfo{}
	if typ.Kind() == reflect.Struct {
		n := typ.NumField()
		for i := 0; i < n; i++ {
			f := typ.Field(i)
			if f.Tag.Get("plist") == "-" || (!f.Anonymous && f.PkgPath != "") {
				continue // Private field
			}

			// For embedded structs, embed its fields.
			if f.Anonymous {
				t := f.Type
				if t.Kind() == reflect.Ptr {
					t = t.Elem()
				}
				if t.Kind() == reflect.Struct {
					for _, finfo := range getTypeInfo(t).fields {
						finfo.idx = append([]int{i}, finfo.idx...)
						addFieldInfo(tinfo, finfo)
					}
					continue
				}
			}

			addFieldInfo(tinfo, structFieldInfo(&f))
		}
	}
	actual, _ := tinfoMap.LoadOrStore(typ, tinfo)
	return actual.(*typeInfo)
}

// structFieldInfo builds and returns a fieldInfo for f.
func structFieldInfo(f *reflect.StructField) fieldInfo {
	finfo := fieldInfo{idx: f.Index}
	tokens := strings.Split(f.Tag.Get("plist"), ",")
	for _, flag := range tokens[1:] {
		if flag == "required" {
			finfo.required = true
		}
	}
	finfo.name = tokens[0]
	if finfo.name == "" {
		finfo.name = f.Name
	}
	return finfo
}

// addFieldInfo adds finfo to tinfo.fields. When names collide the
// shallower field wins, matching Go's embedding rules; equally deep
// collisions keep the first field.
func addFieldInfo(tinfo *typeInfo, newf fieldInfo) {
	for i := range tinfo.fields {
		oldf := &tinfo.fields[i]
		if oldf.name != newf.name {
			continue
		}
		if len(newf.idx) < len(oldf.idx) {
			*oldf = newf
		}
		return
	}
	tinfo.fields = append(tinfo.fields, newf)
}

// value returns v's field value corresponding to finfo.
// It's equivalent to v.FieldByIndex(finfo.idx), but initializes
// and dereferences pointers as necessary.
func (finfo *fieldInfo) value(v reflect.Value) reflect.Value {
	for i, x := range finfo.idx {
		if i > 0 {
			t := v.Type()
			if t.Kind() == reflect.Ptr && t.Elem().Kind() == reflect.Struct {
				if v.IsNil() {
					v.Set(reflect.New(v.Type().Elem()))
				}
				v = v.Elem()
			}
		}
		v = v.Field(x)
	}
	return v
}
