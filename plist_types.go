package plist

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Value is a decoded property list value. The concrete type is one of
// Null, Boolean, Integer, Real, Date, Data, String, UID, *Array, *Set or
// *Dictionary.
//
// Decoded values form a DAG: two references may share one node, and a
// container may (indirectly) contain itself. Values must not be mutated.
type Value interface {
	TypeName() string
}

// Null is the property list null singleton.
type Null struct{}

// TypeName implements Value.
func (Null) TypeName() string { return "null" }

// Boolean is a property list boolean.
type Boolean bool

// TypeName implements Value.
func (Boolean) TypeName() string { return "boolean" }

// Integer is a property list integer. Version "00" binary property lists
// store 1, 2 and 4-byte integers unsigned and 8 and 16-byte integers signed;
// Signed records which interpretation applies to Value.
//
// 128-bit integers keep only their low 64 bits and are signed only when
// the high half is negative.
type Integer struct {
	Signed bool
	Value  uint64
}

// TypeName implements Value.
func (Integer) TypeName() string { return "integer" }

// Int64 returns the integer as a two's complement int64.
func (i Integer) Int64() int64 {
	return int64(i.Value)
}

// Uint64 returns the raw 64 bits of the integer.
func (i Integer) Uint64() uint64 {
	return i.Value
}

func (i Integer) String() string {
	if i.Signed {
		return strconv.FormatInt(int64(i.Value), 10)
	}
	return strconv.FormatUint(i.Value, 10)
}

// Real is a property list floating point number.
type Real float64

// TypeName implements Value.
func (Real) TypeName() string { return "real" }

// Date is a property list date, in UTC.
type Date time.Time

// TypeName implements Value.
func (Date) TypeName() string { return "date" }

// Time returns d as a time.Time.
func (d Date) Time() time.Time {
	return time.Time(d)
}

func (d Date) String() string {
	return time.Time(d).Format(time.RFC3339Nano)
}

// Data is a property list byte blob. It may alias the decoded buffer.
type Data []byte

// TypeName implements Value.
func (Data) TypeName() string { return "data" }

func (d Data) String() string {
	return hex.EncodeToString(d)
}

// String is a property list string.
type String string

// TypeName implements Value.
func (String) TypeName() string { return "string" }

// A UID represents a unique object identifier. In keyed archives it is a
// back-reference into the top-level $objects array; it is never resolved by
// the parser itself.
type UID uint64

// TypeName implements Value.
func (UID) TypeName() string { return "UID" }

func (u UID) String() string {
	return fmt.Sprintf("UID(%d)", uint64(u))
}

// Array is an ordered property list collection.
type Array struct {
	values []Value
}

// TypeName implements Value.
func (*Array) TypeName() string { return "array" }

// NewArray returns an array holding values.
func NewArray(values ...Value) *Array {
	return &Array{values: values}
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.values) }

// At returns the i'th element.
func (a *Array) At(i int) Value { return a.values[i] }

// Values returns a copy of the elements.
func (a *Array) Values() []Value {
	return append([]Value(nil), a.values...)
}

// Set is an unordered property list collection. Elements keep file order.
type Set struct {
	values []Value
}

// TypeName implements Value.
func (*Set) TypeName() string { return "set" }

// NewSet returns a set holding values.
func NewSet(values ...Value) *Set {
	return &Set{values: values}
}

// Len returns the number of elements.
func (s *Set) Len() int { return len(s.values) }

// Values returns a copy of the elements.
func (s *Set) Values() []Value {
	return append([]Value(nil), s.values...)
}

// Dictionary is an ordered mapping from string keys to values.
type Dictionary struct {
	keys   []string
	values map[string]Value
}

// TypeName implements Value.
func (*Dictionary) TypeName() string { return "dictionary" }

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{values: make(map[string]Value)}
}

// set stores value under key. A repeated key keeps its first position and
// takes the last value.
func (d *Dictionary) set(key string, value Value) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// With returns d after storing value under key. It is meant for building
// dictionaries before they are shared.
func (d *Dictionary) With(key string, value Value) *Dictionary {
	d.set(key, value)
	return d
}

// Len returns the number of pairs.
func (d *Dictionary) Len() int { return len(d.keys) }

// Keys returns the keys in file order.
func (d *Dictionary) Keys() []string {
	return append([]string(nil), d.keys...)
}

// Get returns the value stored under key.
func (d *Dictionary) Get(key string) (Value, bool) {
	v, ok := d.values[key]
	return v, ok
}

// TypeName returns v's kind name, or "absent" for a nil Value.
func TypeName(v Value) string {
	if v == nil {
		return "absent"
	}
	return v.TypeName()
}
