package archiver

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/zdypro888/plist"
)

// session is the state shared by every Unarchiver of one decode.
type session struct {
	objects  *Objects
	log      *zap.Logger
	maxDepth int
}

// An Unarchiver is bound to one archived instance while its coder runs.
// It exposes the instance's keyed fields and a registry of the coders
// allowed for the instance's children.
//
// Registries are not inherited: a child instance sees only the coders
// passed to DecodeObjectOf or registered by its own coder.
type Unarchiver struct {
	s      *session
	coder  Coder
	data   *plist.Dictionary
	coders map[string]Coder
	depth  int
}

func newUnarchiver(s *session, coder Coder, data *plist.Dictionary, depth int) *Unarchiver {
	return &Unarchiver{
		s:      s,
		coder:  coder,
		data:   data,
		coders: make(map[string]Coder),
		depth:  depth,
	}
}

// ClassName is the class name of the coder bound to u.
func (u *Unarchiver) ClassName() string {
	return u.coder.ClassName()
}

// Objects returns the archive's object table.
func (u *Unarchiver) Objects() *Objects {
	return u.s.objects
}

// Logger returns the logger of the running decode.
func (u *Unarchiver) Logger() *zap.Logger {
	return u.s.log
}

// Field returns the raw archived field for key, unresolved.
func (u *Unarchiver) Field(key string) (plist.Value, bool) {
	return u.data.Get(key)
}

// SetClass registers c for forClassName, or for the class names c handles
// when none are given. Registering a different coder for a name that is
// already taken fails; registering the same coder again is a no-op.
func (u *Unarchiver) SetClass(c Coder, forClassName ...string) error {
	names := forClassName
	if len(names) == 0 {
		names = classNames(c)
	}
	for _, name := range names {
		if existing, ok := u.coders[name]; ok && existing != c {
			return errors.Errorf("archiver: coder for class name %s already exists", name)
		}
		u.coders[name] = c
	}
	return nil
}

// GetClass returns the coder registered for className.
func (u *Unarchiver) GetClass(className string) (Coder, bool) {
	c, ok := u.coders[className]
	return c, ok
}

// ContainsValue reports whether the instance has a field named key. Keys
// starting with "$" are reserved for the archive and never reported.
func (u *Unarchiver) ContainsValue(key string) bool {
	if strings.HasPrefix(key, "$") {
		return false
	}
	_, ok := u.data.Get(key)
	return ok
}

// DecodeBool decodes a boolean field. An absent field decodes as true.
func (u *Unarchiver) DecodeBool(key string) (bool, error) {
	v, ok := u.data.Get(key)
	if !ok {
		return true, nil
	}
	b, ok := v.(plist.Boolean)
	if !ok {
		return false, mismatch(key, "boolean", v)
	}
	return bool(b), nil
}

// DecodeDouble decodes a floating-point field. An absent field decodes as 0.
func (u *Unarchiver) DecodeDouble(key string) (float64, error) {
	v, ok := u.data.Get(key)
	if !ok {
		return 0, nil
	}
	r, ok := v.(plist.Real)
	if !ok {
		return 0, mismatch(key, "real", v)
	}
	return float64(r), nil
}

// DecodeFloat is DecodeDouble narrowed to float32.
func (u *Unarchiver) DecodeFloat(key string) (float32, error) {
	f, err := u.DecodeDouble(key)
	return float32(f), err
}

// DecodeInt64 decodes an integer field. An absent field decodes as 0.
func (u *Unarchiver) DecodeInt64(key string) (int64, error) {
	v, ok := u.data.Get(key)
	if !ok {
		return 0, nil
	}
	n, ok := v.(plist.Integer)
	if !ok {
		return 0, mismatch(key, "integer", v)
	}
	if !n.Signed && n.Value > math.MaxInt64 {
		return 0, mismatch(key, "int64", v)
	}
	return n.Int64(), nil
}

// DecodeInt32 decodes an integer field that must fit in 32 bits.
func (u *Unarchiver) DecodeInt32(key string) (int32, error) {
	n, err := u.DecodeInt64(key)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		v, _ := u.data.Get(key)
		return 0, mismatch(key, "int32", v)
	}
	return int32(n), nil
}

// DecodeBytes decodes a data field, either inline or by reference. An
// absent or null key decodes as (nil, nil) unless required is set, in
// which case it fails with *MissingValueError.
func (u *Unarchiver) DecodeBytes(key string, required bool) ([]byte, error) {
	v, err := u.resolvedField(key)
	if err != nil {
		return nil, err
	}
	switch d := v.(type) {
	case nil, plist.Null:
		if required {
			return nil, &MissingValueError{Key: key}
		}
		return nil, nil
	case plist.Data:
		return []byte(d), nil
	}
	return nil, mismatch(key, "data", v)
}

// DecodeString decodes a referenced string field. An absent or null key
// decodes as ("", nil) unless required is set, in which case it fails with
// *MissingValueError.
func (u *Unarchiver) DecodeString(key string, required bool) (string, error) {
	obj, err := u.DecodeObject(key, required)
	if err != nil || obj == nil {
		return "", err
	}
	s, ok := obj.(string)
	if !ok {
		return "", &DecodeMismatch{Key: key, Expected: "string", Actual: fmt.Sprintf("%T", obj)}
	}
	return s, nil
}

// DecodeObject decodes the instance referenced by key using the coders
// registered on u. Referenced leaf values (strings, data, numbers, dates)
// are returned as plain Go values.
func (u *Unarchiver) DecodeObject(key string, required bool) (interface{}, error) {
	v, ok := u.data.Get(key)
	if !ok {
		if required {
			return nil, &MissingValueError{Key: key}
		}
		return nil, nil
	}
	uid, ok := v.(plist.UID)
	if !ok {
		return nil, mismatch(key, "UID (for object)", v)
	}
	obj, err := u.DecodeReference(uid, key)
	if err == nil && obj == nil && required {
		return nil, &MissingValueError{Key: key}
	}
	return obj, err
}

// DecodeObjectOf decodes the instance referenced by key with one of
// coders, chosen by the instance's class name. The remaining coders are
// registered on the child so it can decode its own members.
func (u *Unarchiver) DecodeObjectOf(key string, required bool, coders ...Coder) (interface{}, error) {
	v, ok := u.data.Get(key)
	if !ok {
		if required {
			return nil, &MissingValueError{Key: key}
		}
		return nil, nil
	}
	uid, ok := v.(plist.UID)
	if !ok {
		return nil, mismatch(key, "UID (for object)", v)
	}
	inst, leaf, err := u.instance(uid, key)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		if isAbsent(leaf) {
			if required {
				return nil, &MissingValueError{Key: key}
			}
			return nil, nil
		}
		return nil, mismatch(key, "archived instance", leaf)
	}
	cls, err := u.s.objects.Class(inst)
	if err != nil {
		return nil, err
	}
	var matched Coder
	for _, c := range coders {
		if handles(c, cls.Name) {
			matched = c
			break
		}
	}
	if matched == nil {
		names := make([]string, 0, len(coders))
		for _, c := range coders {
			names = append(names, c.ClassName())
		}
		return nil, &DecodeMismatch{
			Key:      key,
			Expected: "one of [" + strings.Join(names, ", ") + "]",
			Actual:   cls.Name,
		}
	}
	var rest []Coder
	for _, c := range coders {
		if c != matched {
			rest = append(rest, c)
		}
	}
	return u.decodeWith(matched, inst, rest)
}

// DecodeReference decodes the object uid refers to with the coders
// registered on u. label names the reference in errors.
func (u *Unarchiver) DecodeReference(uid plist.UID, label string) (interface{}, error) {
	inst, leaf, err := u.instance(uid, label)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return plist.Plain(leaf), nil
	}
	cls, err := u.s.objects.Class(inst)
	if err != nil {
		return nil, err
	}
	coder, ok := u.coders[cls.Name]
	if !ok {
		return nil, &MissingDecoder{ClassName: cls.Name, ParentClassName: u.ClassName()}
	}
	return u.decodeWith(coder, inst, nil)
}

// instance resolves uid to either an archived instance or a leaf value.
func (u *Unarchiver) instance(uid plist.UID, label string) (*plist.Dictionary, plist.Value, error) {
	v, err := u.s.objects.Get(uid)
	if err != nil {
		return nil, nil, err
	}
	if isLeaf(v) {
		return nil, v, nil
	}
	dict, ok := v.(*plist.Dictionary)
	if !ok {
		return nil, nil, mismatch(label, "archived instance", v)
	}
	if _, ok := dict.Get("$class"); !ok {
		return nil, nil, mismatch(label, "archived instance with $class", v)
	}
	return dict, nil, nil
}

func (u *Unarchiver) decodeWith(coder Coder, inst *plist.Dictionary, extra []Coder) (interface{}, error) {
	if u.depth+1 > u.s.maxDepth {
		return nil, &DepthError{ClassName: coder.ClassName(), MaxDepth: u.s.maxDepth}
	}
	child := newUnarchiver(u.s, coder, inst, u.depth+1)
	for _, c := range extra {
		if err := child.SetClass(c); err != nil {
			return nil, err
		}
	}
	if ce := u.s.log.Check(zap.DebugLevel, "decoding instance"); ce != nil {
		ce.Write(zap.String("class", coder.ClassName()), zap.Int("depth", child.depth))
	}
	return coder.Decode(child)
}

// resolvedField returns the field for key, following a UID if it is one.
func (u *Unarchiver) resolvedField(key string) (plist.Value, error) {
	v, ok := u.data.Get(key)
	if !ok {
		return nil, nil
	}
	if uid, ok := v.(plist.UID); ok {
		return u.s.objects.Get(uid)
	}
	return v, nil
}

func isAbsent(v plist.Value) bool {
	switch v.(type) {
	case nil, plist.Null:
		return true
	}
	return false
}
