package archiver

import (
	"fmt"

	"github.com/zdypro888/plist"
)

// Objects owns the $objects array of a keyed archive and resolves UIDs
// against it. UID 0 is reserved and always resolves to nil.
type Objects struct {
	values []plist.Value
}

// NewObjects wraps the decoded $objects values.
func NewObjects(values []plist.Value) *Objects {
	return &Objects{values: values}
}

// Len returns the number of archived objects, including the reserved slot.
func (o *Objects) Len() int {
	return len(o.values)
}

// Get resolves uid. Out-of-range UIDs fail with *plist.RangeError.
func (o *Objects) Get(uid plist.UID) (plist.Value, error) {
	if uid == 0 {
		return nil, nil
	}
	if uint64(uid) >= uint64(len(o.values)) {
		return nil, &plist.RangeError{What: "UID", Index: uint64(uid), Limit: uint64(len(o.values))}
	}
	return o.values[uid], nil
}

// ClassDescriptor is an archived class: its name and its ancestry by name.
type ClassDescriptor struct {
	Name    string
	Classes []string
}

// Class resolves the $class reference of an archived instance.
func (o *Objects) Class(inst *plist.Dictionary) (ClassDescriptor, error) {
	var cls ClassDescriptor
	ref, _ := inst.Get("$class")
	uid, ok := ref.(plist.UID)
	if !ok {
		return cls, mismatch("$class", "UID", ref)
	}
	v, err := o.Get(uid)
	if err != nil {
		return cls, err
	}
	dict, ok := v.(*plist.Dictionary)
	if !ok {
		return cls, mismatch(fmt.Sprintf("Class-%d", uid), "class-object", v)
	}
	name, ok := dict.Get("$classname")
	s, isStr := name.(plist.String)
	if !ok || !isStr {
		return cls, mismatch(fmt.Sprintf("Class-%d", uid), "class-object", v)
	}
	cls.Name = string(s)
	if classes, ok := dict.Get("$classes"); ok {
		if err := plist.Unmarshal(classes, &cls.Classes); err != nil {
			return cls, mismatch(fmt.Sprintf("Class-%d.$classes", uid), "array of strings", classes)
		}
	}
	return cls, nil
}

// isLeaf reports values that resolve directly rather than through a coder.
func isLeaf(v plist.Value) bool {
	switch v.(type) {
	case nil, plist.Null, plist.String, plist.Data,
		plist.Integer, plist.Real, plist.Boolean, plist.Date:
		return true
	}
	return false
}

// describe renders a value for error messages.
func describe(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "absent"
	case string:
		return x
	case plist.String:
		return fmt.Sprintf("string %q", string(x))
	case plist.Value:
		if s, ok := x.(fmt.Stringer); ok {
			return x.TypeName() + " " + s.String()
		}
		return x.TypeName()
	}
	return fmt.Sprintf("%T", v)
}
