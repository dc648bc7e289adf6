package plist

import "fmt"

// StructuralError reports malformed container-level data: bad magic, a
// truncated trailer, an inconsistent offset table, or a keyed archive whose
// header is missing required metadata. It always aborts decoding.
type StructuralError struct {
	Format string
	Msg    string
	Err    error
}

func (e *StructuralError) Error() string {
	s := "plist: invalid " + e.Format + " property list: " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// RangeError reports a reference or offset outside its table's bounds.
type RangeError struct {
	What  string
	Index uint64
	Limit uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("plist: %s %d out of range (limit %d)", e.What, e.Index, e.Limit)
}

func structuralf(format string, msg string, args ...interface{}) *StructuralError {
	return &StructuralError{Format: format, Msg: fmt.Sprintf(msg, args...)}
}
