package archiver

import "fmt"

// DecodeMismatch reports a field whose kind differs from what a decode call
// required.
type DecodeMismatch struct {
	Key      string
	Expected string
	Actual   string
}

func (e *DecodeMismatch) Error() string {
	return fmt.Sprintf("archiver: for key %s: expected %s but found %s", e.Key, e.Expected, e.Actual)
}

// MissingDecoder reports an archived class name with no registered coder
// in the registry of the instance that asked for it.
type MissingDecoder struct {
	ClassName       string
	ParentClassName string
}

func (e *MissingDecoder) Error() string {
	return fmt.Sprintf("archiver: no coder for $classname=%s in coder for %s", e.ClassName, e.ParentClassName)
}

// MissingValueError reports a required field that is absent or null.
type MissingValueError struct {
	Key string
}

func (e *MissingValueError) Error() string {
	return fmt.Sprintf("archiver: value for key %s is null or omitted", e.Key)
}

// DepthError reports an instance graph nested deeper than the configured
// maximum, which is also how reference cycles between instances surface.
type DepthError struct {
	ClassName string
	MaxDepth  int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("archiver: decoding %s exceeds maximum depth %d", e.ClassName, e.MaxDepth)
}

func mismatch(key, expected string, actual interface{}) *DecodeMismatch {
	return &DecodeMismatch{Key: key, Expected: expected, Actual: describe(actual)}
}
