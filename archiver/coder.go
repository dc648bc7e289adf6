package archiver

// A Coder reconstructs instances of one archived class from their keyed
// fields. Coders are compared by ==, so implementations must be comparable
// (empty structs or pointers).
type Coder interface {
	// ClassName is the $classname the coder handles.
	ClassName() string
	// Decode reconstructs the instance bound to u.
	Decode(u *Unarchiver) (interface{}, error)
}

// An AliasCoder also handles class names other than its ClassName, such
// as the mutable variants of Foundation classes.
type AliasCoder interface {
	Coder
	Aliases() []string
}

// classNames returns every class name c handles.
func classNames(c Coder) []string {
	names := []string{c.ClassName()}
	if a, ok := c.(AliasCoder); ok {
		names = append(names, a.Aliases()...)
	}
	return names
}

func handles(c Coder, className string) bool {
	for _, n := range classNames(c) {
		if n == className {
			return true
		}
	}
	return false
}

type coderFunc struct {
	name string
	fn   func(u *Unarchiver) (interface{}, error)
}

// NewCoderFunc returns a Coder for className backed by fn.
func NewCoderFunc(className string, fn func(u *Unarchiver) (interface{}, error)) Coder {
	return &coderFunc{name: className, fn: fn}
}

func (c *coderFunc) ClassName() string { return c.name }

func (c *coderFunc) Decode(u *Unarchiver) (interface{}, error) { return c.fn(u) }
