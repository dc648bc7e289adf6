// Package archiver rebuilds object graphs from NSKeyedArchiver archives.
//
// An archive is a property list whose $objects array holds every archived
// value, with instances referring to each other by UID. Decoding starts
// from the instance named by $top.root and is driven by Coders: each coder
// reads the keyed fields of one instance through an Unarchiver and decides
// which classes its members may be decoded as.
package archiver

import (
	"bytes"
	"fmt"
	"io/ioutil"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/zdypro888/plist"
)

const (
	// ArchiverName is the only $archiver value accepted.
	ArchiverName = "NSKeyedArchiver"
	// ArchiveVersion is the $version every known archiver writes.
	ArchiveVersion = 100000
	// DefaultMaxDepth bounds instance nesting during a decode.
	DefaultMaxDepth = 10000
)

type archiveTop struct {
	Root plist.Value `plist:"root,required"`
}

type archiveHeader struct {
	Objects plist.Value `plist:"$objects,required"`
	Top     *archiveTop `plist:"$top,required"`
}

// Option configures a decode.
type Option func(*options)

type options struct {
	log      *zap.Logger
	maxDepth int
	coders   []Coder
	strict   bool
}

// WithLogger sends warnings and debug output of the decode to l.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithMaxDepth bounds instance nesting. Values below 1 keep the default.
func WithMaxDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

// WithCoders registers coders on the root instance, next to the ones the
// root coder registers itself.
func WithCoders(coders ...Coder) Option {
	return func(o *options) { o.coders = append(o.coders, coders...) }
}

// WithStrict makes the property list decoder fail on unresolvable
// container children instead of dropping them.
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

func newOptions(opts []Option) *options {
	o := &options{maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = plist.Logger()
	}
	return o
}

// Archive is a validated keyed archive, ready to be decoded.
type Archive struct {
	Archiver string
	Version  uint64
	Root     plist.UID
	Objects  *Objects

	opts *options
}

// ReadArchive validates the keyed-archive header of pl.
//
// $archiver must be NSKeyedArchiver, $objects must be an array and
// $top.root a UID. A $version other than 100000 is only a warning.
func ReadArchive(pl plist.Value, opts ...Option) (*Archive, error) {
	o := newOptions(opts)
	dict, ok := pl.(*plist.Dictionary)
	if !ok {
		return nil, headerError("archive is %s, not a dictionary", plist.TypeName(pl))
	}
	if name, _ := dict.Get("$archiver"); !isString(name, ArchiverName) {
		return nil, headerError("unsupported $archiver %s", describe(name))
	}

	a := &Archive{Archiver: ArchiverName, opts: o}
	version, _ := dict.Get("$version")
	if v, ok := version.(plist.Integer); ok {
		a.Version = v.Value
	}
	if a.Version != ArchiveVersion {
		o.log.Warn("unexpected keyed archive version",
			zap.String("version", describe(version)), zap.Int("expected", ArchiveVersion))
	}

	var hdr archiveHeader
	if err := plist.Unmarshal(dict, &hdr); err != nil {
		return nil, &plist.StructuralError{Format: "keyed archive", Msg: "bad header", Err: err}
	}

	objects, ok := hdr.Objects.(*plist.Array)
	if !ok {
		return nil, headerError("$objects is %s, not an array", plist.TypeName(hdr.Objects))
	}
	a.Objects = NewObjects(objects.Values())

	root, ok := hdr.Top.Root.(plist.UID)
	if !ok {
		return nil, headerError("$top.root is %s, not a UID", plist.TypeName(hdr.Top.Root))
	}
	a.Root = root
	return a, nil
}

// ReadFromData parses a property list and validates it as a keyed archive.
func ReadFromData(data []byte, opts ...Option) (*Archive, error) {
	o := newOptions(opts)
	pl, err := plist.ParseWithOptions(data, plist.DecoderOptions{Logger: o.log, Strict: o.strict})
	if err != nil {
		return nil, err
	}
	return ReadArchive(pl, opts...)
}

// ReadFromZipData is ReadFromData for gzip-compressed archives.
func ReadFromZipData(data []byte, opts ...Option) (*Archive, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	raw, err := ioutil.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return ReadFromData(raw, opts...)
}

// Unarchive decodes the archive's root instance with root.
func (a *Archive) Unarchive(root Coder) (interface{}, error) {
	v, err := a.Objects.Get(a.Root)
	if err != nil {
		return nil, err
	}
	inst, ok := v.(*plist.Dictionary)
	if !ok {
		return nil, headerError("root object is %s, not an archived instance", plist.TypeName(v))
	}
	if _, ok := inst.Get("$class"); !ok {
		return nil, headerError("root object has no $class")
	}

	s := &session{objects: a.Objects, log: a.opts.log, maxDepth: a.opts.maxDepth}
	u := newUnarchiver(s, root, inst, 0)
	for _, c := range a.opts.coders {
		if err := u.SetClass(c); err != nil {
			return nil, err
		}
	}
	a.opts.log.Debug("unarchiving",
		zap.String("root", root.ClassName()), zap.Int("objects", a.Objects.Len()))
	return root.Decode(u)
}

// Unarchive validates pl as a keyed archive and decodes its root with root.
func Unarchive(root Coder, pl plist.Value, opts ...Option) (interface{}, error) {
	a, err := ReadArchive(pl, opts...)
	if err != nil {
		return nil, err
	}
	return a.Unarchive(root)
}

// UnarchiveBytes is Unarchive for an encoded property list.
func UnarchiveBytes(root Coder, data []byte, opts ...Option) (interface{}, error) {
	a, err := ReadFromData(data, opts...)
	if err != nil {
		return nil, err
	}
	return a.Unarchive(root)
}

// UnarchiveGzip is Unarchive for a gzip-compressed property list.
func UnarchiveGzip(root Coder, data []byte, opts ...Option) (interface{}, error) {
	a, err := ReadFromZipData(data, opts...)
	if err != nil {
		return nil, err
	}
	return a.Unarchive(root)
}

func isString(v plist.Value, want string) bool {
	s, ok := v.(plist.String)
	return ok && string(s) == want
}

func headerError(msg string, args ...interface{}) error {
	return &plist.StructuralError{Format: "keyed archive", Msg: fmt.Sprintf(msg, args...)}
}
