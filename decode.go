package plist

import (
	"bytes"
	"io"
	"io/ioutil"
	"runtime"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Property list format constants
const (
	// Used by Decoder to represent an invalid property list.
	InvalidFormat int = 0

	XMLFormat    = 1
	BinaryFormat = 2
)

// FormatNames maps format constants to display names.
var FormatNames = map[int]string{
	InvalidFormat: "unknown/invalid",
	XMLFormat:     "XML",
	BinaryFormat:  "Binary",
}

// DecoderOptions configures decoding.
type DecoderOptions struct {
	// Logger receives non-fatal warnings. Defaults to Logger().
	Logger *zap.Logger

	// Strict makes a collection child that does not resolve a fatal
	// StructuralError. By default such children are dropped.
	Strict bool
}

// A Decoder reads a property list from an input stream.
type Decoder struct {
	// the format of the most-recently-decoded property list
	Format int

	reader io.Reader
	opts   DecoderOptions
}

// NewDecoder returns a Decoder that reads property list elements from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{Format: InvalidFormat, reader: r}
}

// NewDecoderWithOptions returns a Decoder configured by opts.
func NewDecoderWithOptions(r io.Reader, opts DecoderOptions) *Decoder {
	return &Decoder{Format: InvalidFormat, reader: r, opts: opts}
}

// DecodeValue reads the whole stream and returns the root value.
func (d *Decoder) DecodeValue() (Value, error) {
	buf, err := ioutil.ReadAll(d.reader)
	if err != nil {
		return nil, errors.Wrap(err, "plist: read")
	}
	v, format, err := parseBytes(buf, d.opts)
	if err != nil {
		return nil, err
	}
	d.Format = format
	return v, nil
}

// Decode works like Unmarshal, except it reads the decoder stream to find
// property list elements.
func (d *Decoder) Decode(v interface{}) error {
	pval, err := d.DecodeValue()
	if err != nil {
		return err
	}
	return Unmarshal(pval, v)
}

// Parse decodes a property list held in memory. Binary property lists are
// recognized by their magic; anything else is parsed as XML.
func Parse(data []byte) (Value, error) {
	v, _, err := parseBytes(data, DecoderOptions{})
	return v, err
}

// ParseWithOptions is Parse with explicit options.
func ParseWithOptions(data []byte, opts DecoderOptions) (Value, error) {
	v, _, err := parseBytes(data, opts)
	return v, err
}

// ParseBinary decodes a bplist00 buffer. buf is never modified, and Data
// values in the result alias it.
func ParseBinary(buf []byte, opts DecoderOptions) (Value, error) {
	return newBplistParser(buf, opts).parseDocument()
}

func parseBytes(data []byte, opts DecoderOptions) (Value, int, error) {
	if bytes.HasPrefix(data, []byte(bplistMagic)) {
		v, err := ParseBinary(data, opts)
		return v, BinaryFormat, err
	}
	v, err := newXMLPlistParser(bytes.NewReader(data), opts).parseDocument()
	return v, XMLFormat, err
}

func (p *bplistParser) parseDocument() (pval Value, parseError error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			parseError = asParseError("binary", r)
			pval = nil
		}
	}()

	version, err := parseHeader(p.buffer)
	if err != nil {
		return nil, err
	}
	p.version = version
	if version != "00" {
		p.log.Warn("unexpected bplist version", zap.String("version", version))
	}

	p.trailer, p.trailerOffset, err = parseTrailer(p.buffer)
	if err != nil {
		return nil, err
	}
	if err = p.trailer.validate(p.trailerOffset); err != nil {
		return nil, err
	}
	p.log.Debug("bplist trailer",
		zap.Uint8("offsetIntSize", p.trailer.OffsetIntSize),
		zap.Uint8("objectRefSize", p.trailer.ObjectRefSize),
		zap.Uint64("numObjects", p.trailer.NumObjects),
		zap.Uint64("topObject", p.trailer.TopObject),
		zap.Uint64("offsetTableOffset", p.trailer.OffsetTableOffset))

	offsets := p.parseOffsetTable()
	table := p.parseObjectTable()

	root, ok := newMaterializer(p, offsets, table).materialize(p.trailer.TopObject)
	if !ok {
		return nil, structuralf("binary", "top object #%d does not resolve", p.trailer.TopObject)
	}
	return root, nil
}

// asParseError converts a recovered panic value into an error. Typed
// decode errors pass through unchanged.
func asParseError(format string, r interface{}) error {
	switch e := r.(type) {
	case *StructuralError:
		return e
	case *RangeError:
		return e
	case error:
		return &StructuralError{Format: format, Msg: "parse error", Err: e}
	}
	return structuralf(format, "parse error: %v", r)
}
