package plist

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type xmlPlistParser struct {
	reader             io.Reader
	xmlDecoder         *xml.Decoder
	whitespaceReplacer *strings.Replacer
	ntags              int
	idrefs             map[string]Value
	log                *zap.Logger
}

func (p *xmlPlistParser) parseDocument() (pval Value, parseError error) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(runtime.Error); ok {
				panic(r)
			}
			parseError = asParseError("XML", r)
			pval = nil
		}
	}()
	for {
		token, err := p.xmlDecoder.Token()
		if err != nil {
			// The first XML parse turned out to be invalid:
			// we do not have an XML property list.
			panic(&StructuralError{Format: "XML", Msg: "no plist element", Err: err})
		}
		if element, ok := token.(xml.StartElement); ok {
			pval = p.parseXMLElement(element)
			if p.ntags == 0 {
				panic(structuralf("XML", "no elements encountered"))
			}
			if pval == nil {
				panic(structuralf("XML", "empty plist element"))
			}
			return
		}
	}
}

func (p *xmlPlistParser) storeOrFindXMLElementValue(element xml.StartElement, value Value) Value {
	for _, attr := range element.Attr {
		switch attr.Name.Local {
		case "ID":
			p.idrefs[attr.Value] = value
		case "IDREF":
			ref, ok := p.idrefs[attr.Value]
			if !ok {
				p.log.Warn("unknown IDREF", zap.String("idref", attr.Value))
				return value
			}
			return ref
		}
	}
	return value
}

func (p *xmlPlistParser) charData(element xml.StartElement) string {
	var charData xml.CharData
	if err := p.xmlDecoder.DecodeElement(&charData, &element); err != nil {
		panic(err)
	}
	return string(charData)
}

func (p *xmlPlistParser) parseXMLElement(element xml.StartElement) Value {
	switch element.Name.Local {
	case "plist":
		p.ntags++
		for {
			token, err := p.xmlDecoder.Token()
			if err != nil {
				panic(err)
			}
			if el, ok := token.(xml.EndElement); ok && el.Name.Local == "plist" {
				break
			}
			if el, ok := token.(xml.StartElement); ok {
				return p.parseXMLElement(el)
			}
		}
		return nil
	case "string":
		p.ntags++
		return p.storeOrFindXMLElementValue(element, String(p.charData(element)))
	case "integer":
		p.ntags++
		s := strings.TrimSpace(p.charData(element))
		if len(s) == 0 {
			return p.storeOrFindXMLElementValue(element, Integer{})
		}
		if s[0] == '-' {
			s, base := unsignedGetBase(s[1:])
			n := mustParseInt("-"+s, base, 64)
			return p.storeOrFindXMLElementValue(element, Integer{Signed: true, Value: uint64(n)})
		}
		s, base := unsignedGetBase(s)
		n := mustParseUint(s, base, 64)
		return p.storeOrFindXMLElementValue(element, Integer{Value: n})
	case "real":
		p.ntags++
		s := strings.TrimSpace(p.charData(element))
		if len(s) == 0 {
			return p.storeOrFindXMLElementValue(element, Real(0))
		}
		return p.storeOrFindXMLElementValue(element, Real(mustParseFloat(s, 64)))
	case "true", "false":
		p.ntags++
		if err := p.xmlDecoder.Skip(); err != nil {
			panic(err)
		}
		return p.storeOrFindXMLElementValue(element, Boolean(element.Name.Local == "true"))
	case "date":
		p.ntags++
		s := strings.TrimSpace(p.charData(element))
		if len(s) == 0 {
			return p.storeOrFindXMLElementValue(element, Date(time.Time{}))
		}
		t, err := time.ParseInLocation(time.RFC3339, s, time.UTC)
		if err != nil {
			panic(err)
		}
		return p.storeOrFindXMLElementValue(element, Date(t))
	case "data":
		p.ntags++
		str := p.whitespaceReplacer.Replace(p.charData(element))
		if len(str) == 0 {
			return p.storeOrFindXMLElementValue(element, Data(nil))
		}
		buf := make([]byte, base64.StdEncoding.DecodedLen(len(str)))
		l, err := base64.StdEncoding.Decode(buf, []byte(str))
		if err != nil {
			panic(err)
		}
		return p.storeOrFindXMLElementValue(element, Data(buf[:l]))
	case "dict":
		p.ntags++
		var key *string
		dict := NewDictionary()
		for {
			token, err := p.xmlDecoder.Token()
			if err != nil {
				panic(err)
			}
			if el, ok := token.(xml.EndElement); ok && el.Name.Local == "dict" {
				if key != nil {
					panic(errors.New("missing value in dictionary"))
				}
				break
			}
			if el, ok := token.(xml.StartElement); ok {
				if el.Name.Local == "key" {
					var k string
					if err := p.xmlDecoder.DecodeElement(&k, &el); err != nil {
						panic(err)
					}
					key = &k
				} else {
					if key == nil {
						panic(errors.New("missing key in dictionary"))
					}
					dict.set(*key, p.parseXMLElement(el))
					key = nil
				}
			}
		}
		return p.storeOrFindXMLElementValue(element, maybeUID(dict))
	case "array":
		p.ntags++
		values := make([]Value, 0, 10)
		for {
			token, err := p.xmlDecoder.Token()
			if err != nil {
				panic(err)
			}
			if el, ok := token.(xml.EndElement); ok && el.Name.Local == "array" {
				break
			}
			if el, ok := token.(xml.StartElement); ok {
				values = append(values, p.parseXMLElement(el))
			}
		}
		return p.storeOrFindXMLElementValue(element, &Array{values: values})
	}
	err := fmt.Errorf("encountered unknown element %s", element.Name.Local)
	if p.ntags == 0 {
		panic(&StructuralError{Format: "XML", Msg: "not a property list", Err: err})
	}
	panic(err)
}

// maybeUID collapses a lone CF$UID dictionary into a UID, which is how XML
// keyed archives spell back-references.
func maybeUID(dict *Dictionary) Value {
	if dict.Len() != 1 {
		return dict
	}
	v, ok := dict.Get("CF$UID")
	if !ok {
		return dict
	}
	if n, ok := v.(Integer); ok {
		return UID(n.Value)
	}
	return dict
}

func unsignedGetBase(s string) (string, int) {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:], 16
	}
	return s, 10
}

func mustParseInt(str string, base, bits int) int64 {
	i, err := strconv.ParseInt(str, base, bits)
	if err != nil {
		panic(err)
	}
	return i
}

func mustParseUint(str string, base, bits int) uint64 {
	i, err := strconv.ParseUint(str, base, bits)
	if err != nil {
		panic(err)
	}
	return i
}

func mustParseFloat(str string, bits int) float64 {
	i, err := strconv.ParseFloat(str, bits)
	if err != nil {
		panic(err)
	}
	return i
}

func newXMLPlistParser(r io.Reader, opts DecoderOptions) *xmlPlistParser {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}
	return &xmlPlistParser{
		reader:             r,
		xmlDecoder:         xml.NewDecoder(r),
		whitespaceReplacer: strings.NewReplacer("\t", "", "\n", "", " ", "", "\r", ""),
		ntags:              0,
		idrefs:             make(map[string]Value),
		log:                log,
	}
}
