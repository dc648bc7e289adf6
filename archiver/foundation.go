package archiver

import (
	"fmt"

	uuid "github.com/satori/go.uuid"
	"go.uber.org/zap"

	"github.com/zdypro888/plist"
)

// ArrayCoder decodes NSArray and NSMutableArray into []interface{}.
// Elements are decoded with the coders registered on the array instance;
// inline elements become plain Go values, as dictionary members do.
type ArrayCoder struct{}

func (ArrayCoder) ClassName() string { return "NSArray" }

func (ArrayCoder) Aliases() []string { return []string{"NSMutableArray"} }

func (ArrayCoder) Decode(u *Unarchiver) (interface{}, error) {
	v, _ := u.Field("NS.objects")
	arr, ok := v.(*plist.Array)
	if !ok {
		return nil, mismatch("NS.objects", "array", v)
	}
	out := make([]interface{}, 0, arr.Len())
	for i, e := range arr.Values() {
		if _, ok := e.(plist.UID); !ok {
			u.Logger().Warn("inline array element converted to a plain value",
				zap.Int("index", i), zap.String("type", plist.TypeName(e)))
		}
		obj, err := u.element(e, fmt.Sprintf("NS.objects[%d]", i))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// DictionaryCoder decodes NSDictionary and NSMutableDictionary with string
// keys into map[string]interface{}.
type DictionaryCoder struct{}

func (DictionaryCoder) ClassName() string { return "NSDictionary" }

func (DictionaryCoder) Aliases() []string { return []string{"NSMutableDictionary"} }

func (DictionaryCoder) Decode(u *Unarchiver) (interface{}, error) {
	kv, _ := u.Field("NS.keys")
	keys, ok := kv.(*plist.Array)
	if !ok {
		return nil, mismatch("NS.keys", "array", kv)
	}
	ov, _ := u.Field("NS.objects")
	objects, ok := ov.(*plist.Array)
	if !ok {
		return nil, mismatch("NS.objects", "array", ov)
	}
	if keys.Len() != objects.Len() {
		return nil, &DecodeMismatch{
			Key:      "NS.objects",
			Expected: fmt.Sprintf("%d values", keys.Len()),
			Actual:   fmt.Sprintf("%d values", objects.Len()),
		}
	}

	out := make(map[string]interface{}, keys.Len())
	for i := 0; i < keys.Len(); i++ {
		label := fmt.Sprintf("NS.keys[%d]", i)
		k, err := u.element(keys.At(i), label)
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, &DecodeMismatch{Key: label, Expected: "string", Actual: fmt.Sprintf("%T", k)}
		}
		val, err := u.element(objects.At(i), fmt.Sprintf("NS.objects[%d]", i))
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

// DataCoder decodes NSData and NSMutableData into []byte.
type DataCoder struct{}

func (DataCoder) ClassName() string { return "NSData" }

func (DataCoder) Aliases() []string { return []string{"NSMutableData"} }

func (DataCoder) Decode(u *Unarchiver) (interface{}, error) {
	b, err := u.DecodeBytes("NS.data", true)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DateCoder decodes NSDate into a UTC time.Time. NS.time counts seconds
// from 2001-01-01T00:00:00Z.
type DateCoder struct{}

func (DateCoder) ClassName() string { return "NSDate" }

func (DateCoder) Decode(u *Unarchiver) (interface{}, error) {
	v, _ := u.Field("NS.time")
	var secs float64
	switch t := v.(type) {
	case plist.Real:
		secs = float64(t)
	case plist.Integer:
		if t.Signed {
			secs = float64(t.Int64())
		} else {
			secs = float64(t.Value)
		}
	default:
		return nil, mismatch("NS.time", "number", v)
	}
	return plist.CFAbsoluteTime(secs), nil
}

// UUIDCoder decodes NSUUID into a uuid.UUID from its 16 raw bytes.
type UUIDCoder struct{}

func (UUIDCoder) ClassName() string { return "NSUUID" }

func (UUIDCoder) Decode(u *Unarchiver) (interface{}, error) {
	b, err := u.DecodeBytes("NS.uuidbytes", true)
	if err != nil {
		return nil, err
	}
	if len(b) < uuid.Size {
		return nil, &DecodeMismatch{
			Key:      "NS.uuidbytes",
			Expected: fmt.Sprintf("%d bytes", uuid.Size),
			Actual:   fmt.Sprintf("%d bytes", len(b)),
		}
	}
	return uuid.FromBytes(b[:uuid.Size])
}

// Foundation returns a coder for each supported Foundation class.
func Foundation() []Coder {
	return []Coder{ArrayCoder{}, DictionaryCoder{}, DataCoder{}, DateCoder{}, UUIDCoder{}}
}

// element decodes one member of a collection: references are resolved
// through the registry, inline values pass through unchanged.
func (u *Unarchiver) element(v plist.Value, label string) (interface{}, error) {
	if uid, ok := v.(plist.UID); ok {
		return u.DecodeReference(uid, label)
	}
	return plist.Plain(v), nil
}
