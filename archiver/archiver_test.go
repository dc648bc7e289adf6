package archiver_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zdypro888/plist"
	"github.com/zdypro888/plist/archiver"
)

// archive wraps objects (UID 1 onwards) in a keyed-archive header.
func archive(root plist.UID, objects ...plist.Value) *plist.Dictionary {
	all := append([]plist.Value{plist.String("$null")}, objects...)
	return plist.NewDictionary().
		With("$version", plist.Integer{Value: archiver.ArchiveVersion}).
		With("$archiver", plist.String(archiver.ArchiverName)).
		With("$top", plist.NewDictionary().With("root", root)).
		With("$objects", plist.NewArray(all...))
}

func class(name string, supers ...string) *plist.Dictionary {
	classes := []plist.Value{plist.String(name)}
	for _, s := range supers {
		classes = append(classes, plist.String(s))
	}
	return plist.NewDictionary().
		With("$classname", plist.String(name)).
		With("$classes", plist.NewArray(classes...))
}

// instance builds an archived instance from alternating keys and values.
func instance(cls plist.UID, kv ...interface{}) *plist.Dictionary {
	d := plist.NewDictionary().With("$class", cls)
	for i := 0; i < len(kv); i += 2 {
		d.With(kv[i].(string), kv[i+1].(plist.Value))
	}
	return d
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	return zap.New(core), logs
}

func TestUnarchiveUUID(t *testing.T) {
	raw := plist.Data{0x12, 0x3e, 0x45, 0x67, 0xe8, 0x9b, 0x12, 0xd3, 0xa4, 0x56, 0x42, 0x66, 0x14, 0x17, 0x40, 0x00}
	pl := archive(1,
		instance(2, "NS.uuidbytes", raw),
		class("NSUUID", "NSObject"),
	)

	v, err := archiver.Unarchive(archiver.UUIDCoder{}, pl)
	require.NoError(t, err)
	id, ok := v.(uuid.UUID)
	require.True(t, ok, "got %T", v)
	require.Equal(t, "123e4567-e89b-12d3-a456-426614174000", id.String())

	short := archive(1, instance(2, "NS.uuidbytes", raw[:8]), class("NSUUID"))
	_, err = archiver.Unarchive(archiver.UUIDCoder{}, short)
	var mismatch *archiver.DecodeMismatch
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	require.Equal(t, "NS.uuidbytes", mismatch.Key)
}

func TestUnarchiveDate(t *testing.T) {
	epoch := time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		time plist.Value
		want time.Time
	}{
		{"real zero", plist.Real(0), epoch},
		{"fractional", plist.Real(1.5), epoch.Add(1500 * time.Millisecond)},
		{"integer", plist.Integer{Value: 86400}, epoch.AddDate(0, 0, 1)},
		{"negative", plist.Real(-60), epoch.Add(-time.Minute)},
		{"distant future", plist.Real(63113904000), time.Date(4001, time.January, 1, 0, 0, 0, 0, time.UTC)},
		{"distant past", plist.Real(-63113904000), time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pl := archive(1, instance(2, "NS.time", tt.time), class("NSDate", "NSObject"))
			v, err := archiver.Unarchive(archiver.DateCoder{}, pl)
			require.NoError(t, err)
			got := v.(time.Time)
			require.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
			require.Equal(t, time.UTC, got.Location())
		})
	}

	pl := archive(1, instance(2, "NS.time", plist.String("soon")), class("NSDate"))
	_, err := archiver.Unarchive(archiver.DateCoder{}, pl)
	var mismatch *archiver.DecodeMismatch
	require.True(t, errors.As(err, &mismatch), "got %v", err)
}

func TestArchiveHeader(t *testing.T) {
	valid := func() *plist.Dictionary {
		return archive(1, instance(2, "NS.time", plist.Real(0)), class("NSDate"))
	}

	tests := []struct {
		name string
		pl   plist.Value
	}{
		{"not a dictionary", plist.NewArray()},
		{"wrong archiver", valid().With("$archiver", plist.String("NSArchiver"))},
		{"archiver is data", valid().With("$archiver", plist.Data("NSKeyedArchiver"))},
		{"objects missing", plist.NewDictionary().
			With("$archiver", plist.String(archiver.ArchiverName)).
			With("$top", plist.NewDictionary().With("root", plist.UID(1)))},
		{"objects not an array", valid().With("$objects", plist.String("nope"))},
		{"top missing", plist.NewDictionary().
			With("$archiver", plist.String(archiver.ArchiverName)).
			With("$objects", plist.NewArray())},
		{"root not a UID", valid().With("$top", plist.NewDictionary().With("root", plist.Integer{Value: 1}))},
		{"root not an instance", archive(1, plist.String("loose"))},
		{"root without class", archive(1, plist.NewDictionary().With("NS.time", plist.Real(0)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := archiver.Unarchive(archiver.DateCoder{}, tt.pl)
			var serr *plist.StructuralError
			require.True(t, errors.As(err, &serr), "got %T: %v", err, err)
		})
	}

	t.Run("root out of range", func(t *testing.T) {
		_, err := archiver.Unarchive(archiver.DateCoder{}, archive(7))
		var rerr *plist.RangeError
		require.True(t, errors.As(err, &rerr), "got %T: %v", err, err)
	})
}

func TestArchiverCheckedFirst(t *testing.T) {
	log, logs := observedLogger()
	pl := plist.NewDictionary().
		With("$archiver", plist.String("NSArchiver")).
		With("$version", plist.Integer{Value: 7})

	_, err := archiver.Unarchive(archiver.DateCoder{}, pl, archiver.WithLogger(log))
	require.Error(t, err)
	require.Contains(t, err.Error(), "$archiver")
	require.Equal(t, 0, logs.Len())
}

func TestVersionMismatchWarns(t *testing.T) {
	log, logs := observedLogger()
	pl := archive(1, instance(2, "NS.time", plist.Real(0)), class("NSDate")).
		With("$version", plist.Integer{Value: 99999})

	_, err := archiver.Unarchive(archiver.DateCoder{}, pl, archiver.WithLogger(log))
	require.NoError(t, err)
	warned := logs.FilterMessage("unexpected keyed archive version").All()
	require.Len(t, warned, 1)
	require.Equal(t, "integer 99999", warned[0].ContextMap()["version"])
}

func TestScalarDefaults(t *testing.T) {
	pl := archive(1,
		instance(2,
			"flag", plist.Boolean(false),
			"count", plist.Integer{Value: 12},
			"big", plist.Integer{Value: 1 << 40},
			"ratio", plist.Real(0.5),
			"blob", plist.Data{9},
			"nothing", plist.UID(0),
		),
		class("Settings"),
	)

	root := archiver.NewCoderFunc("Settings", func(u *archiver.Unarchiver) (interface{}, error) {
		require.Equal(t, "Settings", u.ClassName())
		require.True(t, u.ContainsValue("flag"))
		require.False(t, u.ContainsValue("$class"))
		require.False(t, u.ContainsValue("absent"))

		b, err := u.DecodeBool("absent")
		require.NoError(t, err)
		require.True(t, b)
		b, err = u.DecodeBool("flag")
		require.NoError(t, err)
		require.False(t, b)

		n, err := u.DecodeInt32("absent")
		require.NoError(t, err)
		require.Zero(t, n)
		n, err = u.DecodeInt32("count")
		require.NoError(t, err)
		require.Equal(t, int32(12), n)

		_, err = u.DecodeInt32("big")
		var mismatch *archiver.DecodeMismatch
		require.True(t, errors.As(err, &mismatch), "got %v", err)
		big, err := u.DecodeInt64("big")
		require.NoError(t, err)
		require.Equal(t, int64(1<<40), big)

		f, err := u.DecodeDouble("ratio")
		require.NoError(t, err)
		require.Equal(t, 0.5, f)
		f, err = u.DecodeDouble("absent")
		require.NoError(t, err)
		require.Zero(t, f)
		_, err = u.DecodeDouble("count")
		require.True(t, errors.As(err, &mismatch), "got %v", err)

		raw, err := u.DecodeBytes("blob", true)
		require.NoError(t, err)
		require.Equal(t, []byte{9}, raw)
		raw, err = u.DecodeBytes("absent", false)
		require.NoError(t, err)
		require.Nil(t, raw)
		_, err = u.DecodeBytes("absent", true)
		var missing *archiver.MissingValueError
		require.True(t, errors.As(err, &missing), "got %v", err)
		require.Equal(t, "absent", missing.Key)

		s, err := u.DecodeString("absent", false)
		require.NoError(t, err)
		require.Empty(t, s)
		_, err = u.DecodeString("absent", true)
		require.True(t, errors.As(err, &missing), "got %v", err)

		obj, err := u.DecodeObject("nothing", false)
		require.NoError(t, err)
		require.Nil(t, obj)
		_, err = u.DecodeObject("nothing", true)
		require.True(t, errors.As(err, &missing), "got %v", err)
		_, err = u.DecodeObject("count", false)
		require.True(t, errors.As(err, &mismatch), "got %v", err)
		return "done", nil
	})

	v, err := archiver.Unarchive(root, pl)
	require.NoError(t, err)
	require.Equal(t, "done", v)
}

func TestMissingDecoder(t *testing.T) {
	pl := archive(1,
		instance(2, "child", plist.UID(3)),
		class("Parent"),
		instance(4),
		class("Mystery"),
	)
	root := archiver.NewCoderFunc("Parent", func(u *archiver.Unarchiver) (interface{}, error) {
		return u.DecodeObject("child", true)
	})

	_, err := archiver.Unarchive(root, pl)
	var missing *archiver.MissingDecoder
	require.True(t, errors.As(err, &missing), "got %v", err)
	require.Equal(t, "Mystery", missing.ClassName)
	require.Equal(t, "Parent", missing.ParentClassName)
}

func TestArrayRegistryIsPerInstance(t *testing.T) {
	pl := archive(1,
		instance(2, "items", plist.UID(3)),
		class("Holder"),
		instance(4, "NS.objects", plist.NewArray(plist.UID(5), plist.UID(6))),
		class("NSMutableArray", "NSArray", "NSObject"),
		plist.String("first"),
		instance(7, "NS.time", plist.Real(0)),
		class("NSDate", "NSObject"),
	)

	t.Run("coders handed to the array", func(t *testing.T) {
		root := archiver.NewCoderFunc("Holder", func(u *archiver.Unarchiver) (interface{}, error) {
			return u.DecodeObjectOf("items", true, archiver.ArrayCoder{}, archiver.DateCoder{})
		})
		v, err := archiver.Unarchive(root, pl)
		require.NoError(t, err)
		items := v.([]interface{})
		require.Len(t, items, 2)
		require.Equal(t, "first", items[0])
		require.True(t, items[1].(time.Time).Equal(time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("coders registered on the parent only", func(t *testing.T) {
		root := archiver.NewCoderFunc("Holder", func(u *archiver.Unarchiver) (interface{}, error) {
			if err := u.SetClass(archiver.DateCoder{}); err != nil {
				return nil, err
			}
			return u.DecodeObjectOf("items", true, archiver.ArrayCoder{})
		})
		_, err := archiver.Unarchive(root, pl)
		var missing *archiver.MissingDecoder
		require.True(t, errors.As(err, &missing), "got %v", err)
		require.Equal(t, "NSDate", missing.ClassName)
		require.Equal(t, "NSArray", missing.ParentClassName)
	})

	t.Run("class not offered", func(t *testing.T) {
		root := archiver.NewCoderFunc("Holder", func(u *archiver.Unarchiver) (interface{}, error) {
			return u.DecodeObjectOf("items", true, archiver.DateCoder{})
		})
		_, err := archiver.Unarchive(root, pl)
		var mismatch *archiver.DecodeMismatch
		require.True(t, errors.As(err, &mismatch), "got %v", err)
		require.Equal(t, "NSMutableArray", mismatch.Actual)
	})
}

func TestArrayConvertsInlineElements(t *testing.T) {
	log, logs := observedLogger()
	pl := archive(1,
		instance(2, "NS.objects", plist.NewArray(plist.Integer{Value: 3}, plist.UID(3))),
		class("NSArray"),
		plist.String("ref"),
	)
	v, err := archiver.Unarchive(archiver.ArrayCoder{}, pl, archiver.WithLogger(log))
	require.NoError(t, err)
	require.Equal(t, []interface{}{uint64(3), "ref"}, v)
	require.Equal(t, 1, logs.FilterMessage("inline array element converted to a plain value").Len())
}

func TestDecodeObjectOfLeaf(t *testing.T) {
	pl := archive(1, instance(2, "name", plist.UID(3)), class("Holder"), plist.String("plain"))
	root := archiver.NewCoderFunc("Holder", func(u *archiver.Unarchiver) (interface{}, error) {
		return u.DecodeObjectOf("name", true, archiver.ArrayCoder{})
	})
	_, err := archiver.Unarchive(root, pl)
	var mismatch *archiver.DecodeMismatch
	require.True(t, errors.As(err, &mismatch), "got %v", err)
	require.Equal(t, "name", mismatch.Key)
}

func TestDepthLimit(t *testing.T) {
	pl := archive(1, instance(2, "next", plist.UID(1)), class("Node"))

	var node archiver.Coder
	node = archiver.NewCoderFunc("Node", func(u *archiver.Unarchiver) (interface{}, error) {
		return u.DecodeObjectOf("next", false, node)
	})

	_, err := archiver.Unarchive(node, pl, archiver.WithMaxDepth(32))
	var derr *archiver.DepthError
	require.True(t, errors.As(err, &derr), "got %v", err)
	require.Equal(t, 32, derr.MaxDepth)
	require.Equal(t, "Node", derr.ClassName)
}

func TestSetClass(t *testing.T) {
	pl := archive(1, instance(2), class("Root"))
	root := archiver.NewCoderFunc("Root", func(u *archiver.Unarchiver) (interface{}, error) {
		require.NoError(t, u.SetClass(archiver.ArrayCoder{}))
		require.NoError(t, u.SetClass(archiver.ArrayCoder{}))

		c, ok := u.GetClass("NSMutableArray")
		require.True(t, ok)
		require.Equal(t, archiver.ArrayCoder{}, c)

		other := archiver.NewCoderFunc("NSArray", func(*archiver.Unarchiver) (interface{}, error) { return nil, nil })
		require.Error(t, u.SetClass(other))
		require.NoError(t, u.SetClass(other, "CustomArray"))

		_, ok = u.GetClass("NSDate")
		require.False(t, ok)
		return nil, nil
	})
	_, err := archiver.Unarchive(root, pl)
	require.NoError(t, err)
}

func TestFoundationCollections(t *testing.T) {
	pl := archive(1,
		instance(2,
			"NS.keys", plist.NewArray(plist.UID(3), plist.UID(4), plist.UID(5)),
			"NS.objects", plist.NewArray(plist.UID(6), plist.UID(8), plist.Boolean(true)),
		),
		class("NSMutableDictionary", "NSDictionary", "NSObject"),
		plist.String("blob"),
		plist.String("name"),
		plist.String("flag"),
		instance(7, "NS.data", plist.Data{1, 2}),
		class("NSMutableData", "NSData", "NSObject"),
		plist.String("ply"),
	)

	v, err := archiver.Unarchive(archiver.DictionaryCoder{}, pl, archiver.WithCoders(archiver.Foundation()...))
	require.NoError(t, err)
	expected := map[string]interface{}{
		"blob": []byte{1, 2},
		"name": "ply",
		"flag": true,
	}
	if diff := cmp.Diff(expected, v); diff != "" {
		t.Errorf("NSDictionary mismatch (-want +got):\n%s", diff)
	}
}

func TestObjectsGet(t *testing.T) {
	objects := archiver.NewObjects([]plist.Value{plist.String("$null"), plist.String("a")})
	v, err := objects.Get(0)
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = objects.Get(1)
	require.NoError(t, err)
	require.Equal(t, plist.String("a"), v)

	_, err = objects.Get(2)
	var rerr *plist.RangeError
	require.True(t, errors.As(err, &rerr), "got %v", err)
	require.Equal(t, uint64(2), rerr.Index)
}

const xmlArchive = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>$archiver</key>
	<string>NSKeyedArchiver</string>
	<key>$objects</key>
	<array>
		<string>$null</string>
		<dict>
			<key>$class</key>
			<dict><key>CF$UID</key><integer>4</integer></dict>
			<key>NS.objects</key>
			<array>
				<dict><key>CF$UID</key><integer>2</integer></dict>
				<dict><key>CF$UID</key><integer>3</integer></dict>
			</array>
		</dict>
		<string>x</string>
		<string>y</string>
		<dict>
			<key>$classes</key>
			<array><string>NSArray</string><string>NSObject</string></array>
			<key>$classname</key>
			<string>NSArray</string>
		</dict>
	</array>
	<key>$top</key>
	<dict>
		<key>root</key>
		<dict><key>CF$UID</key><integer>1</integer></dict>
	</dict>
	<key>$version</key>
	<integer>100000</integer>
</dict>
</plist>
`

func TestUnarchiveBytesAndGzip(t *testing.T) {
	v, err := archiver.UnarchiveBytes(archiver.ArrayCoder{}, []byte(xmlArchive))
	require.NoError(t, err)
	require.Equal(t, []interface{}{"x", "y"}, v)

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err = w.Write([]byte(xmlArchive))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	v, err = archiver.UnarchiveGzip(archiver.ArrayCoder{}, buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, []interface{}{"x", "y"}, v)

	_, err = archiver.UnarchiveGzip(archiver.ArrayCoder{}, []byte(xmlArchive))
	require.Error(t, err)
}

func TestPrint(t *testing.T) {
	pl := archive(1,
		instance(2,
			"NS.objects", plist.NewArray(plist.UID(3), plist.UID(1)),
		),
		class("NSArray"),
		plist.String("x"),
	)
	a, err := archiver.ReadArchive(pl)
	require.NoError(t, err)
	require.Equal(t, plist.UID(1), a.Root)
	require.Equal(t, uint64(archiver.ArchiveVersion), a.Version)

	out := a.Print()
	require.True(t, strings.HasPrefix(out, "NSArray{\n"), out)
	require.Contains(t, out, "[0]: string(x)")
	require.Contains(t, out, "[1]: <cycle UID(1)>")
}

func TestPrintSharedInstances(t *testing.T) {
	pl := archive(1,
		instance(2, "NS.objects", plist.NewArray(plist.UID(3), plist.UID(3))),
		class("NSArray"),
		instance(2, "NS.objects", plist.NewArray(plist.UID(4))),
		plist.String("leaf"),
	)
	a, err := archiver.ReadArchive(pl)
	require.NoError(t, err)

	out := a.Print()
	require.Equal(t, 1, strings.Count(out, "string(leaf)"), out)
	require.Contains(t, out, "[1]: <ref UID(3)>")
	require.NotContains(t, out, "<cycle")

	// A chain where every level references the next one twice renders
	// each level once.
	const levels = 31
	objects := []plist.Value{class("NSArray")}
	for i := 0; i < levels; i++ {
		next := plist.UID(i + 3)
		objects = append(objects, instance(1, "NS.objects", plist.NewArray(next, next)))
	}
	objects = append(objects, plist.String("leaf"))
	a, err = archiver.ReadArchive(archive(2, objects...))
	require.NoError(t, err)

	out = a.Print()
	require.Equal(t, levels, strings.Count(out, "NSArray{"))
	require.Equal(t, levels-1, strings.Count(out, "<ref UID("))
	// Strings are leaves and print inline at every reference.
	require.Equal(t, 2, strings.Count(out, "string(leaf)"))
}

// note is an application type decoded the way external coders are
// expected to use the Unarchiver.
type note struct {
	Title   string
	Created time.Time
	Tags    []string
	Pinned  bool
}

type noteCoder struct{}

func (noteCoder) ClassName() string { return "Note" }

func (noteCoder) Decode(u *archiver.Unarchiver) (interface{}, error) {
	var n note
	var err error
	if n.Title, err = u.DecodeString("title", true); err != nil {
		return nil, err
	}
	created, err := u.DecodeObjectOf("created", true, archiver.DateCoder{})
	if err != nil {
		return nil, err
	}
	n.Created = created.(time.Time)
	tags, err := u.DecodeObjectOf("tags", false, archiver.ArrayCoder{})
	if err != nil {
		return nil, err
	}
	for _, t := range tags.([]interface{}) {
		n.Tags = append(n.Tags, t.(string))
	}
	if n.Pinned, err = u.DecodeBool("pinned"); err != nil {
		return nil, err
	}
	return &n, nil
}

func TestApplicationCoder(t *testing.T) {
	pl := archive(1,
		instance(2,
			"title", plist.UID(3),
			"created", plist.UID(4),
			"tags", plist.UID(6),
		),
		class("Note", "NSObject"),
		plist.String("groceries"),
		instance(5, "NS.time", plist.Real(3600)),
		class("NSDate", "NSObject"),
		instance(7, "NS.objects", plist.NewArray(plist.UID(8), plist.UID(9))),
		class("NSArray", "NSObject"),
		plist.String("home"),
		plist.String("todo"),
	)

	v, err := archiver.Unarchive(noteCoder{}, pl)
	require.NoError(t, err)
	expected := &note{
		Title:   "groceries",
		Created: time.Date(2001, time.January, 1, 1, 0, 0, 0, time.UTC),
		Tags:    []string{"home", "todo"},
		Pinned:  true,
	}
	if diff := cmp.Diff(expected, v); diff != "" {
		t.Errorf("Note mismatch (-want +got):\n%s", diff)
	}
}
